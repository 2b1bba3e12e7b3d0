package routers

import (
	"PromptToVideo-server/routers/api"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthConfig configures bearer-token checking; an empty secret disables it and every
// caller becomes an anonymous actor holding RequiredRole.
type AuthConfig struct {
	JWTSecret    string
	Issuer       string
	RequiredRole string
}

func InitRouter(h *api.Handler, auth AuthConfig, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(Recovery(logger), RequestLogger(logger))
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1/api")
	if auth.JWTSecret != "" {
		v1.Use(JWTAuth(auth.JWTSecret, auth.Issuer, logger))
	} else {
		logger.Warn("JWT secret not configured, API is unauthenticated")
		v1.Use(anonymousActor(auth.RequiredRole))
	}
	{
		v1.POST("/sessions", h.StartSession)
		v1.GET("/sessions/wss", h.SessionWebSocket)
		v1.POST("/sessions/:session_id/moodboard", h.ContinueMoodBoard)
		v1.POST("/sessions/:session_id/characters", h.ContinueCharacters)
		v1.POST("/sessions/:session_id/render", h.Render)
		v1.POST("/sessions/:session_id/shots/:index/rerun", h.RerunShot)
		v1.POST("/sessions/:session_id/advance", h.Advance)
		v1.GET("/sessions/:session_id/records", h.ListRecords)
	}
	return r
}
