package api

import (
	"context"
	"errors"
	"net/http"

	"PromptToVideo-server/models"
	"PromptToVideo-server/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ActorKey is the gin context key JWTAuth stores the caller under.
const ActorKey = "actor"

// Pipeline is the orchestrator surface the handlers drive; *service.Orchestrator implements it.
type Pipeline interface {
	Start(ctx context.Context, actor service.Actor, in service.IdeaInput, sink service.EventSink) (service.Result, error)
	ContinueMoodBoard(ctx context.Context, cp *models.Session, sel service.MoodBoardSelection, sink service.EventSink) (service.Result, error)
	ContinueCharacters(ctx context.Context, cp *models.Session, sel service.CharacterSelection, sink service.EventSink) (service.Result, error)
	Render(ctx context.Context, cp *models.Session, in service.RenderInput, sink service.EventSink) (service.Result, error)
	Rerun(ctx context.Context, cp *models.Session, in service.RerunInput, sink service.EventSink) (service.Result, error)
	Advance(ctx context.Context, actor service.Actor, cp *models.Session, in service.PhaseInput, sink service.EventSink) (service.Result, error)
}

// Handler 持有接口依赖
type Handler struct {
	pipeline    Pipeline
	db          *gorm.DB
	logger      *zap.Logger
	eventBuffer int
}

func NewHandler(p Pipeline, db *gorm.DB, eventBuffer int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pipeline: p, db: db, eventBuffer: eventBuffer, logger: logger.With(zap.String("component", "api"))}
}

func actorFrom(c *gin.Context) service.Actor {
	if v, ok := c.Get(ActorKey); ok {
		if a, ok := v.(service.Actor); ok {
			return a
		}
	}
	return service.Actor{}
}

// statusFor maps request-level orchestrator errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrWrongPhase):
		return http.StatusConflict
	case errors.Is(err, service.ErrShotNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
