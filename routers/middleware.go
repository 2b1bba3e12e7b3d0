package routers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"PromptToVideo-server/routers/api"
	"PromptToVideo-server/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()),
		)
	}
}

// Recovery 捕获 panic，返回 500
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		logger.Error("panic recovered", zap.Any("error", err), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

// JWTAuth validates an HS256 bearer token and stores the caller as a service.Actor.
// Browsers cannot set headers on a websocket handshake, so access_token in the
// query string is accepted as well.
func JWTAuth(secret, issuer string, logger *zap.Logger) gin.HandlerFunc {
	key := []byte(secret)
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}
	keyFunc := func(token *jwt.Token) (any, error) {
		if len(key) == 0 {
			return nil, fmt.Errorf("HMAC secret not configured")
		}
		return key, nil
	}

	return func(c *gin.Context) {
		tokenStr := ""
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			tokenStr = strings.TrimPrefix(h, "Bearer ")
		} else {
			tokenStr = c.Query("access_token")
		}
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed Authorization header"})
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, parserOpts...)
		if err != nil || !token.Valid {
			logger.Debug("JWT validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		actor := service.Actor{}
		if id, ok := claims["user_id"].(string); ok && id != "" {
			actor.ID = id
		} else if sub, err := claims.GetSubject(); err == nil {
			actor.ID = sub
		}
		if rolesRaw, ok := claims["roles"].([]any); ok {
			for _, r := range rolesRaw {
				if s, ok := r.(string); ok {
					actor.Roles = append(actor.Roles, s)
				}
			}
		}
		c.Set(api.ActorKey, actor)
		c.Next()
	}
}

// anonymousActor stands in for JWTAuth when no secret is configured. It carries the
// required role so an unauthenticated dev setup can still start sessions.
func anonymousActor(role string) gin.HandlerFunc {
	actor := service.Actor{ID: "anonymous"}
	if role != "" {
		actor.Roles = []string{role}
	}
	return func(c *gin.Context) {
		c.Set(api.ActorKey, actor)
		c.Next()
	}
}
