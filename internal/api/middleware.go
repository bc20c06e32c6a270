package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/common/metrics"
	"loan-orchestrator/internal/models"
)

const actorKey = "actor"

func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := map[string]interface{}{
			"method":   c.Request.Method,
			"path":     routeOf(c),
			"status":   status,
			"duration": time.Since(start).String(),
			"clientIp": c.ClientIP(),
			"bytes":    c.Writer.Size(),
		}
		switch {
		case status >= 500:
			log.Error("http_request", fields)
		case status >= 400:
			log.Warn("http_request", fields)
		default:
			log.Debug("http_request", fields)
		}
	}
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := routeOf(c)
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// authenticate resolves the bearer token into an actor.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			abort(c, errors.NewAuthenticationError("missing bearer token"))
			return
		}
		actor, err := s.deps.Auth.Authenticate(strings.TrimSpace(token))
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !actorOf(c).IsAdmin() {
			abort(c, errors.NewUnauthorizedError("admin role required"))
			return
		}
		c.Next()
	}
}

func actorOf(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return models.Actor{}
}

type errorResponse struct {
	Error *errors.StandardError `json:"error"`
}

func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errors.HTTPStatus(err), errorResponse{Error: errors.Normalize(err)})
}

func fail(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	c.JSON(status, errorResponse{Error: errors.Normalize(err)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: errors.NewInvalidInputError(err.Error())})
}
