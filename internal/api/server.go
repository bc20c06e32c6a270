// Package api exposes the orchestrator over HTTP with gin.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loan-orchestrator/internal/admin"
	"loan-orchestrator/internal/assistant"
	"loan-orchestrator/internal/auth"
	"loan-orchestrator/internal/common/config"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/contract"
	"loan-orchestrator/internal/country"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/orchestrator"
	"loan-orchestrator/internal/search"
)

// Searcher is satisfied by *search.Indexer.
type Searcher interface {
	Search(ctx context.Context, f models.ApplicationFilter) (*search.Result, error)
}

// EvidenceReader is satisfied by the evidence stores.
type EvidenceReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Check reports whether a dependency can serve traffic.
type Check func(ctx context.Context) error

type Deps struct {
	Orchestrator *orchestrator.Service
	Admin        *admin.Gateway
	Auth         *auth.Service
	Assistant    *assistant.Assistant
	Contracts    *contract.Renderer
	Countries    *country.Table

	// Optional.
	Search   Searcher
	Evidence EvidenceReader
	Checks   map[string]Check
}

type Server struct {
	deps   Deps
	router *gin.Engine
	logger logger.Logger
}

func NewServer(cfg config.AppConfig, deps Deps, log logger.Logger) *Server {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		deps:   deps,
		router: gin.New(),
		logger: log.WithFields(map[string]interface{}{"component": "api"}),
	}

	s.router.Use(gin.Recovery())
	s.router.Use(requestLogger(s.logger))
	s.router.Use(requestMetrics())
	s.router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	s.routes()
	return s
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.GET("/health", s.health)
	r.GET("/ready", s.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.GET("/countries", s.listCountries)
	v1.GET("/countries/:code/quote", s.quote)

	authGroup := v1.Group("/auth")
	authGroup.POST("/register", s.register)
	authGroup.POST("/otp/send", s.sendOTP)
	authGroup.POST("/otp/verify", s.verifyOTP)
	authGroup.POST("/login", s.login)

	secured := v1.Group("", s.authenticate())
	secured.POST("/applications", s.startApplication)
	secured.GET("/applications", s.listApplications)
	secured.GET("/applications/:id", s.getApplication)
	secured.POST("/applications/:id/documents", s.submitDocuments)
	secured.POST("/applications/:id/biometrics", s.submitBiometrics)
	secured.POST("/applications/:id/contract", s.generateContract)
	secured.POST("/applications/:id/contract/confirm", s.confirmContract)
	secured.GET("/applications/:id/contract.pdf", s.contractPDF)
	secured.POST("/assistant/messages", s.ask)
	secured.GET("/assistant/messages", s.history)
	secured.DELETE("/assistant/messages", s.resetChat)

	adminGroup := secured.Group("/admin", requireAdmin())
	adminGroup.GET("/applications", s.listApplications)
	adminGroup.GET("/applications/search", s.searchApplications)
	adminGroup.GET("/applications/:id/evidence/:index", s.evidence)
	adminGroup.POST("/applications/:id/approve", s.approve)
	adminGroup.POST("/applications/:id/reject", s.reject)
	adminGroup.POST("/applications/:id/request-documents", s.requestDocuments)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	c.JSON(status, gin.H{"ready": status == http.StatusOK, "checks": results})
}
