// Package api exposes discovery, inventory and account management over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/kartta/internal/account"
	"github.com/yairfalse/kartta/internal/daemon"
	"github.com/yairfalse/kartta/internal/discovery"
	"github.com/yairfalse/kartta/internal/journal"
	"github.com/yairfalse/kartta/storage"
)

// Discoverer runs a synchronous discovery pass.
type Discoverer interface {
	DiscoverAll(ctx context.Context) (discovery.Summary, error)
}

// Accounts is the account management surface.
type Accounts interface {
	Add(ctx context.Context, in account.Input) (string, error)
	List(ctx context.Context) ([]account.Summary, error)
	Remove(ctx context.Context, id string) error
}

// HealthReporter reports scheduler health.
type HealthReporter interface {
	Health() daemon.HealthStatus
}

// ChangeLog serves the most recent journaled changes.
type ChangeLog interface {
	Recent(limit int) ([]journal.Entry, error)
}

// Deps are the collaborators served by the router. Health, Ready, Changes
// and Metrics are optional.
type Deps struct {
	Discovery   Discoverer
	Accounts    Accounts
	Resources   storage.ResourceStore
	Changes     ChangeLog
	Health      HealthReporter
	Ready       func(ctx context.Context) error
	Metrics     http.Handler
	CORSOrigins []string
}

// Server holds the gin router.
type Server struct {
	deps   Deps
	engine *gin.Engine
}

// New builds the router.
func New(deps Deps) *Server {
	s := &Server{deps: deps, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger(), corsMiddleware(deps.CORSOrigins))
	s.routes()
	return s
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/-/ready", s.ready)
	if s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/discovery", s.triggerDiscovery)

		v1.GET("/resources", s.queryResources)
		v1.PATCH("/resources", s.starResource)

		if s.deps.Changes != nil {
			v1.GET("/changes", s.recentChanges)
		}

		v1.GET("/accounts", s.listAccounts)
		v1.POST("/accounts", s.addAccount)
		v1.DELETE("/accounts", s.removeAccount)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Debug()
		if status >= http.StatusInternalServerError {
			event = log.Warn()
		}
		event.Ctx(c.Request.Context()).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	}
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Health.Health())
}

func (s *Server) ready(c *gin.Context) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(c.Request.Context()); err != nil {
			log.Warn().Err(err).Msg("readiness check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func fail(c *gin.Context, status int, msg string, err error) {
	body := gin.H{"success": false, "error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(status, body)
}
