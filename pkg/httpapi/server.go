// Package httpapi implements the HTTP/JSON wire surface: a Gin router
// wiring bearer-token auth, per-project rate limiting, and the Memory, ACE,
// and Interaction Event repositories to their documented endpoints.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegislabs/aegis-memory/pkg/ace"
	"github.com/aegislabs/aegis-memory/pkg/auth"
	"github.com/aegislabs/aegis-memory/pkg/config"
	"github.com/aegislabs/aegis-memory/pkg/database"
	"github.com/aegislabs/aegis-memory/pkg/interaction"
	"github.com/aegislabs/aegis-memory/pkg/memory"
	"github.com/aegislabs/aegis-memory/pkg/ratelimit"
	"github.com/aegislabs/aegis-memory/pkg/version"
)

// Server is the HTTP API server: a thin Gin router over the repository layer.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	cfg         *config.Config
	db          *sql.DB
	authn       auth.Authenticator
	limiter     ratelimit.Limiter
	memories    *memory.Repository
	ace         *ace.Repository
	interaction *interaction.Repository
}

// NewServer builds the router and registers every route.
func NewServer(cfg *config.Config, db *sql.DB, authn auth.Authenticator, limiter ratelimit.Limiter, memories *memory.Repository, aceRepo *ace.Repository, interactionRepo *interaction.Repository) *Server {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == config.EnvDevelopment {
		gin.SetMode(gin.DebugMode)
	}

	s := &Server{
		engine:      gin.New(),
		cfg:         cfg,
		db:          db,
		authn:       authn,
		limiter:     limiter,
		memories:    memories,
		ace:         aceRepo,
		interaction: interactionRepo,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.Use(gin.Recovery(), correlationID(), securityHeaders(), requestMetrics())

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)
	if s.cfg.EnableMetrics {
		s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := s.engine.Group("/")
	api.Use(s.authenticate(), s.rateLimit())

	api.POST("/memories/", s.handleAddMemory)
	api.POST("/memories/batch", s.handleAddBatch)
	api.POST("/memories/query", s.handleQuery)
	api.POST("/memories/query/cross-agent", s.handleQueryCrossAgent)
	api.GET("/memories/:id", s.handleGetMemory)
	api.DELETE("/memories/:id", s.handleDeleteMemory)
	api.POST("/memories/export", s.handleExport)
	api.POST("/memories/import", s.handleImport)

	api.POST("/memories/typed/:type", s.handleAddTyped)
	api.POST("/memories/typed/query", s.handleQuery)
	api.GET("/memories/typed/episodic/session/:session_id", s.handleTypedSession)
	api.GET("/memories/typed/semantic/entity/:entity_id", s.handleTypedEntity)

	api.POST("/ace/vote/:id", s.handleVote)
	api.POST("/ace/delta", s.handleDelta)
	api.POST("/ace/reflection", s.handleReflection)
	api.POST("/ace/session", s.handleCreateSession)
	api.PATCH("/ace/session/:id", s.handleUpdateSession)
	api.GET("/ace/session/:id", s.handleGetSession)
	api.POST("/ace/feature", s.handleCreateFeature)
	api.PATCH("/ace/feature/:id", s.handleUpdateFeature)
	api.GET("/ace/feature/:id", s.handleGetFeature)
	api.GET("/ace/feature", s.handleListFeatures)
	api.POST("/ace/playbook", s.handlePlaybook)
	api.POST("/ace/run", s.handleStartRun)
	api.POST("/ace/run/:id/complete", s.handleCompleteRun)
	api.GET("/ace/run/:id", s.handleGetRun)
	api.POST("/ace/curate", s.handleCurate)

	api.POST("/interaction-events/", s.handleInsertInteraction)
	api.GET("/interaction-events/session/:id", s.handleInteractionBySession)
	api.GET("/interaction-events/agent/:id", s.handleInteractionByAgent)
	api.POST("/interaction-events/search", s.handleInteractionSearch)
	api.GET("/interaction-events/:id", s.handleInteractionChain)
}

// Start runs the server on cfg.HTTPAddr (blocking).
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Full()})
}

func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": dbHealth})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "database": dbHealth})
}
