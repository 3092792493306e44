// Package api exposes the owner API and the public signing surface over
// HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/VaultSign/internal/apperr"
	"github.com/dharsanguruparan/VaultSign/internal/auth"
	"github.com/dharsanguruparan/VaultSign/internal/config"
	"github.com/dharsanguruparan/VaultSign/internal/lifecycle"
	"github.com/dharsanguruparan/VaultSign/internal/positions"
	"github.com/dharsanguruparan/VaultSign/internal/signing"
	"github.com/dharsanguruparan/VaultSign/internal/tasks"
)

// Downloads serves objects behind HMAC-signed URLs. Only the memory object
// store needs it; S3 and MinIO presign their own URLs.
type Downloads interface {
	Open(key, expires, sig string) ([]byte, string, error)
}

// Deps are the services the HTTP layer calls.
type Deps struct {
	Tasks     *tasks.Service
	Positions *positions.Store
	Signing   *signing.Service
	Verifier  auth.Verifier
	Downloads Downloads
}

// Server hosts the HTTP endpoints.
type Server struct {
	cfg    *config.Config
	deps   Deps
	log    zerolog.Logger
	engine *gin.Engine
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	return &Server{cfg: cfg, deps: deps, log: log}
}

// Handler returns the routed gin engine.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		if !s.cfg.Local() {
			gin.SetMode(gin.ReleaseMode)
		}
		s.engine = s.routes()
	})
	return s.engine
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("addr", s.cfg.Address).Msg("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.loggingMiddleware(), corsMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.deps.Downloads != nil {
		r.GET("/download", s.handleDownload)
	}

	api := r.Group("/api")

	sign := api.Group("/sign/:token")
	sign.GET("", s.handleSigningView)
	sign.GET("/validate", s.handleValidateToken)
	sign.PUT("/positions/:id", s.handleSubmitValue)
	sign.POST("/complete", s.handleComplete)

	owner := api.Group("", auth.Middleware(s.deps.Verifier))
	owner.GET("/tasks", s.handleListTasks)
	owner.POST("/tasks", s.handleCreateTask)
	owner.GET("/tasks/:id", s.handleGetTask)
	owner.PATCH("/tasks/:id", s.handleUpdateTask)
	owner.DELETE("/tasks/:id", s.handleDeleteTask)
	owner.POST("/tasks/:id/status", s.handleTransition)
	owner.POST("/tasks/:id/send", s.handleSend)
	owner.POST("/tasks/:id/finalize", s.handleRegenerateFinal)
	owner.GET("/tasks/:id/files", s.handleListFiles)
	owner.POST("/tasks/:id/files", s.handleUpload)
	owner.GET("/tasks/:id/recipients", s.handleListRecipients)
	owner.POST("/tasks/:id/recipients", s.handleAddRecipient)

	owner.GET("/files/:id/url", s.handleFileURL)
	owner.DELETE("/files/:id", s.handleDeleteFile)

	owner.PATCH("/recipients/:id", s.handleUpdateRecipient)
	owner.DELETE("/recipients/:id", s.handleRemoveRecipient)
	owner.POST("/recipients/:id/token", s.handleRegenerateToken)
	owner.GET("/recipients/:id/positions", s.handleListPositions)

	owner.POST("/positions", s.handleCreatePosition)
	owner.POST("/positions/validate", s.handleValidatePosition)
	owner.PATCH("/positions/:id", s.handleUpdatePosition)
	owner.DELETE("/positions/:id", s.handleDeletePosition)
	return r
}

// fail writes err using the apperr status mapping. Unclassified errors are
// logged and reported without detail.
func (s *Server) fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.KindOf(err)
	body := gin.H{"error": err.Error(), "kind": kind.String()}
	if kind == apperr.KindInternal {
		s.log.Error().Err(err).Str("method", c.Request.Method).Str("path", c.FullPath()).Msg("request failed")
		body["error"] = "internal error"
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		if ae.Code != "" {
			body["code"] = ae.Code
		}
		if ae.Field != "" {
			body["field"] = ae.Field
		}
	}
	var te *lifecycle.TransitionError
	if errors.As(err, &te) {
		body["current"] = te.Current
		body["attempted"] = te.Attempted
		body["allowed"] = te.Allowed
		body["rule"] = te.Rule
	}
	var pe *signing.PendingFieldsError
	if errors.As(err, &pe) {
		body["pending"] = pe.Pending
	}
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		s.fail(c, apperr.Validation("body", "invalid JSON body: %v", err))
		return false
	}
	return true
}

func identity(c *gin.Context) auth.Identity {
	id, _ := auth.FromContext(c)
	return id
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info().
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
