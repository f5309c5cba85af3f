// Package api implements the DevLens HTTP surface: GitHub login, repository
// analysis and dashboards, hybrid code search, grounded chat, share links and
// API key management. Handlers stay thin; pipeline work happens in the
// workers and all persistence goes through the db store.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/devlens/devlens/auth"
	"github.com/devlens/devlens/config"
	"github.com/devlens/devlens/db"
	"github.com/devlens/devlens/github"
	"github.com/devlens/devlens/qdrant"
	"github.com/devlens/devlens/ratelimit"
	"github.com/devlens/devlens/telemetry"
)

// Server is the API process: one echo instance plus the shared clients the
// handlers need.
type Server struct {
	echo    *echo.Echo
	cfg     *config.Config
	store   *db.Store
	rdb     redis.UniversalClient
	tokens  *auth.TokenService
	oauth   *github.OAuth
	gh      *github.Client
	vectors *qdrant.Client
	log     *logrus.Entry
}

// NewServer wires middleware and routes. The caller owns the passed clients.
func NewServer(cfg *config.Config, store *db.Store, rdb redis.UniversalClient, tokens *auth.TokenService, oauth *github.OAuth, gh *github.Client, vectors *qdrant.Client, log *logrus.Entry) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		rdb:     rdb,
		tokens:  tokens,
		oauth:   oauth,
		gh:      gh,
		vectors: vectors,
		log:     log,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = HTTPErrorHandler(log)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("2M"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowCredentials: true,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			csrfHeader,
		},
	}))
	e.Use(telemetry.TraceMiddleware())
	e.Use(requestMetrics)

	limiter := ratelimit.NewLimiter(rdb,
		time.Duration(cfg.RateLimitWindowSeconds)*time.Second,
		cfg.RateLimitAuthPerWindow,
		cfg.RateLimitGuestPerWindow,
	)
	e.Use(ratelimit.Middleware(limiter, ratelimit.DefaultScope, s.limiterIdentity, log))

	s.echo = e
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo

	e.GET("/metrics", echo.WrapHandler(telemetry.Handler()))
	e.GET("/health", s.handleHealth)

	v1 := e.Group("/api/v1")
	v1.GET("/health", s.handleHealth)
	v1.GET("/health/deps", s.handleHealthDeps)

	v1.GET("/auth/github", s.handleGitHubLogin)
	v1.GET("/auth/github/callback", s.handleGitHubCallback)
	v1.POST("/auth/refresh", s.handleRefresh)
	v1.DELETE("/auth/logout", s.handleLogout)
	v1.GET("/auth/me", s.handleMe, s.requireUser)

	v1.POST("/auth/api-keys", s.handleCreateAPIKey, s.requireUser)
	v1.GET("/auth/api-keys", s.handleListAPIKeys, s.requireUser)
	v1.DELETE("/auth/api-keys/:key_id", s.handleRevokeAPIKey, s.requireUser)

	v1.POST("/repos/analyze", s.handleAnalyze)
	v1.GET("/repos/:repo_id/status", s.handleStatusStream)
	v1.GET("/repos/:repo_id/dashboard", s.handleDashboard)
	v1.GET("/repos/:repo_id/graph", s.handleGraph)
	v1.GET("/repos/:repo_id/search/lexical", s.handleLexicalSearch)
	v1.GET("/repos/:repo_id/search/hybrid", s.handleHybridSearch)

	v1.GET("/chat/sessions", s.handleListChatSessions, s.requireUser)
	v1.POST("/chat/sessions", s.handleCreateChatSession, s.requireUser)
	v1.GET("/chat/sessions/:session_id", s.handleGetChatSession, s.requireUser)
	v1.DELETE("/chat/sessions/:session_id", s.handleDeleteChatSession, s.requireUser)
	v1.GET("/chat/repos/:repo_id/suggestions", s.handleChatSuggestions, s.requireUser)
	v1.POST("/chat/sessions/:session_id/message", s.handleChatMessage, s.requireUser)

	v1.POST("/export/:repo_id/share", s.handleCreateShare, s.requireUser)
	v1.DELETE("/export/share/:share_id", s.handleRevokeShare, s.requireUser)
	v1.GET("/share/:token", s.handleResolveShare)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", s.cfg.ServerPort)
		s.log.WithField("addr", addr).Info("api server started")
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("api server shutting down")
	return s.echo.Shutdown(shutdownCtx)
}
