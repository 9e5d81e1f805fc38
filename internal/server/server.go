// Package server wires the HTTP surface: middleware, routes, and the
// dependency graph behind them.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/docser/docser/config"
	"github.com/docser/docser/internal/agent"
	"github.com/docser/docser/internal/audit"
	"github.com/docser/docser/internal/auth"
	"github.com/docser/docser/internal/ratelimit"
	"github.com/docser/docser/internal/search"
	"github.com/docser/docser/internal/store"
	"github.com/docser/docser/internal/telemetry"
	"github.com/docser/docser/models"
	"github.com/docser/docser/provider"
)

const version = "0.1.0"

// meteredBackend wraps retrieval with the per-backend request counter.
type meteredBackend struct {
	next    search.Backend
	mode    string
	metrics *telemetry.Metrics
}

func (b meteredBackend) Search(ctx context.Context, query string, principal models.Principal, top int) ([]models.DocumentChunk, error) {
	chunks, err := b.next.Search(ctx, query, principal, top)
	b.metrics.RecordRetrieval(b.mode, err)
	return chunks, err
}

// Run builds the dependency graph from cfg and serves until the listener
// fails. Everything under /api requires a bearer token; health, metrics and
// docs stay open for probes and scrapes.
func Run(cfg *config.Config, logger *zap.Logger) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.HTTPErrorHandler = newHTTPErrorHandler(logger)

	origins := cfg.Server.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	metrics := telemetry.New(version)

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"name":    "Docser Document Q&A API",
			"version": version,
			"docs":    "/api/docs",
			"health":  "/healthz",
		})
	})
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:    "healthy",
			Version:   version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})
	registerDocs(e)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}

	ctx := context.Background()
	if err := store.Migrate("file://migrations", store.BuildDSN(cfg.Storage.Postgres), "up", 0); err != nil {
		logger.Warn("migrations not applied", zap.Error(err))
	}
	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return fmt.Errorf("store init: %w", err)
	}

	llm, err := provider.NewProvider(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("llm provider init: %w", err)
	}

	var tokens search.TokenProvider
	if search.Mode(cfg.Search.Mode) == search.ModeKBRemote {
		tokens = auth.NewRequestTokenProvider(auth.NewExchanger(cfg.Auth, logger))
	}
	backend, err := search.New(cfg.Search, llm, tokens, logger)
	if err != nil {
		return fmt.Errorf("search backend init: %w", err)
	}
	backend = meteredBackend{next: backend, mode: cfg.Search.Mode, metrics: metrics}

	qa := agent.New(llm, backend, cfg.Search.Top, logger)
	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      cfg.RateLimit.Window,
	})
	recorder := audit.NewRecorder(logger)

	api := e.Group("/api")
	api.Use(auth.Middleware([]byte(cfg.Server.JWTSecret), cfg.Auth, logger))

	ch := &ChatHandler{
		Store:    st,
		Agent:    qa,
		Limiter:  limiter,
		Audit:    recorder,
		Metrics:  metrics,
		MaxInput: cfg.Server.MaxInputLength,
		Logger:   logger,
	}
	ch.Register(api)

	cv := &ConversationsHandler{Store: st, Logger: logger}
	cv.Register(api)

	ret := &Retention{Store: st, Interval: time.Hour, Logger: logger, Stop: make(chan struct{})}
	ret.Start()
	defer close(ret.Stop)

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8080"
	}
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	logger.Info("listening", zap.String("addr", addr))
	return e.Start(addr)
}
