package server

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/relayforge/relayforge/internal/config"
	"github.com/relayforge/relayforge/internal/handler"
	"github.com/relayforge/relayforge/internal/integration"
	"github.com/relayforge/relayforge/internal/invoker"
	"github.com/relayforge/relayforge/internal/observability"
	"github.com/relayforge/relayforge/internal/repository"
	"github.com/relayforge/relayforge/internal/retry"
)

// Server holds the Echo app and dependencies.
type Server struct {
	Echo   *echo.Echo
	Config *config.Config
	Engine *retry.Engine
}

// New builds the Echo server, wires the delivery pipeline and registers
// routes. Caller must provide a non-nil pool.
func New(cfg *config.Config, pool *pgxpool.Pool, nrApp *newrelic.Application) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover(), middleware.Logger())
	if nrApp != nil {
		e.Use(observability.Middleware(nrApp))
	}

	clients := repository.NewClientRepository(pool)
	mappings := repository.NewMappingRepository(pool)
	records := repository.NewSourceDataRepository(pool, cfg.Source.AllowedTables, cfg.Source.IDColumn)
	audits := repository.NewAuditRepository(pool)
	retries := repository.NewRetryRepository(pool)

	transport := invoker.New(cfg.Invoker.DefaultTimeoutSeconds)

	svc := integration.NewService(clients, mappings, records, audits, retries, transport,
		integration.Options{
			RetryInterval:    cfg.Retry.Interval(),
			RetryMaxAttempts: cfg.Retry.MaxAttempts,
		})

	engine := retry.NewEngine(retries, audits, transport, retry.Config{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		Interval:      cfg.Retry.Interval(),
		SweepInterval: cfg.Retry.SweepInterval(),
		BatchSize:     cfg.Retry.BatchSize,
		Workers:       cfg.Retry.Workers,
		Retention:     cfg.Retry.Retention(),
	})

	h := handler.NewIntegrationHandler(svc, engine, audits, retries)

	v1 := e.Group("/v1/integration")
	v1.POST("/invoke", h.Invoke)
	v1.POST("/batch/:clientId", h.InvokeBatch)
	v1.POST("/validate", h.Validate)
	v1.GET("/audit/correlation/:correlationId", h.AuditByCorrelation)
	v1.GET("/audit/:clientId", h.AuditStats)
	v1.GET("/retry/stats", h.RetryStats)
	v1.GET("/retry/:clientId", h.PendingRetries)
	v1.POST("/retry/:callId/trigger", h.TriggerRetry)
	v1.DELETE("/retry/:callId", h.CancelRetry)
	v1.GET("/report/:clientId", h.Report)
	v1.GET("/health", h.Health)

	return &Server{Echo: e, Config: cfg, Engine: engine}
}

// Start starts the HTTP server. Blocks until the context is cancelled or
// the server fails.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.Shutdown(context.Background())
	}()
	addr := ":" + s.Config.Server.Port
	return s.Echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}
