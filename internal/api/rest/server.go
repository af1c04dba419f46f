// Package rest wires the ingestion pipeline together and serves its HTTP
// surface: the webhook endpoint, call control routes, the observer
// websocket, and operational endpoints.
package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/strataline/callflow-backend/internal/api/websocket"
	"github.com/strataline/callflow-backend/internal/infrastructure/cache"
	"github.com/strataline/callflow-backend/internal/infrastructure/config"
	"github.com/strataline/callflow-backend/internal/infrastructure/database"
	"github.com/strataline/callflow-backend/internal/infrastructure/provider"
	"github.com/strataline/callflow-backend/internal/infrastructure/repository"
	"github.com/strataline/callflow-backend/internal/metrics"
	"github.com/strataline/callflow-backend/internal/service/callcontrol"
	"github.com/strataline/callflow-backend/internal/service/ingestion"
	"github.com/strataline/callflow-backend/internal/service/reconciliation"
)

// Server is the assembled service.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	zlogger    *zap.Logger
	httpServer *http.Server
	hub        *websocket.Hub
	closers    []func()
}

// NewServer builds the full pipeline from configuration. Optional backends
// degrade explicitly: no database URL means the in-memory store, no redis
// URL means in-process locking and local rate limiting.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	zlogger, err := buildZapLogger(cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("building zap logger: %w", err)
	}

	s := &Server{cfg: cfg, logger: logger, zlogger: zlogger}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Storage.
	var (
		callRepo repository.CallRepository
		leadRepo repository.LeadRepository
		healthy  func(ctx context.Context) error
	)
	if cfg.Database.URL != "" {
		pool, err := database.NewConnectionPool(&cfg.Database, zlogger)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		db := pool.DB()
		callRepo = repository.NewCallRepository(db)
		leadRepo = repository.NewLeadRepository(db)
		healthy = pool.Ping
	} else {
		logger.Warn("no database configured, using in-memory store")
		callRepo = repository.NewMemoryCallRepository()
		leadRepo = repository.NewMemoryLeadRepository()
	}

	// Coordination and rate limiting.
	var (
		locker      reconciliation.RecordLocker
		rateLimiter cache.RateLimiter
	)
	if cfg.Redis.URL != "" {
		client, err := cache.NewRedisClient(&cfg.Redis, zlogger)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		s.closers = append(s.closers, func() { client.Close() })
		locker = cache.NewRedisRecordLocker(client, zlogger)
		rateLimiter = cache.NewRedisRateLimiter(client, zlogger)
	} else {
		logger.Warn("no redis configured, locking and rate limiting stay in-process")
		rateLimiter = newLocalRateLimiter(cfg.Webhook.Burst)
	}

	// Pipeline.
	s.hub = websocket.NewHub(zlogger, hubMetrics{m})

	engine := reconciliation.NewEngine(callRepo, leadRepo, s.hub, logger, reconciliation.Config{
		RequireExistingRecords: cfg.Reconciliation.RequireExistingRecords,
		Locker:                 locker,
		LockTTL:                cfg.Reconciliation.LockTTL,
	})

	providerClient := provider.NewClient(&cfg.Provider)
	control := callcontrol.NewService(providerClient, callRepo, leadRepo, engine, s.hub, logger)

	dispatcher := ingestion.NewDispatcher(engine, logger, ingestion.Config{
		Secret:          cfg.Webhook.Secret,
		DefaultProvider: cfg.Provider.Name,
		Metrics:         ingestionMetrics{m},
	})

	handlers := NewHandlers(dispatcher, control, logger, cfg.Version, healthy)
	wsHandler := websocket.NewHandler(s.hub, control, zlogger)

	// Routes.
	mux := http.NewServeMux()
	withMetrics := func(name string, h http.HandlerFunc) http.Handler {
		return metricsMiddleware(m, name)(h)
	}

	rateLimited := rateLimitMiddleware(rateLimiter, cfg.Webhook.RequestsPerSecond, logger)
	mux.Handle("POST /api/v1/webhooks/voice",
		rateLimited(withMetrics("webhook", handlers.handleWebhook)))

	mux.Handle("POST /api/v1/calls", withMetrics("dial_call", handlers.handleDialCall))
	mux.Handle("GET /api/v1/calls", withMetrics("list_calls", handlers.handleListCalls))
	mux.Handle("GET /api/v1/calls/{id}", withMetrics("get_call", handlers.handleGetCall))
	mux.Handle("DELETE /api/v1/calls/{id}", withMetrics("end_call", handlers.handleEndCall))
	mux.Handle("PATCH /api/v1/calls/{id}/notes", withMetrics("add_note", handlers.handleAddNote))

	mux.Handle("GET /ws", wsHandler)
	mux.HandleFunc("GET /healthz", handlers.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      loggingMiddleware(logger)(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// Handler exposes the assembled HTTP handler. Test hook.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	cancelHub()
	for _, closeFn := range s.closers {
		closeFn()
	}
	s.zlogger.Sync()
	return err
}

func buildZapLogger(environment string) (*zap.Logger, error) {
	if environment == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// ingestionMetrics adapts the Prometheus collectors to the dispatcher's
// collector interface.
type ingestionMetrics struct {
	m *metrics.Metrics
}

func (a ingestionMetrics) EventReceived(provider string) {
	a.m.EventsReceived.WithLabelValues(provider).Inc()
}

func (a ingestionMetrics) EventAccepted(eventType string, outcome reconciliation.Outcome) {
	a.m.EventsAccepted.WithLabelValues(eventType, outcome.String()).Inc()
}

func (a ingestionMetrics) EventRejected(reason string) {
	a.m.EventsRejected.WithLabelValues(reason).Inc()
}

// hubMetrics adapts the Prometheus collectors to the hub's collector
// interface.
type hubMetrics struct {
	m *metrics.Metrics
}

func (a hubMetrics) ObserverConnected()    { a.m.ObserversActive.Inc() }
func (a hubMetrics) ObserverDisconnected() { a.m.ObserversActive.Dec() }
func (a hubMetrics) BroadcastSent()        { a.m.BroadcastsSent.Inc() }
