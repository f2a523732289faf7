// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/voltsync/voltsync/internal/callback"
	"github.com/voltsync/voltsync/internal/catalog"
	"github.com/voltsync/voltsync/internal/config"
	"github.com/voltsync/voltsync/internal/events"
	"github.com/voltsync/voltsync/internal/health"
	"github.com/voltsync/voltsync/internal/logging"
	"github.com/voltsync/voltsync/internal/metrics"
	"github.com/voltsync/voltsync/internal/notification"
	"github.com/voltsync/voltsync/internal/pending"
	"github.com/voltsync/voltsync/internal/ratelimit"
	"github.com/voltsync/voltsync/internal/realtime"
	"github.com/voltsync/voltsync/internal/security"
	"github.com/voltsync/voltsync/internal/settlement"
	"github.com/voltsync/voltsync/internal/syncapi"
	"github.com/voltsync/voltsync/internal/traces"
)

const maxRequestBody = 1 << 20 // 1MB

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg             *config.Config
	logger          *slog.Logger
	db              *sql.DB // nil if using in-memory
	registry        *pending.Registry
	bridge          *syncapi.Bridge
	settlementStore settlement.Store
	catalogStore    catalog.Store
	ledgerClient    *settlement.HTTPLedgerClient
	poller          *settlement.Poller
	eventsPub       *events.Publisher
	realtimeHub     *realtime.Hub
	rateLimiter     *ratelimit.Limiter
	healthReg       *health.Registry
	router          *gin.Engine
	httpSrv         *http.Server
	tracesShutdown  func(context.Context) error
	cancelRunCtx    context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Tracing (no-op when no endpoint configured)
	shutdown, err := traces.Init(context.Background(), cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesShutdown = shutdown
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db

		ctx := context.Background()
		settlementStore := settlement.NewPostgresStore(db)
		if err := settlementStore.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate settlements schema: %w", err)
		}
		catalogStore := catalog.NewPostgresStore(db)
		if err := catalogStore.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate catalog schema: %w", err)
		}
		s.settlementStore = settlementStore
		s.catalogStore = catalogStore
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.healthReg.Register("database", db.PingContext)
	} else {
		s.settlementStore = settlement.NewMemoryStore()
		s.catalogStore = catalog.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Kafka event stream (optional)
	if cfg.KafkaBrokers != "" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		s.eventsPub = events.NewPublisher(brokers, events.DefaultTopic, s.logger)
		s.logger.Info("kafka event stream enabled", "brokers", len(brokers))
	}

	// Pending transaction registry and sync bridge
	s.registry = pending.NewRegistry(cfg.CallbackTimeout, s.logger)
	poster := syncapi.NewHTTPPoster(cfg.OutboundTimeout)
	creator := &settlementCreator{
		store:  s.settlementStore,
		hub:    s.realtimeHub,
		events: s.eventsPub,
	}
	s.bridge = syncapi.NewBridge(s.registry, poster, cfg.BPPURL, creator, s.logger)
	s.logger.Info("sync bridge enabled",
		"bppUrl", cfg.BPPURL, "callbackTimeout", cfg.CallbackTimeout)

	// Reconciliation poller (requires a ledger to poll)
	if cfg.LedgerURL != "" {
		s.ledgerClient = settlement.NewHTTPLedgerClient(cfg.LedgerURL, cfg.OutboundTimeout)

		var notifier settlement.Notifier
		if cfg.SettleCallbackURL != "" {
			notifier = settlement.NewHTTPNotifier(cfg.SettleCallbackURL, cfg.OutboundTimeout)
		}

		sinks := []settlement.EventSink{s.realtimeHub}
		if s.eventsPub != nil {
			sinks = append(sinks, s.eventsPub)
		}
		s.poller = settlement.NewPoller(
			s.settlementStore, s.ledgerClient, notifier,
			cfg.LedgerPollEvery, s.logger, sinks...,
		)
		s.logger.Info("settlement reconciliation enabled",
			"ledgerUrl", cfg.LedgerURL, "interval", cfg.LedgerPollEvery)

		s.healthReg.Register("ledger", s.ledgerClient.Health)
	} else {
		s.logger.Warn("LEDGER_URL not set, settlement reconciliation disabled")
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes(poster)

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit
	s.router.Use(security.RequestSizeMiddleware(maxRequestBody))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "req_unknown"
	}
	return "req_" + hex.EncodeToString(b)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes(poster syncapi.Poster) {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	api := s.router.Group("/api")
	api.GET("/health", s.healthHandler)

	// Synchronous protocol verbs
	syncHandler := syncapi.NewHandler(s.bridge, s.registry, s.cfg.BPPURL)
	syncHandler.RegisterRoutes(api)

	// Inbound protocol callbacks
	callbackHandler := callback.NewHandler(s.registry, s.logger)
	callbackHandler.RegisterRoutes(api)

	// Settlement queries
	settlementHandler := settlement.NewHandler(s.settlementStore, s.poller)
	settlementHandler.RegisterRoutes(api)

	// Catalog publish and queries
	catalogHandler := catalog.NewHandler(s.catalogStore, poster, s.cfg.BPPURL, s.realtimeHub, s.logger)
	catalogHandler.RegisterRoutes(api)

	// SMS notifications (optional)
	if s.cfg.SMSProviderURL != "" {
		provider := notification.NewHTTPProvider(s.cfg.SMSProviderURL, "VOLTSYNC", s.cfg.OutboundTimeout)
		notifHandler := notification.NewHandler(notification.NewService(provider), s.logger)
		notifHandler.RegisterRoutes(api)
		s.logger.Info("sms notifications enabled")
	}
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	body := gin.H{
		"status":              status,
		"checks":              statuses,
		"pendingTransactions": s.registry.Count(),
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	}
	if s.poller != nil {
		body["pollerRunning"] = s.poller.Running()
	}
	c.JSON(httpStatus, body)
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background loops, then blocks until a
// shutdown signal or context cancellation.
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start settlement poller
	if s.poller != nil {
		go s.poller.Start(runCtx)
	}

	// Collect DB pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, poller)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.poller != nil {
		s.poller.Stop()
		s.logger.Info("settlement poller stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.eventsPub != nil {
		if err := s.eventsPub.Close(); err != nil {
			s.logger.Error("kafka writer close error", "error", err)
		} else {
			s.logger.Info("kafka writer closed")
		}
	}

	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Adapters
// -----------------------------------------------------------------------------

// settlementCreator feeds confirmed trades into the settlement store and
// fans the confirmation out to the realtime hub and event stream.
type settlementCreator struct {
	store  settlement.Store
	hub    *realtime.Hub
	events *events.Publisher
}

func (sc *settlementCreator) Create(ctx context.Context, transactionID, orderItemID string, contractedQuantity float64) error {
	if _, err := sc.store.Create(ctx, transactionID, orderItemID, contractedQuantity); err != nil {
		return err
	}

	trade := map[string]any{
		"transactionId": transactionID,
		"orderItemId":   orderItemID,
		"quantityKwh":   contractedQuantity,
	}
	if sc.hub != nil {
		sc.hub.BroadcastTradeConfirmed(trade)
	}
	if sc.events != nil {
		sc.events.TradeConfirmed(ctx, transactionID, trade)
	}
	return nil
}
