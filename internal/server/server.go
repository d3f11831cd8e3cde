// Package server wires the stores, services and HTTP routes together.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/paybox/internal/auth"
	"github.com/mbd888/paybox/internal/config"
	"github.com/mbd888/paybox/internal/health"
	"github.com/mbd888/paybox/internal/idgen"
	"github.com/mbd888/paybox/internal/logging"
	"github.com/mbd888/paybox/internal/merchant"
	"github.com/mbd888/paybox/internal/metrics"
	"github.com/mbd888/paybox/internal/paybox"
	"github.com/mbd888/paybox/internal/payment"
	"github.com/mbd888/paybox/internal/ratelimit"
	"github.com/mbd888/paybox/internal/realtime"
	"github.com/mbd888/paybox/internal/security"
	"github.com/mbd888/paybox/internal/traces"
	"github.com/mbd888/paybox/internal/validation"
	"github.com/mbd888/paybox/internal/webhooks"
	"github.com/mbd888/paybox/migrations"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	db          *sql.DB // nil if using in-memory
	merchants   *merchant.Service
	payments    *payment.Service
	authMgr     *auth.Manager
	webhooks    *webhooks.Dispatcher
	webhookDB   webhooks.Store
	hub         *realtime.Hub
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	stopTracing  func(context.Context) error
	cancelRunCtx context.CancelFunc

	ready atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server: it opens and migrates the database when one is
// configured, registers the configured acquirer and its API key, then
// builds the router.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := logging.WithLogger(context.Background(), s.logger)

	stopTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, cfg.Version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.stopTracing = stopTracing

	var (
		merchantStore merchant.Store
		paymentStore  payment.Store
		keyStore      auth.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.db = db
		n, err := migrations.Up(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.logger.Info("using PostgreSQL storage", "dsn", maskDSN(cfg.DatabaseURL), "migrations_applied", n)

		merchantStore = merchant.NewPostgresStore(db)
		paymentStore = payment.NewPostgresStore(db)
		keyStore = auth.NewPostgresStore(db)
		s.webhookDB = webhooks.NewPostgresStore(db)
	} else {
		s.logger.Warn("DATABASE_URL not set, using in-memory storage; data is lost on restart")
		merchantStore = merchant.NewMemoryStore()
		paymentStore = payment.NewMemoryStore()
		keyStore = auth.NewMemoryStore()
		s.webhookDB = webhooks.NewMemoryStore()
	}

	s.merchants = merchant.NewService(merchantStore, cfg.BaseURL)
	if err := s.merchants.Register(ctx, acquirerFromConfig(cfg)); err != nil {
		return nil, fmt.Errorf("failed to register acquirer %s: %w", cfg.AcquirerID, err)
	}

	s.authMgr = auth.NewManager(keyStore)
	if cfg.APIKey != "" {
		if _, err := s.authMgr.ImportKey(ctx, cfg.AcquirerID, "bootstrap", cfg.APIKey); err != nil {
			return nil, fmt.Errorf("failed to import API_KEY: %w", err)
		}
	}

	s.webhooks = webhooks.NewDispatcher(s.webhookDB, s.logger).
		WithTimeout(cfg.WebhookTimeout).
		WithEndpointPolicy(security.EndpointPolicy{
			AllowPrivate: cfg.WebhookAllowPrivate,
			RequireHTTPS: cfg.IsProduction(),
		})
	s.hub = realtime.NewHub(s.logger)

	s.payments = payment.NewService(paymentStore, s.merchants).
		WithDefaultCurrency(cfg.Currency).
		WithEventEmitter(webhooks.NewEmitter(s.webhooks, s.logger)).
		WithEventEmitter(s.hub)

	s.health = health.NewRegistry(cfg.Version)
	if s.db != nil {
		s.health.Register("database", health.DB(s.db))
	}
	s.health.Register("acquirer", func(ctx context.Context) error {
		_, err := s.merchants.MerchantConfig(ctx, cfg.AcquirerID)
		return err
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func acquirerFromConfig(cfg *config.Config) *merchant.Acquirer {
	name := cfg.AcquirerName
	if name == "" {
		name = cfg.AcquirerID
	}
	return &merchant.Acquirer{
		ID:            cfg.AcquirerID,
		Name:          name,
		SiteID:        cfg.PayboxSite,
		RankID:        cfg.PayboxRank,
		MerchantID:    cfg.PayboxID,
		Environment:   paybox.Environment(cfg.PayboxEnvironment),
		ActionURL:     cfg.PayboxActionURL,
		TestActionURL: cfg.PayboxTestURL,
		HMACKey:       cfg.PayboxHMACKey,
		TestHMACKey:   cfg.PayboxTestHMACKey,
		PublicKey:     cfg.PayboxPublicKey,
	}
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(s.requestIDMiddleware())
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// The gateway retries unacknowledged notifications, so callbacks are
	// never throttled.
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitBurst,
		CleanupInterval:   time.Minute,
		ExemptPrefixes:    []string{"/payment/paybox/", "/health", "/metrics"},
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = idgen.Hex(16)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.health.RegisterRoutes(s.router)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/", s.infoHandler)

	payments := payment.NewHandler(s.payments)
	payments.RegisterCallbackRoutes(s.router)
	payments.RegisterFormRoutes(s.router)

	merchants := merchant.NewHandler(s.merchants)
	hooks := webhooks.NewHandler(s.webhookDB, s.webhooks)
	stream := realtime.NewHandler(s.hub)

	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.authMgr))
	if s.authRequired() {
		v1.Use(auth.RequireAuth())
	} else {
		s.logger.Warn("API authentication disabled; /v1 acts as the configured acquirer",
			"acquirer_id", s.cfg.AcquirerID)
		payments.WithDefaultAcquirer(s.cfg.AcquirerID)
		merchants.WithDefaultAcquirer(s.cfg.AcquirerID)
		hooks.WithDefaultAcquirer(s.cfg.AcquirerID)
		stream.WithDefaultAcquirer(s.cfg.AcquirerID)
	}

	payments.RegisterRoutes(v1)
	merchants.RegisterRoutes(v1)
	hooks.RegisterRoutes(v1)
	stream.RegisterRoutes(v1)

	keys := v1.Group("")
	keys.Use(auth.RequireAuth())
	auth.NewHandler(s.authMgr).RegisterRoutes(keys)
}

// authRequired is false only in development without an API_KEY.
func (s *Server) authRequired() bool {
	return s.cfg.APIKey != "" || !s.cfg.IsDevelopment()
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "paybox",
		"version": s.cfg.Version,
		"ready":   s.ready.Load(),
		"callbacks": gin.H{
			"ipn": s.cfg.BaseURL + paybox.IPNPath,
			"dpn": s.cfg.BaseURL + paybox.DPNPath,
		},
		"stream": s.hub.Stats(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run serves HTTP until ctx ends, a signal arrives or the listener fails,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"base_url", s.cfg.BaseURL,
			"acquirer_id", s.cfg.AcquirerID,
			"paybox_environment", s.cfg.PayboxEnvironment,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	if s.db != nil {
		go metrics.CollectDBStats(runCtx, s.db, 15*time.Second)
	}
	s.ready.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown stops accepting requests, waits for in-flight requests and
// webhook deliveries, then releases resources.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	done := make(chan struct{})
	go func() {
		s.webhooks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("webhook deliveries still running at shutdown")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
