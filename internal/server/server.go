// Package server wires the Fixpoint HTTP API: booking lifecycle, escrow
// settlement, requotes, disputes and wallets behind token authentication.
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
	_ "github.com/lib/pq"

	"github.com/fixpoint-app/fixpoint/internal/auth"
	"github.com/fixpoint-app/fixpoint/internal/booking"
	"github.com/fixpoint-app/fixpoint/internal/config"
	"github.com/fixpoint-app/fixpoint/internal/dispute"
	"github.com/fixpoint-app/fixpoint/internal/health"
	"github.com/fixpoint-app/fixpoint/internal/idgen"
	"github.com/fixpoint-app/fixpoint/internal/logging"
	"github.com/fixpoint-app/fixpoint/internal/metrics"
	"github.com/fixpoint-app/fixpoint/internal/notify"
	"github.com/fixpoint-app/fixpoint/internal/payment"
	"github.com/fixpoint-app/fixpoint/internal/ratelimit"
	"github.com/fixpoint-app/fixpoint/internal/requote"
	"github.com/fixpoint-app/fixpoint/internal/security"
	"github.com/fixpoint-app/fixpoint/internal/store"
	"github.com/fixpoint-app/fixpoint/internal/traces"
	"github.com/fixpoint-app/fixpoint/internal/validation"
	"github.com/fixpoint-app/fixpoint/internal/wallet"
)

// Server is the Fixpoint API server.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db     *sql.DB
	runner store.Runner

	authMgr    *auth.Manager
	dispatcher *notify.Dispatcher

	wallets  *wallet.Service
	payments *payment.Service
	bookings *booking.Service
	requotes *requote.Service
	disputes *dispute.Service

	healthReg   *health.Registry
	rateLimiter *ratelimit.Limiter

	router  *gin.Engine
	httpSrv *http.Server

	ready   atomic.Bool
	healthy atomic.Bool

	cancelRunCtx  context.CancelFunc
	shutdownTrace func(context.Context) error
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New builds a fully wired server. With a DATABASE_URL the services run on
// Postgres; without one everything is in-memory, which is what the tests
// and local demos use.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		healthReg: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, "json")
	}

	var (
		authStore    auth.Store
		subStore     notify.SubscriptionStore
		walletStore  wallet.Store
		paymentStore payment.Store
		bookingStore booking.Store
		requoteStore requote.Store
		disputeStore dispute.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.logger.Info("connected to database", "dsn", maskDSN(cfg.DatabaseURL))

		s.db = db
		s.runner = store.NewPostgres(db)
		authStore = auth.NewPostgresStore(db)
		subStore = notify.NewPostgresStore(db)
		walletStore = wallet.NewPostgresStore(db)
		paymentStore = payment.NewPostgresStore(db)
		bookingStore = booking.NewPostgresStore(db)
		requoteStore = requote.NewPostgresStore(db)
		disputeStore = dispute.NewPostgresStore(db)

		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.logger.Warn("no DATABASE_URL set, using in-memory stores")
		s.runner = store.NewMemory()
		authStore = auth.NewMemoryStore()
		subStore = notify.NewMemoryStore()
		walletStore = wallet.NewMemoryStore()
		paymentStore = payment.NewMemoryStore()
		bookingStore = booking.NewMemoryStore()
		requoteStore = requote.NewMemoryStore()
		disputeStore = dispute.NewMemoryStore()
	}

	s.authMgr = auth.NewManager(authStore)
	if cfg.AdminToken != "" {
		if err := s.authMgr.Bootstrap(context.Background(), cfg.AdminToken, "adm_bootstrap"); err != nil {
			return nil, fmt.Errorf("failed to bootstrap admin token: %w", err)
		}
		s.logger.Info("admin token bootstrapped")
	}

	s.dispatcher = notify.NewDispatcher(subStore, s.logger)

	s.wallets = wallet.NewService(s.runner, walletStore)
	s.payments = payment.NewService(s.runner, paymentStore, walletStore).
		WithNotifier(s.dispatcher)
	if cfg.StripeSecretKey != "" {
		s.payments = s.payments.WithVerifier(payment.NewStripeVerifier(cfg.StripeSecretKey))
		s.logger.Info("stripe charge verification enabled")
	}
	s.bookings = booking.NewService(s.runner, bookingStore, s.payments).
		WithNotifier(s.dispatcher)
	s.payments = s.payments.WithBookingState(s.bookings)
	s.requotes = requote.NewService(s.runner, requoteStore, s.bookings, s.payments).
		WithNotifier(s.dispatcher)
	s.disputes = dispute.NewService(s.runner, disputeStore, s.bookings, s.payments).
		WithNotifier(s.dispatcher)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides the password in a connection string for logging.
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
		rlCfg.BurstSize = s.cfg.RateLimitRPS * 2
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
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

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

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

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	v1.Use(validation.IDParamMiddleware())

	// Public info endpoint
	v1.GET("/platform", s.platformHandler)

	bookingHandler := booking.NewHandler(s.bookings)
	paymentHandler := payment.NewHandler(s.payments)
	requoteHandler := requote.NewHandler(s.requotes)
	disputeHandler := dispute.NewHandler(s.disputes)
	walletHandler := wallet.NewHandler(s.wallets)
	authHandler := auth.NewHandler(s.authMgr)
	webhookHandler := notify.NewHandler(s.dispatcher)

	// All booking, settlement and wallet operations require a token.
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr))
	{
		bookingHandler.RegisterProtectedRoutes(protected)
		paymentHandler.RegisterProtectedRoutes(protected)
		requoteHandler.RegisterProtectedRoutes(protected)
		disputeHandler.RegisterProtectedRoutes(protected)
		walletHandler.RegisterProtectedRoutes(protected)
		authHandler.RegisterProtectedRoutes(protected)
		webhookHandler.RegisterProtectedRoutes(protected)
	}

	// Refunds, dispute resolution and token issuance are operator-only.
	admin := v1.Group("/admin")
	admin.Use(auth.Middleware(s.authMgr), auth.RequireAdmin())
	{
		paymentHandler.RegisterAdminRoutes(admin)
		disputeHandler.RegisterAdminRoutes(admin)
		authHandler.RegisterAdminRoutes(admin)
	}
}

func (s *Server) platformHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Fixpoint",
		"description": "Booking and escrow settlement for home services",
		"version":     "0.1.0",
		"currency":    "minor units",
		"limits": gin.H{
			"minBookingTotal": s.cfg.MinBookingTotal,
			"maxBookingTotal": s.cfg.MaxBookingTotal,
		},
	})
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
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

// Run starts the HTTP server with graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	if s.cfg.OTLPEndpoint != "" {
		shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("tracing disabled", "error", err)
		} else {
			s.shutdownTrace = shutdown
		}
	}

	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

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

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

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

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Let in-flight webhook deliveries drain before closing the store.
	if s.dispatcher != nil {
		s.dispatcher.Wait()
	}

	if s.shutdownTrace != nil {
		if err := s.shutdownTrace(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}
