package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/auth/sso"
	"github.com/rightly/dsar-gateway/internal/auth/twofactor"
	"github.com/rightly/dsar-gateway/internal/config"
	"github.com/rightly/dsar-gateway/internal/handler"
	"github.com/rightly/dsar-gateway/internal/healthcheck"
	"github.com/rightly/dsar-gateway/internal/jobs"
	"github.com/rightly/dsar-gateway/internal/metrics"
	"github.com/rightly/dsar-gateway/internal/middleware"
	"github.com/rightly/dsar-gateway/internal/proxy"
	"github.com/rightly/dsar-gateway/internal/ratelimit"
	"github.com/rightly/dsar-gateway/internal/repository"
	"github.com/rightly/dsar-gateway/internal/security"
	"github.com/rightly/dsar-gateway/internal/service"
	"github.com/rightly/dsar-gateway/internal/storage"
	"github.com/rightly/dsar-gateway/internal/usage"
	"go.uber.org/zap"
)

const requestLogRetention = 30 * 24 * time.Hour

// Stores holds the optional backing services. Any of them may be nil.
type Stores struct {
	Redis    *storage.RedisClient
	Postgres *storage.Postgres
	SQLite   *storage.SQLite
}

type Server struct {
	router     *gin.Engine
	config     *config.Config
	log        *zap.Logger
	stores     Stores
	httpServer *http.Server

	metrics       *metrics.Metrics
	guard         *security.OriginGuard
	resolver      *ratelimit.IPResolver
	limiter       *ratelimit.Limiter
	memory        *ratelimit.MemoryStrategy
	tracker       *usage.Tracker
	auth          *service.AuthService
	checker       *healthcheck.Checker
	scheduler     *jobs.Scheduler
	requestLogger *middleware.RequestLogger
	requestLogs   *repository.RequestLogRepository

	fwd       *handler.Forwarder
	twoFactor *twofactor.Manager
	sso       *sso.Manager
}

func New(cfg *config.Config, log *zap.Logger, stores Stores) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:  gin.New(),
		config:  cfg,
		log:     log,
		stores:  stores,
		metrics: metrics.New(),
		guard:   security.NewOriginGuard(cfg.Security.AllowedOriginList()),
		auth:    service.NewAuthService(cfg.Security.JWTSecret, cfg.Security.JWTExpiry),
	}

	resolver, err := ratelimit.NewIPResolver(cfg.RateLimit.TrustedProxyList())
	if err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	s.resolver = resolver

	client, err := proxy.New(cfg.Upstream.APIURL, proxy.WithTimeout(cfg.Upstream.Timeout))
	if err != nil {
		return nil, err
	}
	s.fwd = handler.NewForwarder(client, log, s.metrics)

	s.initRateLimiter()
	if err := s.initUsage(); err != nil {
		return nil, err
	}
	s.initAuth(client)
	s.initHealth()

	if stores.Postgres != nil {
		s.requestLogs = repository.NewRequestLogRepository(stores.Postgres)
		s.requestLogger = middleware.NewRequestLogger(s.requestLogs, s.resolver, log, 1000)
	}

	if err := s.initJobs(); err != nil {
		return nil, err
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func (s *Server) initRateLimiter() {
	opts := ratelimit.Options{
		Config: ratelimit.Config{
			Points: s.config.RateLimit.Points,
			Window: s.config.RateLimit.Window(),
		},
	}
	// A nil *RedisClient must not end up in the interface
	if s.stores.Redis != nil {
		opts.Redis = s.stores.Redis
	}
	if s.config.Upstash.Enabled() {
		opts.UpstashURL = s.config.Upstash.URL
		opts.UpstashToken = s.config.Upstash.Token
	}

	s.limiter, s.memory = ratelimit.NewFromConfig(s.log, opts)
	s.limiter.WithObserver(s.metrics.ObserveRateLimit)

	s.log.Info("rate limiter ready", zap.Strings("strategies", s.limiter.Strategies()))
}

func (s *Server) initUsage() error {
	opts := []usage.Option{usage.WithObserver(s.metrics.ObserveUsage)}

	if s.stores.SQLite != nil {
		repo, err := repository.NewUsageRepository(s.stores.SQLite)
		if err != nil {
			return err
		}
		opts = append(opts, usage.WithStore(repo))
	}

	s.tracker = usage.NewTracker(opts...)

	if s.tracker.HasStore() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tracker.Load(ctx); err != nil {
			s.log.Warn("usage snapshot not loaded", zap.Error(err))
		}
	}
	return nil
}

func (s *Server) initAuth(client *proxy.Client) {
	s.twoFactor = twofactor.NewManager(
		twofactor.NewBackendStore(client),
		twofactor.WithIssuer(s.config.TwoFactor.Issuer),
	)

	sc := s.config.SSO
	s.sso = sso.NewManager(sso.Settings{
		Google: sso.GoogleSettings{
			ClientID:     sc.GoogleClientID,
			ClientSecret: sc.GoogleClientSecret,
			RedirectURL:  sc.AppURL + "/api/auth/sso/google/callback",
		},
		Okta:  sso.SAMLSettings{EntityID: sc.Okta.EntityID, SSOURL: sc.Okta.SSOURL, Certificate: sc.Okta.Certificate},
		Azure: sso.SAMLSettings{EntityID: sc.Azure.EntityID, SSOURL: sc.Azure.SSOURL, Certificate: sc.Azure.Certificate},
	})

	if !s.auth.Enabled() {
		s.log.Warn("JWT_SECRET not set, admin routes are not authenticated by the gateway")
	}
}

func (s *Server) initHealth() {
	s.checker = healthcheck.NewChecker(healthcheck.Config{
		Target:   s.config.Upstream.APIURL,
		Interval: 10 * time.Second,
	}, s.log)

	if s.stores.Redis != nil {
		s.checker.AddProbe("redis", s.stores.Redis.Ping)
	}
	if s.stores.Postgres != nil {
		s.checker.AddProbe("postgres", s.stores.Postgres.Ping)
	}
	if s.stores.SQLite != nil {
		s.checker.AddProbe("sqlite", s.stores.SQLite.Ping)
	}
}

func (s *Server) initJobs() error {
	s.scheduler = jobs.NewScheduler(s.log)

	list := []jobs.Job{{
		Name:     "ratelimit-sweep",
		Schedule: "@every 1m",
		Run: func(ctx context.Context) error {
			if n := s.memory.Sweep(time.Now()); n > 0 {
				s.log.Debug("swept rate limit buckets", zap.Int("removed", n))
			}
			return nil
		},
	}}

	if s.tracker.HasStore() {
		list = append(list, jobs.Job{
			Name:     "usage-snapshot",
			Schedule: "@every 1m",
			Run:      s.tracker.Save,
		})
	}

	if s.requestLogs != nil {
		list = append(list, jobs.Job{
			Name:     "request-log-retention",
			Schedule: "@daily",
			Run: func(ctx context.Context) error {
				n, err := s.requestLogs.DeleteOldLogs(ctx, time.Now().Add(-requestLogRetention))
				if err != nil {
					return err
				}
				s.log.Info("deleted old request logs", zap.Int64("rows", n))
				return nil
			},
		})
	}

	for _, job := range list {
		if err := s.scheduler.Add(job); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.log))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.log, s.resolver))
	s.router.Use(middleware.CORS(s.guard))
}

func (s *Server) setupRoutes() {
	health := handler.NewHealthHandler(s.fwd, s.checker)
	requests := handler.NewRequestsHandler(s.fwd)
	authH := handler.NewAuthHandler(s.fwd)
	admin := handler.NewAdminHandler(s.fwd, s.sso)
	system := handler.NewSystemHandler(s.limiter, s.memory, s.guard, s.checker, s.sso)
	usageH := handler.NewUsageHandler(s.tracker)
	twoFactor := handler.NewTwoFactorHandler(s.twoFactor, s.log)
	ssoH := handler.NewSSOHandler(s.sso, s.auth, s.log, s.config.IsProduction(), s.config.Security.AdminEmailList())

	origin := middleware.OriginGuard(s.guard, s.log, s.metrics.ObserveOriginRejection)
	limit := func(route string) gin.HandlerFunc {
		return middleware.RateLimit(s.limiter, s.resolver, route)
	}

	s.router.GET("/health", health.Health)
	s.router.GET("/readyz", health.Ready)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := s.router.Group("/api")
	if s.requestLogger != nil {
		api.Use(s.requestLogger.Middleware())
	}

	api.GET("/healthz", health.Upstream)

	api.GET("/requests", requests.List)
	api.POST("/requests", origin, limit("requests_create"), requests.Create)
	api.GET("/downloads/:token", limit("downloads_token_get"), origin, requests.Download)

	auth := api.Group("/auth")
	{
		auth.POST("/signup", origin, limit("auth_signup"), authH.Signup)
		auth.POST("/magic-link", origin, limit("auth_magic_link"), authH.MagicLink)

		// 2FA settings are always the caller's own
		tf := auth.Group("/2fa", middleware.RequireAuth(s.auth))
		tfLimit := limit("twofactor")
		tf.POST("/setup", origin, tfLimit, twoFactor.Setup)
		tf.POST("/enable", origin, tfLimit, twoFactor.Enable)
		tf.POST("/verify", origin, tfLimit, twoFactor.Verify)
		tf.POST("/:userId/recovery-codes", origin, tfLimit, twoFactor.RegenerateRecoveryCodes)
		tf.GET("/:userId", twoFactor.Status)
		tf.DELETE("/:userId", origin, tfLimit, twoFactor.Disable)

		auth.GET("/sso/providers", ssoH.Providers)
		auth.GET("/sso/:provider/start", ssoH.Start)
		auth.GET("/sso/:provider/callback", ssoH.Callback)
	}

	u := api.Group("/usage")
	{
		u.GET("", usageH.Metrics)
		u.GET("/triggers", usageH.Triggers)
		u.POST("/track/:kind", origin, usageH.Track)
		u.PUT("/limits", origin, usageH.SetLimits)
		u.POST("/reset", origin, usageH.Reset)
	}

	adm := api.Group("/admin")
	if s.auth.Enabled() {
		adm.Use(middleware.RequireAuth(s.auth), middleware.RequireRole(service.RoleAdmin))
	}
	{
		adm.GET("/users", admin.Users)
		adm.GET("/audit", admin.Audit)
		adm.GET("/flags", admin.Flags)
		adm.POST("/flags", origin, limit("admin_flags_toggle"), admin.ToggleFlag)
		adm.POST("/impersonate", origin, limit("admin_impersonate"), admin.StartImpersonation)
		adm.DELETE("/impersonate", origin, limit("admin_impersonate"), admin.StopImpersonation)
		adm.PUT("/sso/:provider", origin, admin.ToggleSSOProvider)

		adm.GET("/system", system.Status)
		adm.POST("/system/ratelimit/reset", origin, system.ResetRateLimits)

		if s.requestLogs != nil {
			audit := handler.NewAuditHandler(s.requestLogs, service.NewTrafficService(s.requestLogs), s.log)
			adm.GET("/requests/:requestId", audit.ByRequestID)
			adm.GET("/traffic", audit.Traffic)
		}
	}
}

// Start launches the background workers without serving HTTP
func (s *Server) Start() {
	s.checker.Start()
	s.scheduler.Start()
}

func (s *Server) Run(addr string) error {
	s.Start()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.log.Info("starting dsar gateway",
		zap.String("addr", addr),
		zap.String("environment", s.config.Server.Environment),
		zap.String("upstream", s.config.Upstream.APIURL),
	)

	return s.httpServer.ListenAndServe()
}

// Shutdown stops serving, then drains the workers and saves usage counters
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.scheduler.Stop()
	s.checker.Stop()
	if s.requestLogger != nil {
		s.requestLogger.Stop()
	}
	if s.tracker.HasStore() {
		if saveErr := s.tracker.Save(ctx); saveErr != nil {
			s.log.Error("failed to save usage snapshot", zap.Error(saveErr))
		}
	}

	return err
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
