package cmd

import (
	"context"
	"database/sql"
	"net"

	"github.com/vibast-solutions/ms-go-greeting/app/cache"
	"github.com/vibast-solutions/ms-go-greeting/app/controller"
	"github.com/vibast-solutions/ms-go-greeting/app/mailer"
	"github.com/vibast-solutions/ms-go-greeting/app/middleware"
	"github.com/vibast-solutions/ms-go-greeting/app/repository"
	"github.com/vibast-solutions/ms-go-greeting/app/service"
	"github.com/vibast-solutions/ms-go-greeting/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Start the HTTP (Echo) server for the greeting service.`,
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type application struct {
	auth      *controller.UserAuthController
	greetings *controller.GreetingController
	health    *controller.HealthController
	authMw    *middleware.AuthMiddleware
	registry  *prometheus.Registry
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}
	logger := logrus.StandardLogger()

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.WithError(err).Fatal("Failed to ping database")
	}

	backend, ledgerBackend, cacheCheck, closeCache := newCacheBackends(cfg, logger)
	defer closeCache()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tokens, err := service.NewTokenService(cfg.JWT)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create token service")
	}

	authService := service.NewUserAuthService(
		repository.NewUserRepository(db),
		service.NewBcryptHasher(cfg.Password.BcryptCost),
		tokens,
		newMailer(cfg, logger),
		cache.NewTokenLedger(ledgerBackend),
		cfg,
		logger,
	)
	greetingService := service.NewGreetingService(
		repository.NewGreetingRepository(db),
		backend,
		cfg.Cache.GreetingsTTL,
		cache.NewMetrics(registry),
		logger,
	)

	app := &application{
		auth:      controller.NewUserAuthController(authService, logger),
		greetings: controller.NewGreetingController(greetingService, logger),
		health: controller.NewHealthController(map[string]controller.HealthCheck{
			"mysql": db.PingContext,
			"cache": cacheCheck,
		}, logger),
		authMw:   middleware.NewAuthMiddleware(authService, logger),
		registry: registry,
	}

	startHTTPServer(cfg, app, logger)
}

// newCacheBackends returns the greetings cache and the reset-token ledger
// store. With Redis both share one client. In process the ledger gets its own
// store so greeting lists cannot evict consumed token ids.
func newCacheBackends(cfg *config.Config, logger logrus.FieldLogger) (cache.Backend, cache.Backend, controller.HealthCheck, func()) {
	if cfg.Cache.Driver == config.CacheDriverMemory {
		logger.Info("Using in-process cache")
		backend := cache.NewMemoryBackend(cfg.Cache.Capacity, cfg.Cache.MaxTTL)
		ledger := cache.NewMemoryBackend(cfg.Cache.Capacity, cfg.JWT.ResetTokenTTL)
		return backend, ledger, func(context.Context) error { return nil }, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	backend := cache.NewRedisBackend(client)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout)
	defer cancel()
	if err := backend.Ping(ctx); err != nil {
		// Reads fall back to MySQL while Redis is down.
		logger.WithError(err).WithField("addr", cfg.Redis.Addr).Warn("Redis is not reachable")
	} else {
		logger.WithField("addr", cfg.Redis.Addr).Info("Connected to Redis")
	}

	return backend, backend, backend.Ping, func() { _ = client.Close() }
}

func newMailer(cfg *config.Config, logger logrus.FieldLogger) mailer.Mailer {
	if cfg.SMTP.Host == "" {
		logger.Warn("SMTP_HOST is not set, reset emails will only be logged")
		return mailer.NewLogMailer(logger)
	}

	smtpMailer, err := mailer.NewSMTPMailer(cfg.SMTP)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create SMTP mailer")
	}
	return smtpMailer
}

func newHTTPServer(app *application, logger logrus.FieldLogger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logger.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.GET("/healthz", app.health.Healthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})))
	e.GET("/hello", app.greetings.Hello)

	auth := e.Group("/auth")
	auth.POST("/register", app.auth.Register)
	auth.POST("/login", app.auth.Login)
	auth.POST("/forgot-password", app.auth.ForgotPassword)
	auth.POST("/reset-password", app.auth.ResetPassword)

	greetings := e.Group("/greetings")
	greetings.Use(app.authMw.RequireAuth)
	greetings.GET("", app.greetings.List)
	greetings.POST("", app.greetings.Create)
	greetings.GET("/:id", app.greetings.Get)
	greetings.PUT("/:id", app.greetings.Update)
	greetings.PATCH("/:id", app.greetings.Update)
	greetings.DELETE("/:id", app.greetings.Delete)

	return e
}

func startHTTPServer(cfg *config.Config, app *application, logger logrus.FieldLogger) {
	e := newHTTPServer(app, logger)
	defer e.Close()

	httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
	logger.WithField("addr", httpAddr).Info("Starting HTTP server")
	if err := e.Start(httpAddr); err != nil {
		logger.WithError(err).Fatal("Failed to start HTTP server")
	}
}
