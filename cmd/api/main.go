package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-payflow/internal/app"
	"github.com/noah-isme/toko-payflow/internal/checkout"
	"github.com/noah-isme/toko-payflow/internal/common"
	"github.com/noah-isme/toko-payflow/internal/config"
	"github.com/noah-isme/toko-payflow/internal/health"
	"github.com/noah-isme/toko-payflow/internal/obs"
	"github.com/noah-isme/toko-payflow/internal/order"
	"github.com/noah-isme/toko-payflow/internal/queue"
	"github.com/noah-isme/toko-payflow/internal/ratelimit"
	"github.com/noah-isme/toko-payflow/internal/resilience"
	"github.com/noah-isme/toko-payflow/internal/security"
)

const maxRequestBody = 1 << 20

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
		queue.RegisterMetrics(nil)
		resilience.RegisterMetrics(nil)
	}

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "payflow-api",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	c, err := app.Build(ctx, cfg, logger, "payflow-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise services")
	}
	defer c.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           newRouter(c, tracingEnabled),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
		logger.Info().Msg("server stopped")
	}
}

func newRouter(c *app.Container, tracingEnabled bool) http.Handler {
	cfg := c.Config
	logger := c.Logger

	checkoutHandler := &checkout.Handler{
		Svc: &checkout.Service{
			Payments:      c.Payments,
			Orders:        c.Orders,
			Methods:       c.Methods,
			Fraud:         c.Fraud,
			Locker:        c.Locker,
			LockTTL:       cfg.LockTTL,
			ManualCapture: cfg.ManualCapture,
			Replay:        c.Redis,
			ReplayTTL:     cfg.WebhookReplayTTL,
			Logger:        logger.With().Str("component", "checkout").Logger(),
		},
		SessionTTL:       cfg.SessionTTL,
		SecureCookies:    cfg.IsProduction(),
		WebhookSecret:    cfg.WebhookSecret,
		WebhookTolerance: cfg.WebhookTolerance,
		Logger:           logger.With().Str("component", "checkout").Logger(),
	}
	orderHandler := &order.Handler{Orders: c.Orders}
	dlqAdmin := &queue.AdminHandler{
		Store:             queue.NewStore(c.DB),
		Queue:             c.Queue,
		Logger:            logger.With().Str("component", "queue-admin").Logger(),
		VisibilityTimeout: cfg.QueueVisibility,
	}
	idem := common.Idem{R: c.Redis, TTL: cfg.IdempotencyTTL}
	webhookLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: c.Redis, Prefix: "payflow:rl"},
		Config: ratelimit.Config{
			Key:    ratelimit.ByClientIP("webhook"),
			Window: cfg.WebhookRateWindow,
			Max:    cfg.WebhookRateLimit,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("webhook rate limiter unavailable") },
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.MetricsEnabled {
		buckets := obs.ParseBucketsCSV(cfg.MetricsBucketsMS)
		r.Use(obs.HTTPObs{Metrics: obs.NewHTTPMetrics(cfg.MetricsNamespace, buckets, nil)}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger, Quiet: []string{"/health/", "/metrics"}}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.IsProduction()}.Middleware)
	r.Use(security.BodyLimit{Max: maxRequestBody}.Middleware)

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: c.DB, redis: c.Redis},
		DBTimeout:    cfg.HealthDBTimeout,
		RedisTimeout: cfg.HealthRedisTimeout,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.With(webhookLimit.Middleware).Post("/webhooks/payments", checkoutHandler.Webhook)

		v.Group(func(g chi.Router) {
			g.Use(cors.Handler(cors.Options{
				AllowedOrigins:   allowedOrigins(cfg),
				AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders:   []string{"Accept", "Content-Type", common.IdempotencyHeader, "X-Session-ID"},
				AllowCredentials: true,
				MaxAge:           300,
			}))
			g.Use(idem.Middleware)
			checkoutHandler.Routes(g)
			g.Post("/orders", orderHandler.Create)
			g.Get("/orders/{orderId}", orderHandler.Get)
		})
	})

	r.Route("/admin", func(a chi.Router) {
		a.Use(security.AdminToken{Token: cfg.AdminToken}.Middleware)
		a.Route("/jobs", dlqAdmin.Routes)
		if cfg.PprofEnabled {
			a.Mount("/debug/pprof", http.StripPrefix("/admin/debug/pprof", newPprofMux()))
		}
	})
	return r
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	return mux
}
