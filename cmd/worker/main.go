package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/toko-payflow/internal/app"
	"github.com/noah-isme/toko-payflow/internal/config"
	"github.com/noah-isme/toko-payflow/internal/health"
	"github.com/noah-isme/toko-payflow/internal/jobs"
	"github.com/noah-isme/toko-payflow/internal/obs"
	"github.com/noah-isme/toko-payflow/internal/queue"
	"github.com/noah-isme/toko-payflow/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
		queue.RegisterMetrics(nil)
		resilience.RegisterMetrics(nil)
	}

	c, err := app.Build(ctx, cfg, logger, "payflow-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise services")
	}
	defer c.Close()

	if cfg.MetricsEnabled {
		go serveMetrics(ctx, cfg.WorkerAdminAddr, logger)
	}

	handlers := c.JobHandlers()
	logger.Info().Str("backend", cfg.JobBackend).Strs("jobs", jobs.Kinds()).Msg("worker starting")
	switch cfg.JobBackend {
	case "asynq":
		err = runAsynq(ctx, c, handlers)
	default:
		err = runQueue(ctx, c, handlers)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker shutdown complete")
}

// runQueue starts one Redis queue worker per job kind and blocks until ctx ends.
func runQueue(ctx context.Context, c *app.Container, h *jobs.Handlers) error {
	cfg := c.Config
	store := queue.NewStore(c.DB)
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range jobs.Kinds() {
		logger := c.Logger.With().Str("job", kind).Logger()
		w := queue.Worker{
			R:                 c.Redis,
			Prefix:            cfg.QueuePrefix,
			Kind:              kind,
			Concurrency:       cfg.QueueConcurrency,
			VisibilityTimeout: cfg.QueueVisibility,
			Handler:           h.QueueHandler(),
			RetryBase:         cfg.QueueRetryBase,
			RetryJitter:       cfg.QueueRetryJitter,
			Store:             store,
			Logger:            &logger,
		}
		g.Go(func() error { return w.Run(gctx) })
	}
	return g.Wait()
}

// runAsynq serves the jobs from asynq on the shared Redis connection.
func runAsynq(ctx context.Context, c *app.Container, h *jobs.Handlers) error {
	cfg := c.Config
	srv := asynq.NewServerFromRedisClient(c.Redis, asynq.Config{
		Concurrency: cfg.QueueConcurrency,
		Queues:      map[string]int{cfg.AsynqQueue: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return resilience.Backoff(cfg.QueueRetryBase, n+1, cfg.QueueRetryJitter)
		},
		Logger:          asynqLogger{l: c.Logger.With().Str("backend", "asynq").Logger()},
		ShutdownTimeout: cfg.QueueVisibility,
	})
	if err := srv.Start(h.Mux()); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	<-ctx.Done()
	srv.Shutdown()
	return ctx.Err()
}

// serveMetrics exposes Prometheus and a liveness probe for the worker.
func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health/live", health.Handler{}.Live)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info().Str("addr", addr).Msg("worker metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("worker metrics server")
	}
}

// asynqLogger routes asynq's logs through zerolog.
type asynqLogger struct{ l zerolog.Logger }

func (a asynqLogger) Debug(args ...any) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
