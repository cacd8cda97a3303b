// Package app wires the payment services from configuration. The API and the
// worker build the same container so both sides run identical payment logic.
package app

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-payflow/internal/cache"
	"github.com/noah-isme/toko-payflow/internal/config"
	"github.com/noah-isme/toko-payflow/internal/customer"
	"github.com/noah-isme/toko-payflow/internal/db"
	"github.com/noah-isme/toko-payflow/internal/fraud"
	"github.com/noah-isme/toko-payflow/internal/gateway"
	"github.com/noah-isme/toko-payflow/internal/jobs"
	"github.com/noah-isme/toko-payflow/internal/lock"
	"github.com/noah-isme/toko-payflow/internal/methods"
	"github.com/noah-isme/toko-payflow/internal/order"
	"github.com/noah-isme/toko-payflow/internal/payflow"
	"github.com/noah-isme/toko-payflow/internal/paymentstore"
	"github.com/noah-isme/toko-payflow/internal/queue"
	"github.com/noah-isme/toko-payflow/internal/ratelimit"
	"github.com/noah-isme/toko-payflow/internal/resilience"
	"github.com/noah-isme/toko-payflow/internal/session"
)

// Container holds the shared clients and services.
type Container struct {
	Config *config.Config
	Logger zerolog.Logger

	DB    *pgxpool.Pool
	Redis *redis.Client
	Asynq *asynq.Client

	Processor gateway.Processor
	Orders    *order.Store
	Methods   *methods.Store
	Customers *customer.Service
	Fraud     *fraud.Tokens
	Queue     queue.Enqueuer
	Jobs      payflow.JobScheduler
	Locker    lock.Locker
	Payments  *payflow.Service

	closers []func()
}

// Build connects to Postgres and Redis and assembles the payment services.
// The caller owns the container and must Close it.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, appName string) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}
	built := false
	defer func() {
		if !built {
			c.Close()
		}
	}()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cfg.DBAutoMigrate {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		logger.Info().Msg("migrations applied")
	}
	pool, err := db.NewPool(connectCtx, cfg.DatabaseURL, db.PoolOptions{ApplicationName: appName, MaxConns: int32(cfg.DBMaxConns)})
	if err != nil {
		return nil, err
	}
	c.DB = pool
	c.closers = append(c.closers, pool.Close)

	rdb, err := newRedis(connectCtx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Redis = rdb
	c.closers = append(c.closers, func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	})

	c.Processor = newProcessor(cfg, logger)
	c.Orders = &order.Store{DB: pool, BaseURL: cfg.PublicBaseURL}
	c.Methods = &methods.Store{DB: pool}
	c.Customers = &customer.Service{DB: pool, Remote: c.Processor, Logger: logger.With().Str("component", "customer").Logger()}
	c.Fraud = fraud.New(cfg.FraudEnabled, cfg.FraudTokenSecret, cfg.FraudTokenTTL, logger)
	c.Locker = lock.Locker{R: rdb, RetryBackoff: cfg.LockRetryBackoff, MaxWait: cfg.LockMaxWait}
	c.Queue = queue.Enqueuer{R: rdb, Prefix: cfg.QueuePrefix, DedupTTL: cfg.IdempotencyTTL, MaxAttempts: cfg.QueueMaxAttempts}

	switch cfg.JobBackend {
	case "asynq":
		c.Asynq = asynq.NewClientFromRedisClient(rdb)
		c.Jobs = jobs.AsynqScheduler{Client: c.Asynq, Queue: cfg.AsynqQueue, MaxRetry: cfg.QueueMaxAttempts}
	default:
		c.Jobs = jobs.QueueScheduler{Queue: c.Queue, MaxAttempts: cfg.QueueMaxAttempts}
	}

	repo, err := newRepository(ctx, cfg, pool)
	if err != nil {
		return nil, err
	}

	limiterStore, err := ratelimit.NewRedisStore(rdb, "payflow:checkout-limit")
	if err != nil {
		return nil, fmt.Errorf("limiter store: %w", err)
	}
	failed, err := ratelimit.NewFailedAttempts(cfg.CheckoutRateLimit, limiterStore, logger)
	if err != nil {
		return nil, err
	}

	c.Payments = &payflow.Service{
		Orders:    c.Orders,
		Carts:     c.Orders,
		Customers: c.Customers,
		Intents:   c.Processor,
		Fraud:     c.Fraud,
		Limiter:   failed,
		Sessions:  session.Store{R: rdb, TTL: cfg.SessionTTL},
		Methods:   c.Methods,
		Jobs:      c.Jobs,
		Minimums:  cache.NewMinimums(rdb, cfg.MinAmountCacheTTL, logger),
		Repo:      repo,
		Logger:    logger.With().Str("component", "payflow").Logger(),
		SiteURL:   cfg.PublicBaseURL,
		ReturnURL: func(o payflow.Order) string {
			return fmt.Sprintf("%s/api/v1/orders/%s/payment-return?key=%s", cfg.PublicBaseURL, url.PathEscape(o.ID), url.QueryEscape(o.Key))
		},
	}
	built = true
	return c, nil
}

// JobHandlers returns the background job handlers bound to the container.
func (c *Container) JobHandlers() *jobs.Handlers {
	return &jobs.Handlers{
		Remote:    c.Processor,
		Methods:   c.Methods,
		Customers: c.Customers,
		Orders:    c.Orders,
		Payments:  c.Payments,
		Locker:    c.Locker,
		LockTTL:   c.Config.LockTTL,
		Logger:    c.Logger.With().Str("component", "jobs").Logger(),
	}
}

// Close releases clients in reverse order of creation. The asynq client shares
// the Redis connection and is released with it.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func newRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func newProcessor(cfg *config.Config, logger zerolog.Logger) gateway.Processor {
	if cfg.Gateway.Mode != "http" {
		logger.Warn().Msg("using sandbox payment processor")
		return gateway.NewSandbox()
	}
	breaker := resilience.NewBreaker(cfg.Gateway.CircuitMinReq, cfg.Gateway.CircuitRatio, cfg.Gateway.CircuitOpenFor).
		WithTarget("payment-processor").
		WithLogger(logger)
	return gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey, gateway.HTTPOptions{
		Timeout:     cfg.Gateway.Timeout,
		Breaker:     breaker,
		BaseBackoff: cfg.Gateway.RetryBase,
		MaxAttempts: cfg.Gateway.RetryMax,
	})
}

func newRepository(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (payflow.Repository, error) {
	switch cfg.PaymentStore {
	case "memory":
		return paymentstore.NewMemory(), nil
	case "dynamodb":
	default:
		return &paymentstore.Postgres{DB: pool}, nil
	}
	client, err := paymentstore.NewDynamoClient(ctx, paymentstore.DynamoOptions{
		Region:   cfg.AWSRegion,
		Endpoint: cfg.AWSEndpoint,
	})
	if err != nil {
		return nil, err
	}
	return &paymentstore.Dynamo{Client: client, Table: cfg.DynamoTable}, nil
}
