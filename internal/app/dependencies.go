package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/cache"
	"github.com/vladislavdragonenkov/checkout/internal/catalog"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/resilience"
	"github.com/vladislavdragonenkov/checkout/internal/service/notification"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/mongodb"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

const (
	notifierBreakerFailures = 5
	notifierBreakerReset    = 30 * time.Second
)

// Dependencies содержит все внешние зависимости приложения.
type Dependencies struct {
	UnitOfWork  domain.UnitOfWork
	Repos       domain.Repositories
	Idempotency domain.IdempotencyRepository
	CartCache   cache.CartCache
	Producer    *kafka.Producer
	Notifier    domain.NotificationDispatcher
	Health      *healthcheck.Registry
	Logger      *log.Entry

	closers []func(ctx context.Context) error
}

// NewDependencies подключает хранилище, кэш и Kafka согласно конфигурации.
// При ошибке уже открытые подключения закрываются.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *Dependencies, err error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps = &Dependencies{
		CartCache: cache.Noop{},
		Health:    healthcheck.NewRegistry(version.GetVersion()),
		Logger:    logger,
	}
	defer func() {
		if err != nil {
			deps.Close(context.Background())
			deps = nil
		}
	}()

	if err := deps.initStorage(ctx, cfg); err != nil {
		return deps, err
	}
	if err := deps.initCache(ctx, cfg); err != nil {
		return deps, err
	}
	if err := deps.initKafka(cfg); err != nil {
		return deps, err
	}
	deps.initNotifier(cfg)

	if cfg.CatalogSeedFile != "" {
		products, err := catalog.LoadFile(cfg.CatalogSeedFile)
		if err != nil {
			return deps, err
		}
		if err := catalog.Seed(ctx, deps.Repos.Products, products); err != nil {
			return deps, err
		}
		logger.WithField("products", len(products)).Info("catalog seeded")
	}

	return deps, nil
}

func (d *Dependencies) initStorage(ctx context.Context, cfg Config) error {
	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithMaxConns(cfg.PostgresMaxConns))
		if err != nil {
			return err
		}
		d.addCloser(func(context.Context) error { return store.Close() })
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
		}
		d.UnitOfWork = store
		d.Repos = store.Repositories()
		d.Idempotency = postgres.NewIdempotencyRepository(store)
		d.Health.Register("storage", healthcheck.Critical, store.Ping)

	case StorageDriverMongo:
		store, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoTransactions)
		if err != nil {
			return err
		}
		d.addCloser(store.Close)
		if err := store.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("ensure mongo indexes: %w", err)
		}
		d.UnitOfWork = store
		d.Repos = store.Repositories()
		d.Idempotency = mongodb.NewIdempotencyRepository(store)
		d.Health.Register("storage", healthcheck.Critical, store.Ping)

	default:
		store := memory.NewStore()
		d.UnitOfWork = store
		d.Repos = store.Repositories()
		d.Idempotency = memory.NewIdempotencyRepository()
	}

	d.Logger.WithField("driver", cfg.StorageDriver).Info("storage initialized")
	return nil
}

func (d *Dependencies) initCache(ctx context.Context, cfg Config) error {
	if cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	d.addCloser(func(context.Context) error { return client.Close() })

	if err := client.Ping(ctx).Err(); err != nil {
		d.Logger.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis is unreachable, cart reads fall back to storage")
	}

	d.CartCache = cache.NewRedisCache(client, cfg.CartCacheTTL)
	d.Health.Register("redis", healthcheck.Optional, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	d.Logger.WithField("addr", cfg.RedisAddr).Info("redis cart cache enabled")
	return nil
}

func (d *Dependencies) initKafka(cfg Config) error {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return nil
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: brokers, ClientID: kafka.DefaultClientID}, d.Logger.WithField("component", "kafka-producer"))
	if err != nil {
		if cfg.NotificationDriver == NotificationDriverKafka {
			return err
		}
		d.Logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}
	d.Producer = producer
	d.addCloser(func(context.Context) error { return producer.Close() })
	d.Logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return nil
}

func (d *Dependencies) initNotifier(cfg Config) {
	if cfg.NotificationDriver == NotificationDriverKafka && d.Producer != nil {
		breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
			Name:             "notifications",
			FailureThreshold: notifierBreakerFailures,
			OpenTimeout:      notifierBreakerReset,
		}, d.Logger)
		d.Notifier = notification.WithBreaker(notification.NewKafkaDispatcher(d.Producer, cfg.KafkaNotificationsTopic), breaker)
		return
	}
	d.Notifier = notification.NewLogDispatcher(d.Logger.WithField("layer", "notification"))
}

func (d *Dependencies) addCloser(fn func(ctx context.Context) error) {
	d.closers = append(d.closers, fn)
}

// Close освобождает подключения в порядке, обратном открытию.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil

	err := errors.Join(errs...)
	if err != nil {
		d.Logger.WithError(err).Warn("failed to close dependencies")
	}
	return err
}
