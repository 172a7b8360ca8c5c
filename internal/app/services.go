package app

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/cart"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/events"
	"github.com/vladislavdragonenkov/checkout/internal/service/history"
	"github.com/vladislavdragonenkov/checkout/internal/service/idempotency"
	"github.com/vladislavdragonenkov/checkout/internal/service/orders"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	httpapi "github.com/vladislavdragonenkov/checkout/internal/transport/http"
)

// Services собранные сервисы и фоновые воркеры приложения.
type Services struct {
	API           http.Handler
	Router        *events.Router
	OutboxWorker  *outbox.Worker
	CleanupWorker *idempotency.CleanupWorker
}

// NewServices связывает доменные сервисы с зависимостями. Если Kafka доступна,
// outbox публикуется в топик событий, иначе события сразу уходят в Router.
func NewServices(cfg Config, deps *Dependencies, registerer prometheus.Registerer) (*Services, error) {
	logger := deps.Logger

	policy, err := domain.PolicyByName(cfg.StatusPolicy)
	if err != nil {
		return nil, err
	}
	identity, err := httpapi.ParseStaticTokens(cfg.AuthTokens)
	if err != nil {
		return nil, fmt.Errorf("parse auth tokens: %w", err)
	}
	if identity.Len() == 0 {
		logger.Warn("no auth tokens configured, every API request will be rejected")
	}

	checkoutMetrics := metrics.NewCheckoutMetrics(registerer)

	orchestrator := checkout.NewOrchestrator(deps.UnitOfWork,
		checkout.WithCartCache(deps.CartCache),
		checkout.WithMetrics(checkoutMetrics),
		checkout.WithLogger(logger.WithField("layer", "checkout")),
	)
	statusManager := orders.NewStatusManager(deps.UnitOfWork,
		orders.WithPolicy(policy),
		orders.WithStatusMetrics(checkoutMetrics),
		orders.WithStatusLogger(logger.WithField("layer", "order-status")),
	)
	carts := cart.NewService(deps.UnitOfWork, deps.Repos.Carts, deps.CartCache, logger.WithField("layer", "cart"))
	queries := orders.NewQueryService(deps.Repos.Orders, deps.Repos.Timeline)

	appender := history.NewAppender(deps.Repos.Users, history.WithLogger(logger.WithField("layer", "history")))
	router := events.NewRouter(deps.Notifier, appender, logger.WithField("layer", "events"))

	workerOptions := []outbox.Option{
		outbox.WithLogger(logger.WithField("worker", "outbox")),
		outbox.WithMetrics(metrics.NewOutboxMetrics(registerer)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	var publisher domain.OutboxPublisher = router
	if deps.Producer != nil {
		publisher = kafka.NewTopicPublisher(deps.Producer, cfg.KafkaEventsTopic)
		workerOptions = append(workerOptions, outbox.WithDLQPublisher(kafka.NewTopicPublisher(deps.Producer, cfg.KafkaDLQTopic)))
	}

	cleanup := idempotency.NewCleanupWorker(deps.Idempotency,
		idempotency.WithLogger(logger.WithField("worker", "idempotency-cleanup")),
		idempotency.WithMetrics(metrics.NewCleanupMetrics(registerer)),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	api := httpapi.NewRouter(httpapi.Config{
		Checkout:          orchestrator,
		Orders:            queries,
		Status:            statusManager,
		Carts:             carts,
		Identity:          identity,
		Idempotency:       idempotency.NewGuard(deps.Idempotency, cfg.IdempotencyTTL, logger.WithField("layer", "idempotency")),
		CheckoutRateLimit: cfg.CheckoutRateLimit,
		CheckoutRateBurst: cfg.CheckoutRateBurst,
		Logger:            log.WithField("component", "http-api"),
	})

	return &Services{
		API:           api,
		Router:        router,
		OutboxWorker:  outbox.NewWorker(deps.Repos.Outbox, publisher, workerOptions...),
		CleanupWorker: cleanup,
	}, nil
}
