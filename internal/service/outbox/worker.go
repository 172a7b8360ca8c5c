// Package outbox доставляет сообщения transactional outbox во внешний брокер.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/resilience"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

// DeadLetter тело сообщения, которое уходит в DLQ после исчерпания попыток.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// Option настраивает Worker.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher включает отправку сообщений в DLQ после исчерпания попыток.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlqPublisher = publisher }
}

func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации одного сообщения.
func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) {
		if attempts > 0 {
			w.retry.MaxAttempts = attempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу backoff; ноль означает повтор без паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retry.InitialDelay = max(delay, 0) }
}

// Worker переносит pending-сообщения outbox в брокер: at-least-once,
// в порядке постановки внутри батча.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	metrics      *metrics.OutboxMetrics
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	retry        resilience.RetryConfig
	now          func() time.Time
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:         repo,
		publisher:    publisher,
		logger:       log.WithField("component", "outbox-worker"),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		retry: resilience.RetryConfig{
			MaxAttempts:   defaultMaxAttempts,
			InitialDelay:  defaultRetryBaseDelay,
			MaxDelay:      maxRetryDelay,
			BackoffFactor: 2,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run запускает периодический polling outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл и возвращает число обработанных сообщений.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	w.refreshBacklog(ctx)

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0
	}

	processed := 0
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		w.deliver(ctx, event)
		processed++
	}

	if processed > 0 {
		w.refreshBacklog(ctx)
	}
	return processed
}

func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"event_type": event.EventType,
	})

	err := w.publishWithRetry(ctx, event)
	if err == nil {
		if markErr := w.repo.MarkSent(ctx, event.ID); markErr != nil {
			entry.WithError(markErr).Warn("failed to mark outbox as sent")
		}
		return
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		// Сообщение остаётся pending и будет взято следующим запуском.
		return
	}

	entry.WithError(err).Error("outbox publish failed after retries")
	w.metrics.RecordPublish(metrics.OutboxFailed)

	if dlqErr := w.publishToDLQ(ctx, event, err); dlqErr != nil {
		entry.WithError(dlqErr).Warn("failed to publish to DLQ")
		w.metrics.RecordPublish(metrics.OutboxDLQFailed)
	}
	if markErr := w.repo.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
		entry.WithError(markErr).Warn("failed to mark outbox as failed")
	}
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) error {
	err := resilience.Retry(ctx, w.retry, nil, w.logger, func(ctx context.Context) error {
		if err := w.publisher.Publish(ctx, event); err != nil {
			w.metrics.RecordPublish(metrics.OutboxRetryError)
			return err
		}
		w.metrics.RecordPublish(metrics.OutboxSent)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish failed after %d attempts: %w", w.retry.MaxAttempts, err)
	}
	return nil
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.metrics.SetBacklog(stats, w.now())
}

func (w *Worker) publishToDLQ(ctx context.Context, event domain.OutboxMessage, publishErr error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(DeadLetter{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        rawPayload(event.Payload),
		PublishError:   publishErr.Error(),
		DLQPublishedAt: w.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dlqEvent := domain.OutboxMessage{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
	}
	if err := w.dlqPublisher.Publish(ctx, dlqEvent); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

// rawPayload защищает DLQ-конверт от невалидного JSON в исходном сообщении.
func rawPayload(payload []byte) json.RawMessage {
	if len(payload) == 0 {
		return json.RawMessage("null")
	}
	if !json.Valid(payload) {
		quoted, _ := json.Marshal(string(payload))
		return quoted
	}
	return payload
}
