// Package idempotency реализует повтор ответов по Idempotency-Key и очистку просроченных ключей.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	// defaultMaxBatches ограничивает один проход; остаток уйдёт в следующий тик.
	defaultMaxBatches = 20
)

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics подключает метрики очистки.
func WithMetrics(m *metrics.CleanupMetrics) CleanupOption {
	return func(w *CleanupWorker) { w.metrics = m }
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize задаёт размер одного DELETE.
func WithBatchSize(size int) CleanupOption {
	return func(w *CleanupWorker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMaxBatches ограничивает число DELETE за проход.
func WithMaxBatches(n int) CleanupOption {
	return func(w *CleanupWorker) {
		if n > 0 {
			w.maxBatches = n
		}
	}
}

// CleanupWorker удаляет ключи идемпотентности оформленных заказов после истечения TTL.
type CleanupWorker struct {
	repo       domain.IdempotencyRepository
	metrics    *metrics.CleanupMetrics
	logger     *log.Entry
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:       repo,
		logger:     log.WithField("component", "idempotency-cleanup-worker"),
		interval:   defaultCleanupInterval,
		batchSize:  defaultCleanupBatchSize,
		maxBatches: defaultMaxBatches,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run выполняет проход сразу и затем раз в interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, w.now())
	if errors.Is(err, context.Canceled) {
		return
	}
	w.metrics.RecordRun(err, deleted)
	if err != nil {
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup run failed")
		return
	}
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("expired idempotency keys removed")
	}
}

// DeleteExpired удаляет записи с ttl <= before порциями batchSize,
// не больше maxBatches порций за вызов.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}

	total := 0
	for batch := 0; batch < w.maxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		w.metrics.AddDeleted(deleted)

		if deleted < w.batchSize {
			return total, nil
		}
	}

	w.logger.WithField("deleted", total).Debug("cleanup batch limit reached, continuing next tick")
	return total, nil
}
