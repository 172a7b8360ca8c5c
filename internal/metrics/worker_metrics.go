package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Результаты публикации outbox для метки result.
const (
	OutboxSent       = "sent"
	OutboxRetryError = "retry_error"
	OutboxFailed     = "failed"
	OutboxDLQFailed  = "dlq_failed"
)

// OutboxMetrics описывает backlog transactional outbox и исходы публикаций.
type OutboxMetrics struct {
	publishAttempts  *prometheus.CounterVec
	pendingRecords   prometheus.Gauge
	failedRecords    prometheus.Gauge
	oldestPendingAge prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики outbox worker.
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &OutboxMetrics{
		publishAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result",
		}, []string{"result"}),
		pendingRecords: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox",
		}),
		failedRecords: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_outbox_failed_records",
			Help: "Number of outbox records that exhausted publish attempts",
		}),
		oldestPendingAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
	}
}

// RecordPublish увеличивает счётчик попыток с результатом result.
func (m *OutboxMetrics) RecordPublish(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// PublishAttempts возвращает счётчик попыток с результатом result.
func (m *OutboxMetrics) PublishAttempts(result string) prometheus.Counter {
	return m.publishAttempts.WithLabelValues(result)
}

// SetBacklog выставляет размер backlog и возраст самой старой pending-записи.
func (m *OutboxMetrics) SetBacklog(stats domain.OutboxStats, now time.Time) {
	if m == nil {
		return
	}
	m.pendingRecords.Set(float64(stats.PendingCount))
	m.failedRecords.Set(float64(stats.FailedCount))
	m.oldestPendingAge.Set(stats.Lag(now).Seconds())
}

// CleanupMetrics описывает работу очистки просроченных idempotency-ключей.
type CleanupMetrics struct {
	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

// NewCleanupMetrics регистрирует метрики cleanup worker.
func NewCleanupMetrics(registerer prometheus.Registerer) *CleanupMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &CleanupMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result",
		}, []string{"result"}),
		deleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records",
		}),
		lastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_idempotency_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run",
		}),
	}
}

// RecordRun фиксирует завершённый цикл очистки.
func (m *CleanupMetrics) RecordRun(err error, deleted int) {
	if m == nil {
		return
	}
	if err != nil {
		m.runs.WithLabelValues("error").Inc()
		return
	}
	m.runs.WithLabelValues("ok").Inc()
	m.lastDeleted.Set(float64(deleted))
}

// AddDeleted добавляет удалённые записи одного batch.
func (m *CleanupMetrics) AddDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deleted.Add(float64(n))
}
