package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestOutboxMetrics(t *testing.T) {
	m := NewOutboxMetrics(prometheus.NewRegistry())

	m.RecordPublish(OutboxSent)
	m.RecordPublish(OutboxSent)
	m.RecordPublish(OutboxFailed)

	if got := counterValue(t, m.publishAttempts.WithLabelValues(OutboxSent)); got != 2 {
		t.Fatalf("expected 2 sent, got %v", got)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetBacklog(domain.OutboxStats{PendingCount: 4, FailedCount: 2, OldestPendingAt: now.Add(-30 * time.Second)}, now)
	if got := gaugeValue(t, m.pendingRecords); got != 4 {
		t.Fatalf("unexpected pending gauge: %v", got)
	}
	if got := gaugeValue(t, m.failedRecords); got != 2 {
		t.Fatalf("unexpected failed gauge: %v", got)
	}
	if got := gaugeValue(t, m.oldestPendingAge); got != 30 {
		t.Fatalf("unexpected age gauge: %v", got)
	}

	m.SetBacklog(domain.OutboxStats{}, now)
	if got := gaugeValue(t, m.oldestPendingAge); got != 0 {
		t.Fatalf("age must reset on empty backlog, got %v", got)
	}
}

func TestCleanupMetrics(t *testing.T) {
	m := NewCleanupMetrics(prometheus.NewRegistry())

	m.AddDeleted(3)
	m.AddDeleted(0)
	m.RecordRun(nil, 3)
	m.RecordRun(errors.New("db down"), 0)

	if got := counterValue(t, m.deleted); got != 3 {
		t.Fatalf("unexpected deleted total: %v", got)
	}
	if got := gaugeValue(t, m.lastDeleted); got != 3 {
		t.Fatalf("unexpected last deleted: %v", got)
	}
	if got := counterValue(t, m.runs.WithLabelValues("error")); got != 1 {
		t.Fatalf("unexpected error runs: %v", got)
	}
}

func TestWorkerMetricsNilSafe(t *testing.T) {
	var outbox *OutboxMetrics
	outbox.RecordPublish(OutboxSent)
	outbox.SetBacklog(domain.OutboxStats{PendingCount: 1}, time.Now())

	var cleanup *CleanupMetrics
	cleanup.AddDeleted(1)
	cleanup.RecordRun(nil, 1)
}
