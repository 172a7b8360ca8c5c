package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты оформления заказа для метки result.
const (
	ResultSuccess   = "success"
	ResultEmptyCart = "empty_cart"
	ResultInvalid   = "invalid"
	ResultError     = "error"
)

// CheckoutMetrics содержит метрики оформления и жизненного цикла заказов.
// Методы безопасны для nil-получателя: без метрик вызовы ничего не делают.
type CheckoutMetrics struct {
	checkouts          *prometheus.CounterVec
	checkoutDuration   prometheus.Histogram
	lineOutcomes       *prometheus.CounterVec
	partiallyFulfilled prometheus.Counter
	orderValue         prometheus.Histogram
	statusChanges      *prometheus.CounterVec
	statusConflicts    prometheus.Counter
	timelineEvents     prometheus.Counter
	outboxEnqueued     *prometheus.CounterVec
	activeCheckouts    prometheus.Gauge
}

// NewCheckoutMetrics регистрирует метрики в registerer (nil означает DefaultRegisterer).
// Повторная регистрация возвращает уже зарегистрированные коллекторы.
func NewCheckoutMetrics(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkouts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_orders_total",
			Help: "Total number of checkout attempts grouped by result",
		}, []string{"result"}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "checkout_duration_seconds",
			Help:    "Duration of checkout unit of work in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		lineOutcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_order_lines_total",
			Help: "Order lines grouped by stock outcome",
		}, []string{"stock_status"}),
		partiallyFulfilled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_partially_fulfilled_orders_total",
			Help: "Orders created with at least one line not reserved",
		}),
		orderValue: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "checkout_order_total_amount",
			Help:    "Distribution of order totals",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		statusChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_order_status_changes_total",
			Help: "Order status changes grouped by target status",
		}, []string{"status"}),
		statusConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_order_status_conflicts_total",
			Help: "Compare-and-set conflicts while changing order status",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEnqueued: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_outbox_enqueued_total",
			Help: "Outbox messages enqueued grouped by event type",
		}, []string{"event_type"}),
		activeCheckouts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_active_checkouts",
			Help: "Number of checkouts currently in progress",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// CheckoutStarted отмечает начало оформления; вернувшуюся функцию нужно вызвать по завершении.
func (m *CheckoutMetrics) CheckoutStarted() func() {
	if m == nil {
		return func() {}
	}
	m.activeCheckouts.Inc()
	started := time.Now()
	return func() {
		m.activeCheckouts.Dec()
		m.checkoutDuration.Observe(time.Since(started).Seconds())
	}
}

// RecordCheckout увеличивает счётчик оформлений с результатом result.
func (m *CheckoutMetrics) RecordCheckout(result string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result).Inc()
}

// RecordOrderCreated учитывает исходы строк и сумму созданного заказа.
func (m *CheckoutMetrics) RecordOrderCreated(lineStatuses []string, partiallyFulfilled bool, total float64) {
	if m == nil {
		return
	}
	for _, status := range lineStatuses {
		m.lineOutcomes.WithLabelValues(status).Inc()
	}
	if partiallyFulfilled {
		m.partiallyFulfilled.Inc()
	}
	m.orderValue.Observe(total)
}

// RecordStatusChange увеличивает счётчик переходов в статус status.
func (m *CheckoutMetrics) RecordStatusChange(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

// RecordStatusConflict учитывает конфликт CAS при смене статуса.
func (m *CheckoutMetrics) RecordStatusConflict() {
	if m == nil {
		return
	}
	m.statusConflicts.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *CheckoutMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEnqueued увеличивает счётчик сообщений outbox по типу события.
func (m *CheckoutMetrics) RecordOutboxEnqueued(eventType string) {
	if m == nil {
		return
	}
	m.outboxEnqueued.WithLabelValues(eventType).Inc()
}
