package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/resilience"
)

// StatusManager меняет статус заказа по правилам политики переходов.
type StatusManager struct {
	uow     domain.UnitOfWork
	policy  domain.TransitionPolicy
	retry   resilience.RetryConfig
	metrics *metrics.CheckoutMetrics
	logger  *log.Entry
	now     func() time.Time
}

// StatusOption настраивает StatusManager.
type StatusOption func(*StatusManager)

// WithPolicy задаёт политику переходов.
func WithPolicy(policy domain.TransitionPolicy) StatusOption {
	return func(m *StatusManager) { m.policy = policy }
}

// WithRetry задаёт повтор при конкурентном изменении статуса.
func WithRetry(cfg resilience.RetryConfig) StatusOption {
	return func(m *StatusManager) { m.retry = cfg }
}

// WithStatusMetrics задаёт метрики.
func WithStatusMetrics(mt *metrics.CheckoutMetrics) StatusOption {
	return func(m *StatusManager) { m.metrics = mt }
}

// WithStatusLogger задаёт logger.
func WithStatusLogger(logger *log.Entry) StatusOption {
	return func(m *StatusManager) { m.logger = logger }
}

// WithStatusClock подменяет источник времени.
func WithStatusClock(now func() time.Time) StatusOption {
	return func(m *StatusManager) { m.now = now }
}

// NewStatusManager создаёт менеджер статусов. По умолчанию политика разрешающая.
func NewStatusManager(uow domain.UnitOfWork, options ...StatusOption) *StatusManager {
	m := &StatusManager{
		uow:    uow,
		policy: domain.PermissivePolicy{},
		retry: resilience.RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  10 * time.Millisecond,
			MaxDelay:      200 * time.Millisecond,
			BackoffFactor: 2,
		},
	}
	for _, option := range options {
		option(m)
	}
	if m.logger == nil {
		m.logger = log.WithField("component", "order-status")
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// SetStatus переводит заказ в новый статус. Повтор текущего статуса ничего не меняет.
func (m *StatusManager) SetStatus(ctx context.Context, orderID, rawStatus string) (domain.Order, error) {
	target, err := domain.ParseOrderStatus(rawStatus)
	if err != nil {
		return domain.Order{}, err
	}

	var result domain.Order
	err = resilience.Retry(ctx, m.retry, isStatusConflict, m.logger, func(ctx context.Context) error {
		order, err := m.apply(ctx, orderID, target)
		if err != nil {
			if isStatusConflict(err) {
				m.metrics.RecordStatusConflict()
			}
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		if isStatusConflict(err) {
			return domain.Order{}, domain.NewError(domain.ErrConflict, "Order was modified concurrently, please retry")
		}
		return domain.Order{}, err
	}
	return result, nil
}

func (m *StatusManager) apply(ctx context.Context, orderID string, target domain.OrderStatus) (domain.Order, error) {
	var (
		result  domain.Order
		changed bool
		from    domain.OrderStatus
	)

	err := m.uow.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		current, err := repos.Orders.Get(ctx, orderID)
		if err != nil {
			return notFoundOr(err)
		}
		if current.Status == target {
			result = current
			return nil
		}
		if !m.policy.Allow(current.Status, target) {
			return domain.NewError(domain.ErrInvalidTransition,
				fmt.Sprintf("Cannot change status from %s to %s", current.Status, target))
		}

		now := m.now().UTC()
		updated, err := repos.Orders.UpdateStatus(ctx, orderID, current.Status, target, now)
		if err != nil {
			return err
		}

		if err := repos.Timeline.Append(ctx, domain.StatusChangedEvent(orderID, current.Status, target, now)); err != nil {
			return fmt.Errorf("append timeline: %w", err)
		}

		msg, err := domain.NewOutboxMessage(orderID, domain.EventOrderStatusChanged, domain.OrderStatusChanged{
			OrderID:   orderID,
			UserID:    updated.UserID,
			From:      current.Status,
			To:        target,
			ChangedAt: now,
		})
		if err != nil {
			return err
		}
		if _, err := repos.Outbox.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("enqueue status change: %w", err)
		}

		result, changed, from = updated, true, current.Status
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	if changed {
		m.metrics.RecordStatusChange(string(target))
		m.metrics.RecordTimelineEvent()
		m.metrics.RecordOutboxEnqueued(domain.EventOrderStatusChanged)
		m.logger.WithFields(log.Fields{
			"order_id": orderID,
			"from":     from,
			"to":       target,
			"policy":   m.policy.Name(),
		}).Info("order status changed")
	}
	return result, nil
}

func isStatusConflict(err error) bool {
	return errors.Is(err, domain.ErrStatusConflict)
}
