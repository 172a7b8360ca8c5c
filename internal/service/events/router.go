// Package events обрабатывает события outbox: уведомления и историю покупок.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// HistoryAppender добавляет заказ в историю покупок пользователя.
type HistoryAppender interface {
	Append(ctx context.Context, req domain.PurchaseHistoryAppend) error
}

// Router направляет событие обработчику по EventType.
type Router struct {
	notifier domain.NotificationDispatcher
	history  HistoryAppender
	logger   *log.Entry
}

// NewRouter создаёт Router.
func NewRouter(notifier domain.NotificationDispatcher, history HistoryAppender, logger *log.Entry) *Router {
	if logger == nil {
		logger = log.WithField("component", "event-router")
	}
	return &Router{notifier: notifier, history: history, logger: logger}
}

// Dispatch обрабатывает одно событие. Неизвестные типы пропускаются без ошибки.
func (r *Router) Dispatch(ctx context.Context, msg domain.OutboxMessage) error {
	entry := r.logger.WithFields(log.Fields{
		"event_id":     msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	})

	switch msg.EventType {
	case domain.EventOrderConfirmationRequested:
		if r.notifier == nil {
			return fmt.Errorf("notification dispatcher is not configured")
		}
		var confirmation domain.OrderConfirmation
		if err := json.Unmarshal(msg.Payload, &confirmation); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.EventType, err)
		}
		if err := r.notifier.SendOrderConfirmation(ctx, confirmation); err != nil {
			return fmt.Errorf("send order confirmation: %w", err)
		}
	case domain.EventPurchaseHistoryAppend:
		if r.history == nil {
			return fmt.Errorf("purchase history appender is not configured")
		}
		var req domain.PurchaseHistoryAppend
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.EventType, err)
		}
		if err := r.history.Append(ctx, req); err != nil {
			return err
		}
	case domain.EventOrderStatusChanged:
		entry.Debug("order status change observed")
	default:
		entry.Debug("no handler for event type")
	}
	return nil
}

// Publish позволяет outbox worker доставлять события напрямую, без брокера.
func (r *Router) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	return r.Dispatch(ctx, msg)
}

var _ domain.OutboxPublisher = (*Router)(nil)
