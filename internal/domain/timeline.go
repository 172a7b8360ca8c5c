package domain

import (
	"fmt"
	"time"
)

// Типы событий в истории заказа.
const (
	TimelineOrderCreated       = "order.created"
	TimelineOrderStatusChanged = "order.status_changed"
)

// TimelineEvent запись в истории заказа, которую отдаёт GET /orders/{id}/timeline.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Status   OrderStatus
	Reason   string
	Occurred time.Time
}

// OrderCreatedEvent открывает историю только что оформленного заказа.
func OrderCreatedEvent(order Order, at time.Time) TimelineEvent {
	return TimelineEvent{
		OrderID:  order.ID,
		Type:     TimelineOrderCreated,
		Status:   order.Status,
		Occurred: at,
	}
}

// StatusChangedEvent фиксирует переход from -> to.
func StatusChangedEvent(orderID string, from, to OrderStatus, at time.Time) TimelineEvent {
	return TimelineEvent{
		OrderID:  orderID,
		Type:     TimelineOrderStatusChanged,
		Status:   to,
		Reason:   fmt.Sprintf("%s -> %s", from, to),
		Occurred: at,
	}
}
