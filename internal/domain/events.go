package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AggregateOrder тип агрегата для событий outbox.
const AggregateOrder = "order"

// Типы событий, которые checkout кладёт в outbox.
const (
	EventOrderConfirmationRequested = "notification.order_confirmation"
	EventPurchaseHistoryAppend      = "user.purchase_history_append"
	EventOrderStatusChanged         = "order.status_changed"
)

// OrderConfirmation сводка заказа для уведомления покупателя.
type OrderConfirmation struct {
	OrderID   string                  `json:"order_id"`
	UserID    string                  `json:"user_id"`
	Email     string                  `json:"email"`
	Name      string                  `json:"name"`
	Items     []OrderConfirmationItem `json:"items"`
	Subtotal  decimal.Decimal         `json:"subtotal"`
	Tax       decimal.Decimal         `json:"tax"`
	Shipping  decimal.Decimal         `json:"shipping"`
	Total     decimal.Decimal         `json:"total"`
	Address   string                  `json:"shipping_address"`
	CreatedAt time.Time               `json:"created_at"`
}

// OrderConfirmationItem позиция в подтверждении.
type OrderConfirmationItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// PurchaseHistoryAppend запрос на добавление заказа в историю покупок.
type PurchaseHistoryAppend struct {
	UserID  string `json:"user_id"`
	OrderID string `json:"order_id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// OrderStatusChanged публикуется при смене статуса заказа.
type OrderStatusChanged struct {
	OrderID   string      `json:"order_id"`
	UserID    string      `json:"user_id"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	ChangedAt time.Time   `json:"changed_at"`
}

// NewOrderConfirmation собирает подтверждение из сохранённого заказа.
func NewOrderConfirmation(order Order) OrderConfirmation {
	items := make([]OrderConfirmationItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderConfirmationItem{Name: item.Name, Quantity: item.Quantity, Price: item.Price})
	}
	return OrderConfirmation{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Email:     order.UserEmail,
		Name:      order.UserName,
		Items:     items,
		Subtotal:  order.Subtotal,
		Tax:       order.Tax,
		Shipping:  order.Shipping,
		Total:     order.Total,
		Address:   order.ShippingAddress,
		CreatedAt: order.CreatedAt,
	}
}

// NewOutboxMessage сериализует payload в сообщение outbox по заказу.
func NewOutboxMessage(orderID, eventType string, payload any) (OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       data,
	}, nil
}
