package domain

import (
	"context"
	"time"
)

// OutboxRepository хранит события до публикации в брокер.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// PullPending возвращает до limit pending-сообщений в порядке постановки.
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	// MarkFailed выводит сообщение из очереди и сохраняет причину отказа.
	MarkFailed(ctx context.Context, id, reason string) error
}

// OutboxPublisher отправляет событие наружу. Доставка at-least-once,
// потребители сами отбрасывают дубли по ID.
type OutboxPublisher interface {
	Publish(ctx context.Context, event OutboxMessage) error
}

type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит первые ответы на POST /orders по ключу покупателя.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// NotificationDispatcher доставляет покупателю подтверждение заказа.
type NotificationDispatcher interface {
	SendOrderConfirmation(ctx context.Context, confirmation OrderConfirmation) error
}

// IdentityProvider превращает bearer-токен в идентичность вызывающего.
type IdentityProvider interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}
