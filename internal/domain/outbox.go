package domain

import (
	"strings"
	"time"
)

// OutboxStatus состояние сообщения transactional outbox.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// maxOutboxErrorLen ограничивает сохраняемый текст ошибки публикации.
const maxOutboxErrorLen = 1024

// OutboxMessage событие, записанное в одной транзакции с заказом.
// Attempts и CreatedAt заполняются хранилищем при чтении.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Attempts      int
	CreatedAt     time.Time
}

// OutboxStats описывает backlog outbox для метрик воркера.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}

// Lag возвращает возраст самого старого pending-сообщения.
func (s OutboxStats) Lag(now time.Time) time.Duration {
	if s.PendingCount == 0 || s.OldestPendingAt.IsZero() || now.Before(s.OldestPendingAt) {
		return 0
	}
	return now.Sub(s.OldestPendingAt)
}

// OutboxFailureReason готовит текст ошибки к сохранению рядом с сообщением.
func OutboxFailureReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxOutboxErrorLen {
		reason = reason[:maxOutboxErrorLen]
	}
	return reason
}
