package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Topics для Kafka
const (
	TopicEvents          = "checkout.events"
	TopicDeadLetterQueue = "checkout.events.dlq"
	TopicNotifications   = "checkout.notifications"
)

// Kafka headers для маршрутизации и retry логики
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// Envelope сообщение outbox в том виде, в каком оно уходит в topic событий.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope упаковывает сообщение outbox.
func NewEnvelope(msg domain.OutboxMessage) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   time.Now().UTC(),
	}
}

// OutboxMessage распаковывает конверт обратно в сообщение outbox.
func (e Envelope) OutboxMessage() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            e.ID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       []byte(e.Payload),
	}
}

// DLQMessage сообщение, которое consumer не смог обработать.
type DLQMessage struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// ParseEnvelope парсит Envelope из сообщения
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if envelope.EventType == "" {
		return Envelope{}, fmt.Errorf("envelope has no event type")
	}
	return envelope, nil
}
