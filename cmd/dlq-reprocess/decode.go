package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
)

// replayCandidate сообщение, готовое к повторной публикации.
type replayCandidate struct {
	topic     string
	key       string
	value     []byte
	eventType string
}

func (c replayCandidate) headers() []sarama.RecordHeader {
	if c.eventType == "" {
		return nil
	}
	return []sarama.RecordHeader{{Key: []byte(kafka.HeaderEventType), Value: []byte(c.eventType)}}
}

// decodeDeadLetter понимает два формата DLQ:
//   - kafka.DLQMessage: consumer не смог обработать событие;
//   - конверт с outbox.DeadLetter: outbox worker не смог его опубликовать.
//
// ok=false без ошибки означает, что формат не распознан.
func decodeDeadLetter(msg *sarama.ConsumerMessage, fallbackTopic string) (replayCandidate, bool, error) {
	var failed kafka.DLQMessage
	if json.Unmarshal(msg.Value, &failed) == nil && failed.OriginalValue != "" {
		return fromConsumerFailure(msg, failed, fallbackTopic), true, nil
	}

	var envelope kafka.Envelope
	if json.Unmarshal(msg.Value, &envelope) != nil || len(envelope.Payload) == 0 {
		return replayCandidate{}, false, nil
	}
	candidate, err := fromOutboxFailure(envelope, fallbackTopic)
	if err != nil {
		return replayCandidate{}, false, err
	}
	return candidate, true, nil
}

func fromConsumerFailure(msg *sarama.ConsumerMessage, failed kafka.DLQMessage, fallbackTopic string) replayCandidate {
	topic := firstNonEmpty(failed.OriginalTopic, headerOf(msg, kafka.HeaderOriginalTopic), fallbackTopic)
	candidate := replayCandidate{
		topic: topic,
		key:   failed.OriginalKey,
		value: []byte(failed.OriginalValue),
	}
	if original, err := kafka.ParseEnvelope(&sarama.ConsumerMessage{Value: candidate.value}); err == nil {
		candidate.eventType = original.EventType
	}
	return candidate
}

func fromOutboxFailure(envelope kafka.Envelope, topic string) (replayCandidate, error) {
	var letter outbox.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return replayCandidate{}, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(letter.Payload) == 0 || string(letter.Payload) == "null" {
		return replayCandidate{}, errors.New("outbox dead letter has no original payload")
	}

	original := domain.OutboxMessage{
		ID:            firstNonEmpty(letter.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(letter.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(letter.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(letter.EventType, envelope.EventType),
		Payload:       letter.Payload,
	}
	value, err := json.Marshal(kafka.NewEnvelope(original))
	if err != nil {
		return replayCandidate{}, fmt.Errorf("encode replay envelope: %w", err)
	}
	return replayCandidate{
		topic:     topic,
		key:       firstNonEmpty(original.AggregateID, original.ID),
		value:     value,
		eventType: original.EventType,
	}, nil
}

func headerOf(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
