package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// TopicPublisher отправляет outbox-сообщения одного воркера в один topic.
// Ключ записи это идентификатор агрегата: события заказа идут в одну партицию.
type TopicPublisher struct {
	producer *Producer
	topic    string
}

func NewTopicPublisher(producer *Producer, topic string) *TopicPublisher {
	if topic == "" {
		topic = TopicEvents
	}
	return &TopicPublisher{producer: producer, topic: topic}
}

func (p *TopicPublisher) Topic() string { return p.topic }

func (p *TopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka topic publisher has no producer")
	}

	partitionKey := msg.AggregateID
	if partitionKey == "" {
		partitionKey = msg.ID
	}
	return p.producer.PublishEvent(ctx, p.topic, partitionKey, NewEnvelope(msg),
		sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(msg.EventType)},
		sarama.RecordHeader{Key: []byte(HeaderAggregateType), Value: []byte(msg.AggregateType)},
	)
}

var _ domain.OutboxPublisher = (*TopicPublisher)(nil)
