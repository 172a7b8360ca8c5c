// Package notification доставляет покупателю подтверждение заказа.
package notification

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/resilience"
)

// LogDispatcher пишет подтверждение в лог. Используется, когда внешний канал не настроен.
type LogDispatcher struct {
	logger *log.Entry
}

// NewLogDispatcher создаёт LogDispatcher.
func NewLogDispatcher(logger *log.Entry) *LogDispatcher {
	if logger == nil {
		logger = log.WithField("component", "notification")
	}
	return &LogDispatcher{logger: logger}
}

// SendOrderConfirmation логирует сводку заказа.
func (d *LogDispatcher) SendOrderConfirmation(_ context.Context, c domain.OrderConfirmation) error {
	d.logger.WithFields(log.Fields{
		"order_id": c.OrderID,
		"user_id":  c.UserID,
		"email":    c.Email,
		"items":    len(c.Items),
		"total":    c.Total.StringFixed(2),
	}).Info("order confirmation sent")
	return nil
}

// KafkaDispatcher публикует запрос на отправку подтверждения в Kafka.
type KafkaDispatcher struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaDispatcher создаёт dispatcher; пустой topic заменяется на kafka.TopicNotifications.
func NewKafkaDispatcher(producer *kafka.Producer, topic string) *KafkaDispatcher {
	if topic == "" {
		topic = kafka.TopicNotifications
	}
	return &KafkaDispatcher{producer: producer, topic: topic}
}

// SendOrderConfirmation публикует подтверждение с ключом по заказу.
func (d *KafkaDispatcher) SendOrderConfirmation(ctx context.Context, c domain.OrderConfirmation) error {
	if d.producer == nil {
		return fmt.Errorf("kafka notification dispatcher is not initialized")
	}
	return d.producer.PublishEvent(ctx, d.topic, c.OrderID, c)
}

// BreakerDispatcher отсекает вызовы недоступного канала через circuit breaker.
type BreakerDispatcher struct {
	next    domain.NotificationDispatcher
	breaker *resilience.CircuitBreaker
}

// WithBreaker оборачивает dispatcher circuit breaker'ом.
func WithBreaker(next domain.NotificationDispatcher, breaker *resilience.CircuitBreaker) *BreakerDispatcher {
	return &BreakerDispatcher{next: next, breaker: breaker}
}

// SendOrderConfirmation вызывает вложенный dispatcher, если breaker закрыт.
func (d *BreakerDispatcher) SendOrderConfirmation(ctx context.Context, c domain.OrderConfirmation) error {
	return d.breaker.Do(ctx, func(ctx context.Context) error {
		return d.next.SendOrderConfirmation(ctx, c)
	})
}

var (
	_ domain.NotificationDispatcher = (*LogDispatcher)(nil)
	_ domain.NotificationDispatcher = (*KafkaDispatcher)(nil)
	_ domain.NotificationDispatcher = (*BreakerDispatcher)(nil)
)
