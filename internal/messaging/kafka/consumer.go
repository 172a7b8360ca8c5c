package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/resilience"
)

const (
	defaultConsumerAttempts = 3
	maxConsumerRetryDelay   = 30 * time.Second
)

// MessageHandler обрабатывает одно сообщение топика событий.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// EnvelopeHandler разворачивает конверт и передаёт событие outbox в dispatch.
func EnvelopeHandler(dispatch func(ctx context.Context, msg domain.OutboxMessage) error) MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		envelope, err := ParseEnvelope(message)
		if err != nil {
			return err
		}
		return dispatch(ctx, envelope.OutboxMessage())
	}
}

// DeadLetterSink принимает сообщения, которые не удалось обработать.
type DeadLetterSink interface {
	PublishEvent(ctx context.Context, topic, key string, event any, headers ...sarama.RecordHeader) error
}

// ConsumerConfig описывает подписку consumer group.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// MaxAttempts общий бюджет попыток с учётом заголовка x-retry-count.
	MaxAttempts int
	RetryDelay  time.Duration
	DLQTopic    string
}

// Consumer читает события checkout и при исчерпании попыток отправляет их в DLQ.
type Consumer struct {
	group   sarama.ConsumerGroup
	cfg     ConsumerConfig
	handler MessageHandler
	dlq     DeadLetterSink
	logger  *log.Entry
	now     func() time.Time
}

// NewConsumer подключается к кластеру. dlq может быть nil: тогда необработанные
// сообщения не коммитятся и будут перечитаны.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, dlq DeadLetterSink, logger *log.Entry) (*Consumer, error) {
	config := sarama.NewConfig()
	config.ClientID = DefaultClientID
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("create consumer group %s: %w", cfg.GroupID, err)
	}
	return newConsumerWithGroup(group, cfg, handler, dlq, logger), nil
}

func newConsumerWithGroup(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler, dlq DeadLetterSink, logger *log.Entry) *Consumer {
	if logger == nil {
		logger = log.WithField("component", "kafka-consumer")
	}
	if cfg.DLQTopic == "" {
		cfg.DLQTopic = TopicDeadLetterQueue
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultConsumerAttempts
	}
	return &Consumer{
		group:   group,
		cfg:     cfg,
		handler: handler,
		dlq:     dlq,
		logger:  logger.WithField("group", cfg.GroupID),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run читает топики до отмены ctx и закрывает группу при выходе.
func (c *Consumer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Warn("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.cfg.Topics).Info("kafka consumer started")

	var runErr error
	for ctx.Err() == nil {
		// Consume возвращается при каждом rebalance.
		if err := c.group.Consume(ctx, c.cfg.Topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				break
			}
			c.logger.WithError(err).Error("consume session failed")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}

	if err := c.group.Close(); err != nil {
		runErr = fmt.Errorf("close consumer group: %w", err)
	}
	wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return runErr
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает партицию. Сообщение коммитится после успешной
// обработки или после записи в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			ctx := extractTraceContext(session.Context(), message)
			if err := c.process(ctx, message); err != nil {
				c.logger.WithError(err).WithFields(messageFields(message)).Error("message left uncommitted")
				continue
			}
			session.MarkMessage(message, "")
		}
	}
}

func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	previous := retryCount(message)
	attempts := max(c.cfg.MaxAttempts-previous, 1)

	err := resilience.Retry(ctx, resilience.RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  c.cfg.RetryDelay,
		MaxDelay:      maxConsumerRetryDelay,
		BackoffFactor: 2,
	}, nil, c.logger, func(ctx context.Context) error {
		return c.handler(ctx, message)
	})
	if err == nil {
		return nil
	}
	if c.dlq == nil {
		return err
	}

	total := previous + attempts
	if dlqErr := c.deadLetter(ctx, message, err, total); dlqErr != nil {
		return fmt.Errorf("dead-letter after %d attempts: %w", total, dlqErr)
	}
	c.logger.WithFields(messageFields(message)).WithField("attempts", total).Warn("message moved to DLQ")
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, message *sarama.ConsumerMessage, cause error, attempts int) error {
	letter := DLQMessage{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          c.now().Format(time.RFC3339),
		RetryCount:        attempts,
	}
	return c.dlq.PublishEvent(ctx, c.cfg.DLQTopic, letter.OriginalKey, letter,
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(letter.OriginalTopic)},
		sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(attempts))},
		sarama.RecordHeader{Key: []byte(HeaderErrorMessage), Value: []byte(letter.ErrorMessage)},
		sarama.RecordHeader{Key: []byte(HeaderFailedAt), Value: []byte(letter.FailedAt)},
	)
}

func messageFields(message *sarama.ConsumerMessage) log.Fields {
	return log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	}
}
