package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// DefaultClientID client.id, под которым сервис виден брокеру.
const DefaultClientID = "checkout-service"

// ProducerConfig задаёт подключение к кластеру.
type ProducerConfig struct {
	Brokers  []string
	ClientID string
}

// SaramaConfig строит настройки синхронного продюсера: подтверждение всеми
// репликами, идемпотентная запись и hash-партиционирование по ключу, чтобы
// события одного заказа попадали в одну партицию по порядку.
func (c ProducerConfig) SaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = c.ClientID
	if config.ClientID == "" {
		config.ClientID = DefaultClientID
	}
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// Producer публикует события checkout в Kafka.
type Producer struct {
	client sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

// NewProducer подключается к брокерам из cfg.
func NewProducer(cfg ProducerConfig, logger *log.Entry) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka producer: no brokers configured")
	}
	client, err := sarama.NewSyncProducer(cfg.Brokers, cfg.SaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducerWithClient(client, logger), nil
}

// NewProducerWithClient оборачивает готовый SyncProducer.
func NewProducerWithClient(client sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// PublishEvent кодирует event в JSON и отправляет его в topic.
func (p *Producer) PublishEvent(ctx context.Context, topic, key string, event any, headers ...sarama.RecordHeader) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event for %s: %w", topic, err)
	}
	return p.PublishRaw(ctx, topic, key, value, headers...)
}

// PublishRaw отправляет готовое значение. Контекст трассировки из ctx
// добавляется в заголовки.
func (p *Producer) PublishRaw(ctx context.Context, topic, key string, value []byte, headers ...sarama.RecordHeader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fields := log.Fields{"topic": topic, "key": key}
	partition, offset, err := p.client.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   injectTraceContext(ctx, headers),
		Timestamp: p.now(),
	})
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("kafka publish failed")
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	fields["partition"] = partition
	fields["offset"] = offset
	p.logger.WithFields(fields).Debug("kafka message published")
	return nil
}

// Close сбрасывает буферы и закрывает соединения.
func (p *Producer) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
