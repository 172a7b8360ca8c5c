package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
)

func TestReplayer_DryRunDoesNotPublish(t *testing.T) {
	source := newFakeSource()
	source.add(0, 0, validDLQ(t, "order-1"), []byte("garbage"))

	pub := &fakePublisher{}
	r := newTestReplayer(source, pub, false, 10)

	got, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report{Mode: "dry-run", Scanned: 2, Replayed: 1, Skipped: 1}, got)
	assert.Empty(t, pub.sent())
}

func TestReplayer_ExecutePublishesAcrossPartitions(t *testing.T) {
	source := newFakeSource()
	source.add(1, 5, validDLQ(t, "order-2"))
	source.add(0, 0, validDLQ(t, "order-1"))

	pub := &fakePublisher{}
	r := newTestReplayer(source, pub, true, 10)

	got, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Replayed)

	sent := pub.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "order-1", sent[0].key, "partitions are replayed in order")
	assert.Equal(t, "order-2", sent[1].key)
	assert.Equal(t, kafka.TopicEvents, sent[0].topic)
	assert.Equal(t, []int64{0, 5}, source.readFrom())
}

func TestReplayer_LimitAndFromNewest(t *testing.T) {
	source := newFakeSource()
	source.add(0, 10, validDLQ(t, "a"), validDLQ(t, "b"), validDLQ(t, "c"))

	r := newTestReplayer(source, &fakePublisher{}, false, 2)
	r.opts.fromNewest = true

	got, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Scanned)
	assert.Equal(t, []int64{11}, source.readFrom(), "start at next-limit")
}

func TestReplayer_PublishError(t *testing.T) {
	source := newFakeSource()
	source.add(0, 0, validDLQ(t, "order-1"))

	r := newTestReplayer(source, &fakePublisher{err: errors.New("broker down")}, true, 10)

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestReplayer_ExecuteWithoutProducer(t *testing.T) {
	r := newTestReplayer(newFakeSource(), nil, true, 10)
	r.producer = nil

	_, err := r.Run(context.Background())
	require.Error(t, err)
}

func TestReplayer_EmptyPartitionAndIdle(t *testing.T) {
	source := newFakeSource()
	source.partitions[3] = &fakePartition{oldest: 4, next: 4}
	// Партиция объявляет записи, но не отдаёт их: выход по idle-timeout.
	source.partitions[4] = &fakePartition{oldest: 0, next: 1, hold: true}

	got, err := newTestReplayer(source, &fakePublisher{}, false, 10).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, got.Scanned)
}

func TestReplayer_ContextCanceled(t *testing.T) {
	source := newFakeSource()
	source.partitions[0] = &fakePartition{oldest: 0, next: 1, hold: true}

	r := newTestReplayer(source, &fakePublisher{}, false, 10)
	r.opts.idleTimeout = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReplayer_PartitionsError(t *testing.T) {
	source := newFakeSource()
	source.partitionsErr = errors.New("metadata unavailable")

	_, err := newTestReplayer(source, nil, false, 10).Run(context.Background())
	require.Error(t, err)
}

func newTestReplayer(source dlqSource, pub *fakePublisher, execute bool, limit int) *replayer {
	r := &replayer{
		source: source,
		opts: options{
			sourceTopic: kafka.TopicDeadLetterQueue,
			targetTopic: kafka.TopicEvents,
			limit:       limit,
			execute:     execute,
			idleTimeout: 20 * time.Millisecond,
		},
		logger: log.WithField("test", "dlq-reprocess"),
	}
	if pub != nil {
		r.producer = pub
	}
	return r
}

func validDLQ(t *testing.T, orderID string) []byte {
	original := mustJSON(t, kafka.NewEnvelope(domain.OutboxMessage{
		ID:          "m-" + orderID,
		AggregateID: orderID,
		EventType:   domain.EventOrderConfirmationRequested,
		Payload:     []byte(`{}`),
	}))
	return mustJSON(t, kafka.DLQMessage{OriginalKey: orderID, OriginalValue: string(original)})
}

type fakePartition struct {
	oldest, next int64
	values       [][]byte
	hold         bool
}

type fakeSource struct {
	mu            sync.Mutex
	partitions    map[int32]*fakePartition
	partitionsErr error
	reads         []int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{partitions: make(map[int32]*fakePartition)}
}

func (s *fakeSource) add(partition int32, oldest int64, values ...[]byte) {
	s.partitions[partition] = &fakePartition{oldest: oldest, next: oldest + int64(len(values)), values: values}
}

func (s *fakeSource) readFrom() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.reads...)
}

func (s *fakeSource) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	out := make([]int32, 0, len(s.partitions))
	for p := range s.partitions {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeSource) Bounds(_ string, partition int32) (int64, int64, error) {
	p := s.partitions[partition]
	return p.oldest, p.next, nil
}

func (s *fakeSource) Read(topic string, partition int32, from int64) (partitionReader, error) {
	s.mu.Lock()
	s.reads = append(s.reads, from)
	s.mu.Unlock()

	p := s.partitions[partition]
	reader := &fakeReader{
		messages: make(chan *sarama.ConsumerMessage, len(p.values)),
		errors:   make(chan *sarama.ConsumerError),
	}
	if !p.hold {
		for i, value := range p.values {
			offset := p.oldest + int64(i)
			if offset < from {
				continue
			}
			reader.messages <- &sarama.ConsumerMessage{Topic: topic, Partition: partition, Offset: offset, Value: value}
		}
	}
	return reader, nil
}

type fakeReader struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (r *fakeReader) Messages() <-chan *sarama.ConsumerMessage { return r.messages }
func (r *fakeReader) Errors() <-chan *sarama.ConsumerError     { return r.errors }
func (r *fakeReader) Close() error                             { return nil }

type published struct {
	topic, key string
	value      []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	msgs []published
}

func (p *fakePublisher) PublishRaw(_ context.Context, topic, key string, value []byte, _ ...sarama.RecordHeader) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, key: key, value: value})
	return nil
}

func (p *fakePublisher) sent() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}
