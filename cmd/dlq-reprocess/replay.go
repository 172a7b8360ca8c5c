package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// dlqSource доступ к партициям DLQ-топика.
type dlqSource interface {
	Partitions(topic string) ([]int32, error)
	// Bounds возвращает первый доступный offset и offset следующей записи.
	Bounds(topic string, partition int32) (oldest, next int64, err error)
	Read(topic string, partition int32, from int64) (partitionReader, error)
}

type rawPublisher interface {
	PublishRaw(ctx context.Context, topic, key string, value []byte, headers ...sarama.RecordHeader) error
}

type report struct {
	Mode     string
	Scanned  int
	Replayed int
	Skipped  int
}

func (r report) String() string {
	return fmt.Sprintf("%s: scanned=%d replayed=%d skipped=%d", r.Mode, r.Scanned, r.Replayed, r.Skipped)
}

func (r *report) add(other report) {
	r.Scanned += other.Scanned
	r.Replayed += other.Replayed
	r.Skipped += other.Skipped
}

type replayer struct {
	source   dlqSource
	producer rawPublisher
	opts     options
	logger   *log.Entry
}

// Run обходит партиции по возрастанию номера, пока не исчерпан limit.
func (r *replayer) Run(ctx context.Context) (report, error) {
	total := report{Mode: r.opts.mode()}
	if r.opts.execute && r.producer == nil {
		return total, fmt.Errorf("execute mode requires a producer")
	}

	partitions, err := r.source.Partitions(r.opts.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.opts.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		budget := r.opts.limit - total.Scanned
		if budget <= 0 {
			break
		}
		part, err := r.replayPartition(ctx, partition, budget)
		total.add(part)
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"scanned":  total.Scanned,
		"replayed": total.Replayed,
		"skipped":  total.Skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, budget int) (report, error) {
	var part report

	oldest, next, err := r.source.Bounds(r.opts.sourceTopic, partition)
	if err != nil {
		return part, err
	}
	if next <= oldest {
		return part, nil
	}

	from := oldest
	if r.opts.fromNewest {
		from = max(next-int64(budget), oldest)
	}

	reader, err := r.source.Read(r.opts.sourceTopic, partition, from)
	if err != nil {
		return part, fmt.Errorf("read %s/%d: %w", r.opts.sourceTopic, partition, err)
	}
	defer reader.Close()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	for part.Scanned < budget {
		select {
		case <-ctx.Done():
			return part, ctx.Err()
		case <-idle.C:
			return part, nil
		case cerr := <-reader.Errors():
			if cerr != nil {
				return part, fmt.Errorf("read %s/%d: %w", r.opts.sourceTopic, partition, cerr.Err)
			}
		case msg, ok := <-reader.Messages():
			if !ok || msg == nil || msg.Offset >= next {
				return part, nil
			}
			idle.Reset(r.opts.idleTimeout)

			part.Scanned++
			if err := r.handle(ctx, msg, &part); err != nil {
				return part, err
			}
			if msg.Offset+1 >= next {
				return part, nil
			}
		}
	}
	return part, nil
}

func (r *replayer) handle(ctx context.Context, msg *sarama.ConsumerMessage, part *report) error {
	fields := log.Fields{"partition": msg.Partition, "offset": msg.Offset}

	candidate, ok, err := decodeDeadLetter(msg, r.opts.targetTopic)
	if err != nil || !ok {
		part.Skipped++
		r.logger.WithError(err).WithFields(fields).Warn("dlq message skipped")
		return nil
	}

	fields["target_topic"] = candidate.topic
	fields["key"] = candidate.key
	fields["event_type"] = candidate.eventType

	if r.opts.execute {
		if err := r.producer.PublishRaw(ctx, candidate.topic, candidate.key, candidate.value, candidate.headers()...); err != nil {
			return fmt.Errorf("replay %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
		r.logger.WithFields(fields).Info("dlq message replayed")
	} else {
		r.logger.WithFields(fields).Info("dlq replay candidate")
	}
	part.Replayed++
	return nil
}
