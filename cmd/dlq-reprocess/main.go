// Command dlq-reprocess возвращает события из DLQ checkout в основной топик.
// По умолчанию работает в режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/app"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	replayClientID     = "checkout-dlq-reprocess"
)

type options struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func (o options) mode() string {
	if o.execute {
		return "execute"
	}
	return "dry-run"
}

// parseOptions берёт значения по умолчанию из конфигурации сервиса
// (CHECKOUT_KAFKA_*), флаги их переопределяют.
func parseOptions(args []string, cfg app.Config) (options, error) {
	var (
		brokers string
		opts    options
	)
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokers, "brokers", cfg.KafkaBrokers, "comma-separated Kafka brokers")
	fs.StringVar(&opts.sourceTopic, "source-topic", cfg.KafkaDLQTopic, "DLQ topic to read")
	fs.StringVar(&opts.targetTopic, "target-topic", cfg.KafkaEventsTopic, "topic to replay into")
	fs.IntVar(&opts.limit, "limit", defaultReplayLimit, "max messages to scan")
	fs.BoolVar(&opts.execute, "execute", false, "publish messages instead of a dry run")
	fs.BoolVar(&opts.fromNewest, "from-newest", false, "scan the newest messages of each partition")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle time")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.brokers = app.Config{KafkaBrokers: brokers}.Brokers()
	opts.sourceTopic = strings.TrimSpace(opts.sourceTopic)
	opts.targetTopic = strings.TrimSpace(opts.targetTopic)

	var errs []error
	if len(opts.brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers are required (-brokers or CHECKOUT_KAFKA_BROKERS)"))
	}
	if opts.sourceTopic == "" || opts.targetTopic == "" {
		errs = append(errs, errors.New("source-topic and target-topic are required"))
	}
	if opts.sourceTopic != "" && opts.sourceTopic == opts.targetTopic {
		errs = append(errs, errors.New("source-topic and target-topic must differ"))
	}
	if opts.limit <= 0 {
		errs = append(errs, errors.New("limit must be > 0"))
	}
	if opts.idleTimeout <= 0 {
		errs = append(errs, errors.New("idle-timeout must be > 0"))
	}
	if len(errs) > 0 {
		return options{}, errors.Join(errs...)
	}
	return opts, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := app.LoadConfig("")
	if err != nil {
		fail("load config: %v", err)
	}
	opts, err := parseOptions(os.Args[1:], cfg)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := run(ctx, opts)
	if err != nil {
		fail("dlq replay failed: %v", err)
	}
	fmt.Println(report)
}

func run(ctx context.Context, opts options) (report, error) {
	source, err := openSource(opts.brokers)
	if err != nil {
		return report{}, err
	}
	defer source.Close()

	r := &replayer{
		source: source,
		opts:   opts,
		logger: log.WithFields(log.Fields{"component": "dlq-reprocess", "mode": opts.mode()}),
	}

	if opts.execute {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: opts.brokers, ClientID: replayClientID}, r.logger)
		if err != nil {
			return report{}, err
		}
		defer producer.Close()
		r.producer = producer
	}

	return r.Run(ctx)
}

// saramaSource читает DLQ через sarama.Client.
type saramaSource struct {
	client   sarama.Client
	consumer sarama.Consumer
}

func openSource(brokers []string) (*saramaSource, error) {
	config := sarama.NewConfig()
	config.ClientID = replayClientID
	config.Consumer.Return.Errors = true

	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("connect to kafka: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &saramaSource{client: client, consumer: consumer}, nil
}

func (s *saramaSource) Partitions(topic string) ([]int32, error) {
	return s.client.Partitions(topic)
}

func (s *saramaSource) Bounds(topic string, partition int32) (int64, int64, error) {
	oldest, err := s.client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset of %s/%d: %w", topic, partition, err)
	}
	next, err := s.client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset of %s/%d: %w", topic, partition, err)
	}
	return oldest, next, nil
}

func (s *saramaSource) Read(topic string, partition int32, from int64) (partitionReader, error) {
	return s.consumer.ConsumePartition(topic, partition, from)
}

func (s *saramaSource) Close() error {
	return errors.Join(s.consumer.Close(), s.client.Close())
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
