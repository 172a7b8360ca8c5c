package app

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// EnvPrefix префикс переменных окружения сервиса.
const EnvPrefix = "CHECKOUT"

const (
	// StorageDriverMemory хранит данные в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres использует PostgreSQL.
	StorageDriverPostgres = "postgres"
	// StorageDriverMongo использует MongoDB.
	StorageDriverMongo = "mongo"

	// NotificationDriverLog пишет подтверждения заказа в лог.
	NotificationDriverLog = "log"
	// NotificationDriverKafka публикует подтверждения в Kafka.
	NotificationDriverKafka = "kafka"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	GRPCAddr    string `mapstructure:"grpc_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	StorageDriver       string `mapstructure:"storage_driver"`
	PostgresDSN         string `mapstructure:"postgres_dsn"`
	PostgresAutoMigrate bool   `mapstructure:"postgres_auto_migrate"`
	PostgresMaxConns    int    `mapstructure:"postgres_max_conns"`
	MongoURI            string `mapstructure:"mongo_uri"`
	MongoDatabase       string `mapstructure:"mongo_database"`
	MongoTransactions   bool   `mapstructure:"mongo_transactions"`

	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	CartCacheTTL  time.Duration `mapstructure:"cart_cache_ttl"`

	KafkaBrokers            string `mapstructure:"kafka_brokers"`
	KafkaEventsTopic        string `mapstructure:"kafka_events_topic"`
	KafkaDLQTopic           string `mapstructure:"kafka_dlq_topic"`
	KafkaNotificationsTopic string `mapstructure:"kafka_notifications_topic"`
	KafkaConsumerGroup      string `mapstructure:"kafka_consumer_group"`
	NotificationDriver      string `mapstructure:"notification_driver"`

	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxBatchSize    int           `mapstructure:"outbox_batch_size"`
	OutboxMaxAttempts  int           `mapstructure:"outbox_max_attempts"`
	OutboxRetryDelay   time.Duration `mapstructure:"outbox_retry_delay"`

	IdempotencyTTL              time.Duration `mapstructure:"idempotency_ttl"`
	IdempotencyCleanupInterval  time.Duration `mapstructure:"idempotency_cleanup_interval"`
	IdempotencyCleanupBatchSize int           `mapstructure:"idempotency_cleanup_batch_size"`

	StatusPolicy      string  `mapstructure:"status_policy"`
	CheckoutRateLimit float64 `mapstructure:"checkout_rate_limit"`
	CheckoutRateBurst int     `mapstructure:"checkout_rate_burst"`
	AuthTokens        string  `mapstructure:"auth_tokens"`
	CatalogSeedFile   string  `mapstructure:"catalog_seed_file"`

	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
	LogFile      string `mapstructure:"log_file"`
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    25,
		MongoDatabase:       "checkout",
		MongoTransactions:   true,

		CartCacheTTL: 10 * time.Minute,

		KafkaEventsTopic:        "checkout.events",
		KafkaDLQTopic:           "checkout.events.dlq",
		KafkaNotificationsTopic: "checkout.notifications",
		KafkaConsumerGroup:      "checkout-service",
		NotificationDriver:      NotificationDriverLog,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   200 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		StatusPolicy:      domain.PolicyPermissive,
		CheckoutRateLimit: 5,
		CheckoutRateBurst: 10,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfig читает конфигурацию: значения по умолчанию, затем файл
// (если указан configFile или CHECKOUT_CONFIG_FILE), затем переменные окружения.
func LoadConfig(configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		configFile = v.GetString("config_file")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults регистрирует каждое поле, иначе AutomaticEnv не увидит ключ при Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("config_file", "")
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("grpc_addr", d.GRPCAddr)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("storage_driver", d.StorageDriver)
	v.SetDefault("postgres_dsn", d.PostgresDSN)
	v.SetDefault("postgres_auto_migrate", d.PostgresAutoMigrate)
	v.SetDefault("postgres_max_conns", d.PostgresMaxConns)
	v.SetDefault("mongo_uri", d.MongoURI)
	v.SetDefault("mongo_database", d.MongoDatabase)
	v.SetDefault("mongo_transactions", d.MongoTransactions)
	v.SetDefault("redis_addr", d.RedisAddr)
	v.SetDefault("redis_password", d.RedisPassword)
	v.SetDefault("redis_db", d.RedisDB)
	v.SetDefault("cart_cache_ttl", d.CartCacheTTL)
	v.SetDefault("kafka_brokers", d.KafkaBrokers)
	v.SetDefault("kafka_events_topic", d.KafkaEventsTopic)
	v.SetDefault("kafka_dlq_topic", d.KafkaDLQTopic)
	v.SetDefault("kafka_notifications_topic", d.KafkaNotificationsTopic)
	v.SetDefault("kafka_consumer_group", d.KafkaConsumerGroup)
	v.SetDefault("notification_driver", d.NotificationDriver)
	v.SetDefault("outbox_poll_interval", d.OutboxPollInterval)
	v.SetDefault("outbox_batch_size", d.OutboxBatchSize)
	v.SetDefault("outbox_max_attempts", d.OutboxMaxAttempts)
	v.SetDefault("outbox_retry_delay", d.OutboxRetryDelay)
	v.SetDefault("idempotency_ttl", d.IdempotencyTTL)
	v.SetDefault("idempotency_cleanup_interval", d.IdempotencyCleanupInterval)
	v.SetDefault("idempotency_cleanup_batch_size", d.IdempotencyCleanupBatchSize)
	v.SetDefault("status_policy", d.StatusPolicy)
	v.SetDefault("checkout_rate_limit", d.CheckoutRateLimit)
	v.SetDefault("checkout_rate_burst", d.CheckoutRateBurst)
	v.SetDefault("auth_tokens", d.AuthTokens)
	v.SetDefault("catalog_seed_file", d.CatalogSeedFile)
	v.SetDefault("otlp_endpoint", d.OTLPEndpoint)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_file", d.LogFile)
}

func (c *Config) normalize() {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.NotificationDriver = strings.ToLower(strings.TrimSpace(c.NotificationDriver))
	c.StatusPolicy = strings.ToLower(strings.TrimSpace(c.StatusPolicy))
	c.PostgresDSN = strings.TrimSpace(c.PostgresDSN)
	c.MongoURI = strings.TrimSpace(c.MongoURI)
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

// Brokers возвращает список брокеров Kafka; пустой, если Kafka не настроена.
func (c Config) Brokers() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	for name, addr := range map[string]string{"http_addr": c.HTTPAddr, "grpc_addr": c.GRPCAddr, "metrics_addr": c.MetricsAddr} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid address %q", name, addr))
		}
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres_dsn is required for postgres storage"))
		}
		if c.PostgresMaxConns <= 0 {
			errs = append(errs, errors.New("postgres_max_conns must be positive"))
		}
	case StorageDriverMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("mongo_uri is required for mongo storage"))
		}
		if strings.TrimSpace(c.MongoDatabase) == "" {
			errs = append(errs, errors.New("mongo_database is required for mongo storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage_driver %q", c.StorageDriver))
	}

	switch c.NotificationDriver {
	case NotificationDriverLog:
	case NotificationDriverKafka:
		if len(c.Brokers()) == 0 {
			errs = append(errs, errors.New("kafka_brokers is required for kafka notification driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported notification_driver %q", c.NotificationDriver))
	}

	if _, err := domain.PolicyByName(c.StatusPolicy); err != nil {
		errs = append(errs, err)
	}

	positive := map[string]time.Duration{
		"outbox_poll_interval":         c.OutboxPollInterval,
		"idempotency_ttl":              c.IdempotencyTTL,
		"idempotency_cleanup_interval": c.IdempotencyCleanupInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("outbox_retry_delay must not be negative"))
	}
	if c.CartCacheTTL < 0 {
		errs = append(errs, errors.New("cart_cache_ttl must not be negative"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox_batch_size must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox_max_attempts must be positive"))
	}
	if c.IdempotencyCleanupBatchSize <= 0 {
		errs = append(errs, errors.New("idempotency_cleanup_batch_size must be positive"))
	}
	if c.CheckoutRateLimit < 0 {
		errs = append(errs, errors.New("checkout_rate_limit must not be negative"))
	}

	return errors.Join(errs...)
}
