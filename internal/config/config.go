package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	base "github.com/big-kim/castle-sub001/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type KafkaTopics struct {
	OrdersAccepted  string
	OrdersCancelled string
	TradesExecuted  string
	Transactions    string
	DLQ             string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
}

type AuthConfig struct {
	JWTSecret string
}

type WorkerConfig struct {
	QueueSize      int
	ConfirmRetries int
	ConfirmBackoff time.Duration
}

type Config struct {
	App    base.AppConfig
	DB     DBConfig
	Kafka  KafkaConfig
	Auth   AuthConfig
	Worker WorkerConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("CASTLE_CONFIG"))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("CASTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("CASTLE_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "castled")
	v.SetDefault("kafka.topics.orders_accepted", "orders.accepted")
	v.SetDefault("kafka.topics.orders_cancelled", "orders.cancelled")
	v.SetDefault("kafka.topics.trades_executed", "trades.executed")
	v.SetDefault("kafka.topics.transactions", "transactions.recorded")
	v.SetDefault("kafka.topics.dlq", "castled.dlq")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "castle")
	v.SetDefault("postgres.user", "castle")
	v.SetDefault("postgres.password", "castle")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("worker.queue_size", 1024)
	v.SetDefault("worker.confirm_retries", 3)
	v.SetDefault("worker.confirm_backoff", "100ms")

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("DB_HOST", v.GetString("postgres.host")),
			Port:     envInt("DB_PORT", v.GetInt("postgres.port")),
			Name:     envString("DB_NAME", v.GetString("postgres.database")),
			User:     envString("DB_USER", v.GetString("postgres.user")),
			Password: envString("DB_PASSWORD", v.GetString("postgres.password")),
			SSLMode:  envString("DB_SSLMODE", v.GetString("postgres.sslmode")),
		},
		Kafka: KafkaConfig{
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			Topics: KafkaTopics{
				OrdersAccepted:  envString("KAFKA_ORDERS_ACCEPTED_TOPIC", v.GetString("kafka.topics.orders_accepted")),
				OrdersCancelled: envString("KAFKA_ORDERS_CANCELLED_TOPIC", v.GetString("kafka.topics.orders_cancelled")),
				TradesExecuted:  envString("KAFKA_TRADES_TOPIC", v.GetString("kafka.topics.trades_executed")),
				Transactions:    envString("KAFKA_TRANSACTIONS_TOPIC", v.GetString("kafka.topics.transactions")),
				DLQ:             envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dlq")),
			},
		},
		Auth: AuthConfig{
			JWTSecret: envString("JWT_SECRET", v.GetString("auth.jwt_secret")),
		},
		Worker: WorkerConfig{
			QueueSize:      envInt("WORKER_QUEUE_SIZE", v.GetInt("worker.queue_size")),
			ConfirmRetries: envInt("WORKER_CONFIRM_RETRIES", v.GetInt("worker.confirm_retries")),
			ConfirmBackoff: envDuration("WORKER_CONFIRM_BACKOFF", v.GetDuration("worker.confirm_backoff")),
		},
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("CASTLE_JWT_SECRET must be set")
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv("CASTLE_" + key); v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv("CASTLE_" + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	for _, name := range []string{"CASTLE_" + key, key} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv("CASTLE_" + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
