package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"regimesync/pkg/errors"
)

type Config struct {
	App           AppConfig
	Feed          FeedConfig
	Broadcast     BroadcastConfig
	EventBridge   EventBridgeConfig
	Fanout        FanoutConfig
	Redis         RedisConfig
	Postgres      PostgresConfig
	Telegram      TelegramConfig
	Metrics       MetricsConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"regimesync"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// FeedConfig configures the consumer side: the reconnecting TCP client
type FeedConfig struct {
	Host        string        `envconfig:"FEED_HOST" default:"127.0.0.1"`
	Port        int           `envconfig:"FEED_PORT" default:"5010"`
	Instrument  string        `envconfig:"FEED_INSTRUMENT" default:""`
	RetryDelay  time.Duration `envconfig:"FEED_RETRY_DELAY" default:"5s"`
	StopTimeout time.Duration `envconfig:"FEED_STOP_TIMEOUT" default:"3s"`
}

// BroadcastConfig configures the producer-side TCP broadcast server
type BroadcastConfig struct {
	Port                int           `envconfig:"BROADCAST_PORT" default:"5010"`
	RebroadcastInterval time.Duration `envconfig:"BROADCAST_REBROADCAST_INTERVAL" default:"30s"`
	SendsPerSecond      float64       `envconfig:"BROADCAST_SENDS_PER_SECOND" default:"10"`
	WriteTimeout        time.Duration `envconfig:"BROADCAST_WRITE_TIMEOUT" default:"5s"`
}

// EventBridgeConfig configures the local JSON event receiver
type EventBridgeConfig struct {
	Port int `envconfig:"EVENT_BRIDGE_PORT" default:"5005"`
}

// FanoutConfig configures the websocket fan-out for dashboards
type FanoutConfig struct {
	Enabled bool   `envconfig:"FANOUT_ENABLED" default:"false"`
	Addr    string `envconfig:"FANOUT_ADDR" default:":8090"`
}

type RedisConfig struct {
	Enabled  bool          `envconfig:"REDIS_ENABLED" default:"false"`
	Host     string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int           `envconfig:"REDIS_PORT" default:"6379"`
	Password string        `envconfig:"REDIS_PASSWORD" default:""`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	TTL      time.Duration `envconfig:"REDIS_SNAPSHOT_TTL" default:"5m"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type PostgresConfig struct {
	Enabled  bool   `envconfig:"POSTGRES_ENABLED" default:"false"`
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"regimesync"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:""`
	Database string `envconfig:"POSTGRES_DB" default:"regimesync"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type TelegramConfig struct {
	Enabled  bool   `envconfig:"TELEGRAM_ENABLED" default:"false"`
	BotToken string `envconfig:"TELEGRAM_BOT_TOKEN" default:""`
	ChatID   int64  `envconfig:"TELEGRAM_CHAT_ID" default:"0"`
}

type MetricsConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Addr    string `envconfig:"METRICS_ADDR" default:":9091"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	SentryDSN   string `envconfig:"SENTRY_DSN" default:""`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"development"`
}

// Load reads configuration from the environment, with an optional .env file
func Load() (*Config, error) {
	// .env is optional; absence is not an error
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configured ports against the valid non-privileged
// TCP port range
func (c *Config) Validate() error {
	if err := ValidatePort(c.Feed.Port); err != nil {
		return errors.Wrapf(err, "FEED_PORT %d", c.Feed.Port)
	}
	if err := ValidatePort(c.Broadcast.Port); err != nil {
		return errors.Wrapf(err, "BROADCAST_PORT %d", c.Broadcast.Port)
	}
	if err := ValidatePort(c.EventBridge.Port); err != nil {
		return errors.Wrapf(err, "EVENT_BRIDGE_PORT %d", c.EventBridge.Port)
	}
	return nil
}

// ValidatePort bounds a port to the valid non-privileged TCP range
func ValidatePort(port int) error {
	if port < 1024 || port > 65535 {
		return errors.ErrInvalidPort
	}
	return nil
}
