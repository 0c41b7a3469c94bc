// Package config loads process configuration from the environment.
//
// Values come from environment variables (optionally seeded from a .env file
// in the working directory) and are parsed with github.com/caarlos0/env.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type AppConfig struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Warehouse     WarehouseConfig     `envPrefix:"WAREHOUSE_"`
	Scheduler     SchedulerConfig     `envPrefix:"SCHEDULER_"`
	Redis         RedisConfig         `envPrefix:"REDIS_"`
	RunStore      RunStoreConfig      `envPrefix:"RUN_STORE_"`
	Notifications NotificationsConfig `envPrefix:"NOTIFY_"`
	Extractors    ExtractorsConfig    `envPrefix:"EXTRACTOR_"`
	Insights      InsightsConfig      `envPrefix:"INSIGHTS_"`
}

type WarehouseConfig struct {
	Path string `env:"PATH" envDefault:"data/warehouse.db"`
}

type SchedulerConfig struct {
	Timezone string `env:"TIMEZONE" envDefault:"UTC"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":9090"`
	JobsFile string `env:"JOBS_FILE"`
	// LockBackend is local, redis or postgres.
	LockBackend string `env:"LOCK_BACKEND" envDefault:"local"`
}

// RedisConfig is optional; an empty Addr disables leader election, Redis
// locks and stream publishing.
type RedisConfig struct {
	Addr          string        `env:"ADDR"`
	Password      string        `env:"PASSWORD"`
	DB            int           `env:"DB" envDefault:"0"`
	LeaderKey     string        `env:"LEADER_KEY" envDefault:"etl:leader"`
	LeaderTTL     time.Duration `env:"LEADER_TTL" envDefault:"10s"`
	LockTTL       time.Duration `env:"LOCK_TTL" envDefault:"2h"`
	InsightStream string        `env:"INSIGHT_STREAM" envDefault:"etl:insights"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type RunStoreConfig struct {
	DSN string `env:"DSN"`
}

func (c RunStoreConfig) Enabled() bool { return c.DSN != "" }

type NotificationsConfig struct {
	SlackWebhookURL string        `env:"SLACK_WEBHOOK_URL"`
	SlackChannel    string        `env:"SLACK_CHANNEL"`
	SlackTimeout    time.Duration `env:"SLACK_TIMEOUT" envDefault:"10s"`
	AMQPURL         string        `env:"AMQP_URL"`
	AMQPExchange    string        `env:"AMQP_EXCHANGE" envDefault:"etl.alerts"`
	// FailureStream mirrors failures onto a Redis stream when Redis is set.
	FailureStream bool `env:"FAILURE_STREAM" envDefault:"false"`
}

// ExtractorsConfig maps source ids onto extractor backends, e.g.
// EXTRACTOR_COMMANDS="gads=./export gads;meta=./export meta".
type ExtractorsConfig struct {
	Commands    map[string]string `env:"COMMANDS" envSeparator:";" envKeyValSeparator:"="`
	Checks      map[string]string `env:"CHECKS" envSeparator:";" envKeyValSeparator:"="`
	HTTPBases   map[string]string `env:"HTTP_BASES" envSeparator:";" envKeyValSeparator:"="`
	RecordsPath string            `env:"RECORDS_PATH"`
	Timeout     time.Duration     `env:"TIMEOUT" envDefault:"10m"`
	RateLimit   float64           `env:"RATE_LIMIT" envDefault:"0"`
	// Token is sent as a bearer token by the HTTP extractors.
	Token string `env:"TOKEN"`
}

type InsightsConfig struct {
	LookbackDays int     `env:"LOOKBACK_DAYS" envDefault:"7"`
	Concurrency  int     `env:"CONCURRENCY" envDefault:"4"`
	Significant  float64 `env:"SIGNIFICANT" envDefault:"0.20"`
	High         float64 `env:"HIGH" envDefault:"0.50"`
	Critical     float64 `env:"CRITICAL" envDefault:"0.80"`
}

// Load reads .env when present, then the environment.
func Load() (AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}
	return Parse()
}

// Parse reads the environment only.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// Sanitize applies guardrails to values loaded from env.
func (c *AppConfig) Sanitize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.Warehouse.Path = strings.TrimSpace(c.Warehouse.Path)
	if c.Warehouse.Path == "" {
		c.Warehouse.Path = "data/warehouse.db"
	}

	if strings.TrimSpace(c.Scheduler.Timezone) == "" {
		c.Scheduler.Timezone = "UTC"
	}
	switch b := strings.ToLower(strings.TrimSpace(c.Scheduler.LockBackend)); b {
	case "redis", "postgres":
		c.Scheduler.LockBackend = b
	default:
		c.Scheduler.LockBackend = "local"
	}

	if c.Redis.LeaderTTL < time.Second {
		c.Redis.LeaderTTL = 10 * time.Second
	}
	if c.Redis.LockTTL <= 0 {
		c.Redis.LockTTL = 2 * time.Hour
	}
	if c.Redis.InsightStream == "" {
		c.Redis.InsightStream = "etl:insights"
	}

	if c.Notifications.SlackTimeout <= 0 {
		c.Notifications.SlackTimeout = 10 * time.Second
	}
	if c.Notifications.AMQPExchange == "" {
		c.Notifications.AMQPExchange = "etl.alerts"
	}

	if c.Extractors.Timeout <= 0 {
		c.Extractors.Timeout = 10 * time.Minute
	}
	if c.Extractors.RateLimit < 0 {
		c.Extractors.RateLimit = 0
	}

	if c.Insights.LookbackDays < 1 {
		c.Insights.LookbackDays = 7
	}
	if c.Insights.Concurrency < 1 {
		c.Insights.Concurrency = 4
	}
	if c.Insights.Significant <= 0 || c.Insights.High < c.Insights.Significant || c.Insights.Critical < c.Insights.High {
		c.Insights.Significant, c.Insights.High, c.Insights.Critical = 0.20, 0.50, 0.80
	}
}
