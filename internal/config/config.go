package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	MySQL       DatabaseConfig    `mapstructure:"mysql"`
	ClickHouse  ClickHouseConfig  `mapstructure:"clickhouse"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Destination DestinationConfig `mapstructure:"destination"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Admin       AdminConfig       `mapstructure:"admin"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Log         LogConfig         `mapstructure:"log"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

// ClickHouseConfig gates the optional dispatch audit log.
type ClickHouseConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	DatabaseConfig `mapstructure:",squash"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

// DestinationType selects the configured analytics collector.
type DestinationType string

const (
	DestinationGA4  DestinationType = "ga4"
	DestinationSGTM DestinationType = "sgtm"
)

func (t DestinationType) String() string { return string(t) }

type DestinationConfig struct {
	Type    DestinationType `mapstructure:"type"`
	GA4     GA4Config       `mapstructure:"ga4"`
	SGTM    SGTMConfig      `mapstructure:"sgtm"`
	Timeout time.Duration   `mapstructure:"timeout"`
}

type GA4Config struct {
	MeasurementID string `mapstructure:"measurement_id"`
	APISecret     string `mapstructure:"api_secret"`
	// Endpoint overrides the Measurement Protocol collect URL (EU endpoint, tests).
	Endpoint string `mapstructure:"endpoint"`
}

type SGTMConfig struct {
	EndpointURL string `mapstructure:"endpoint_url"`
	AuthHeader  string `mapstructure:"auth_header"`
}

type QueueConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	Interval      time.Duration `mapstructure:"interval"`
	ClaimTTL      time.Duration `mapstructure:"claim_ttl"`
	RetentionDays int           `mapstructure:"retention_days"`
}

type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (EVRELAY_*).
// The returned Config is an immutable snapshot; callers pass it down explicitly.
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (EVRELAY_*)
	v.SetEnvPrefix("EVRELAY")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.Queue = cfg.Queue.Normalized()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Normalized backfills defaults for zero values and clamps the retry budget
// into its allowed 1..10 range.
func (q QueueConfig) Normalized() QueueConfig {
	if q.BatchSize <= 0 {
		q.BatchSize = 10
	}
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = 5
	}
	if q.MaxAttempts > 10 {
		q.MaxAttempts = 10
	}
	if q.Interval <= 0 {
		q.Interval = 5 * time.Minute
	}
	if q.ClaimTTL <= 0 {
		q.ClaimTTL = time.Minute
	}
	if q.RetentionDays <= 0 {
		q.RetentionDays = 30
	}
	return q
}

func (c Config) validate() error {
	switch c.Destination.Type {
	case DestinationGA4, DestinationSGTM:
	default:
		return fmt.Errorf("invalid destination type %q", c.Destination.Type)
	}
	return nil
}
