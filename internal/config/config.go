package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse DatabaseConfig   `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Providers  []ProviderConfig `mapstructure:"providers"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Summary    SummaryConfig    `mapstructure:"summary"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Admin      AdminConfig      `mapstructure:"admin"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelegramConfig struct {
	Token         string `mapstructure:"token"`
	PublicURL     string `mapstructure:"public_url"`
	WebhookPath   string `mapstructure:"webhook_path"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	APIEndpoint   string `mapstructure:"api_endpoint"`
}

// WebhookURL is the absolute URL Telegram delivers updates to.
func (t TelegramConfig) WebhookURL() string {
	return strings.TrimRight(t.PublicURL, "/") + t.WebhookPath
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type WorkersConfig struct {
	Lanes          int           `mapstructure:"lanes"`
	LaneBuffer     int           `mapstructure:"lane_buffer"`
	UpdateTimeout  time.Duration `mapstructure:"update_timeout"`
	CheckLogBatch  int           `mapstructure:"check_log_batch"`
	CheckLogFlush  time.Duration `mapstructure:"check_log_flush"`
	DedupeWindow   time.Duration `mapstructure:"dedupe_window"`
	ChatStateTTL   time.Duration `mapstructure:"chat_state_ttl"`
	FloodPerMinute int           `mapstructure:"flood_per_minute"`
}

type DispatcherConfig struct {
	Strategy string      `mapstructure:"strategy"` // sequential | race | parallel
	Retry    RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type ProviderConfig struct {
	Name      string        `mapstructure:"name"`
	Kind      string        `mapstructure:"kind"` // dadata | checko
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	RPS       float64       `mapstructure:"rps"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type QuotaConfig struct {
	DailyFreeLimit int    `mapstructure:"daily_free_limit"`
	Backend        string `mapstructure:"backend"` // mysql | redis
	FailOpen       bool   `mapstructure:"fail_open"`
	Timezone       string `mapstructure:"timezone"`
}

type CacheConfig struct {
	Backend string        `mapstructure:"backend"` // mysql | redis
	TTL     time.Duration `mapstructure:"ttl"`
}

type SummaryConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxTokens int           `mapstructure:"max_tokens"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

type AdminConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (INNBOT_*).
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

	// env override (INNBOT_TELEGRAM_TOKEN -> telegram.token)
	v.SetEnvPrefix("INNBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	// provider keys live outside the YAML list so they can come from the environment
	for i := range cfg.Providers {
		if cfg.Providers[i].APIKey == "" {
			cfg.Providers[i].APIKey = v.GetString("provider_keys." + cfg.Providers[i].Name)
		}
	}

	return cfg, nil
}
