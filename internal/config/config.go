// Package config handles configuration loading for astra-responder.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"astra-responder/internal/api"
	"astra-responder/internal/blockstore"
	"astra-responder/internal/executor"
	"astra-responder/internal/firewall"
	"astra-responder/internal/history"
	"astra-responder/internal/ingest"
	"astra-responder/internal/pending"
	"astra-responder/internal/schema"
)

// Config holds the complete application configuration.
type Config struct {
	Server     ServerConfig           `yaml:"server"`
	Logging    LoggingConfig          `yaml:"logging"`
	Auth       api.AuthConfig         `yaml:"auth"`
	RateLimit  api.RateLimitConfig    `yaml:"rate_limit"`
	Policy     PolicyConfig           `yaml:"policy"`
	Validation schema.ValidatorConfig `yaml:"validation"`
	Blocks     BlocksConfig           `yaml:"blocks"`
	History    HistoryConfig          `yaml:"history"`
	Kafka      ingest.KafkaConfig     `yaml:"kafka"`
	DTLS       ingest.DTLSConfig      `yaml:"dtls"`
	Firewall   firewall.Config        `yaml:"firewall"`
	Executor   executor.Config        `yaml:"executor"`
	Pending    pending.Config         `yaml:"pending"`
	Notify     NotifyConfig           `yaml:"notify"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PolicyConfig holds action policy settings. PolicyFile, when set, overrides
// the built-in defaults per alert type; PatternsFile does the same for the
// attack pattern catalog.
type PolicyConfig struct {
	PolicyFile   string `yaml:"policy_file"`
	PatternsFile string `yaml:"patterns_file"`
}

// BlocksConfig holds active block store settings. With Redis disabled,
// blocks live in memory only and do not survive a restart.
type BlocksConfig struct {
	SweepInterval time.Duration          `yaml:"sweep_interval"`
	RedisEnabled  bool                   `yaml:"redis_enabled"`
	Redis         blockstore.RedisConfig `yaml:"redis"`
}

// HistoryConfig holds action history settings.
type HistoryConfig struct {
	Capacity          int                       `yaml:"capacity"`
	ClickHouseEnabled bool                      `yaml:"clickhouse_enabled"`
	ClickHouse        history.ClickHouseConfig  `yaml:"clickhouse"`
	BatchWriter       history.BatchWriterConfig `yaml:"batch_writer"`
	Archive           history.ArchiveConfig     `yaml:"archive"`
}

// NotifyConfig holds notification channel settings. Channels with empty
// endpoints are skipped at startup.
type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Slack    SlackConfig     `yaml:"slack"`
	Telegram TelegramConfig  `yaml:"telegram"`
	LogOnly  bool            `yaml:"log_only"`
}

// WebhookConfig holds one webhook notification target.
type WebhookConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// SlackConfig holds Slack notification settings.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// TelegramConfig holds Telegram notification settings.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: api.AuthConfig{
			APIKeyHeader: "X-API-Key",
			Enabled:      false, // Disabled by default for development
		},
		RateLimit:  api.DefaultRateLimitConfig(),
		Validation: schema.DefaultValidatorConfig(),
		Blocks: BlocksConfig{
			SweepInterval: 30 * time.Second,
			RedisEnabled:  false, // Disabled by default for development without Redis
			Redis:         blockstore.DefaultRedisConfig(),
		},
		History: HistoryConfig{
			Capacity:          10000,
			ClickHouseEnabled: false, // Disabled by default for development without ClickHouse
			ClickHouse:        history.DefaultClickHouseConfig(),
			BatchWriter:       history.DefaultBatchWriterConfig(),
			Archive:           history.DefaultArchiveConfig(),
		},
		Kafka:    ingest.DefaultKafkaConfig(),
		DTLS:     ingest.DefaultDTLSConfig(),
		Firewall: firewall.DefaultConfig(),
		Executor: executor.DefaultConfig(),
		Pending:  pending.DefaultConfig(),
		Notify: NotifyConfig{
			LogOnly: true, // Log channel only until real endpoints are configured
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("RESPONDER_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, cfg.Validate()
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("RESPONDER_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}

	if level := os.Getenv("RESPONDER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if hash := os.Getenv("RESPONDER_API_KEY_HASH"); hash != "" {
		c.Auth.HashedKeys = append(c.Auth.HashedKeys, hash)
		c.Auth.Enabled = true
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Blocks.Redis.Addr = addr
		c.Blocks.RedisEnabled = true
	}

	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Blocks.Redis.Password = pass
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.History.ClickHouse.Hosts = []string{host}
		c.History.ClickHouseEnabled = true
	}

	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.History.ClickHouse.Database = db
	}

	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.History.ClickHouse.Username = user
	}

	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.History.ClickHouse.Password = pass
	}

	if enabled := os.Getenv("RESPONDER_RATELIMIT_ENABLED"); enabled == "false" {
		c.RateLimit.Enabled = false
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitAndTrim(brokers, ",")
		c.Kafka.Enabled = true
	}

	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		c.Kafka.Topic = topic
	}

	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" && c.History.Archive.AccessKeyID == "" {
		c.History.Archive.AccessKeyID = key
	}

	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" && c.History.Archive.SecretAccessKey == "" {
		c.History.Archive.SecretAccessKey = secret
	}
}

// Validate checks the configuration for values that would fail at startup.
func (c *Config) Validate() error {
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.Server.HTTPPort)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}

	if c.Auth.Enabled && len(c.Auth.HashedKeys) == 0 {
		return fmt.Errorf("auth enabled with no hashed keys")
	}

	if c.History.Capacity < 1 {
		return fmt.Errorf("history capacity must be positive, got %d", c.History.Capacity)
	}

	if c.Blocks.SweepInterval <= 0 {
		return fmt.Errorf("blocks sweep_interval must be positive")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerIP < 1 || c.RateLimit.WindowSize <= 0) {
		return fmt.Errorf("rate limit enabled with invalid window")
	}

	if c.Kafka.Enabled {
		if err := c.Kafka.Validate(); err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
	}

	if c.History.Archive.Enabled && c.History.Archive.Bucket == "" {
		return fmt.Errorf("archive enabled with no bucket")
	}

	return nil
}

// splitAndTrim splits a string by separator and trims whitespace from each part.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
