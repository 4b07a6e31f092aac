package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Realtime backends for message fan-out.
const (
	RealtimeLocal    = "local"
	RealtimePostgres = "postgres"
	RealtimeRedis    = "redis"
)

// Config holds the service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	AI       AIConfig       `yaml:"ai"`
	Notify   NotifyConfig   `yaml:"notify"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type HTTPConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	// Migrate applies the embedded schema on serve startup.
	Migrate bool `yaml:"migrate"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	TokenTTL  string `yaml:"token_ttl"`
}

// AIConfig configures the generative model used by bulk text ingestion.
type AIConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`
}

// NotifyConfig configures match notification delivery through the outbox.
type NotifyConfig struct {
	WebhookURL   string `yaml:"webhook_url"`
	WebhookToken string `yaml:"webhook_token"`
	Timeout      string `yaml:"timeout"`
	PollInterval string `yaml:"poll_interval"`
	BatchSize    int    `yaml:"batch_size"`
}

type RealtimeConfig struct {
	Backend  string `yaml:"backend"` // local, postgres, redis
	Channel  string `yaml:"channel"`
	RedisURL string `yaml:"redis_url"`
	Buffer   int    `yaml:"buffer"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  "15s",
			WriteTimeout: "15s",
		},
		Database: DatabaseConfig{
			MaxConns: 16,
		},
		Auth: AuthConfig{
			TokenTTL: "24h",
		},
		AI: AIConfig{
			Model:       "gemini-2.5-flash",
			Temperature: 0.2,
			Timeout:     "60s",
		},
		Notify: NotifyConfig{
			Timeout:      "10s",
			PollInterval: "2s",
			BatchSize:    20,
		},
		Realtime: RealtimeConfig{
			Backend: RealtimeLocal,
			Channel: "chat_messages",
			Buffer:  64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file. A missing file yields defaults;
// environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_URL"); v != "" {
		c.Notify.WebhookURL = v
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_TOKEN"); v != "" {
		c.Notify.WebhookToken = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Realtime.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate reports configuration that cannot serve traffic.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("config: auth.jwt_secret is required"))
	}
	switch c.Realtime.Backend {
	case RealtimeLocal, RealtimePostgres:
	case RealtimeRedis:
		if c.Realtime.RedisURL == "" {
			errs = append(errs, errors.New("config: realtime.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown realtime backend %q", c.Realtime.Backend))
	}
	return errors.Join(errs...)
}

func (c *Config) ReadTimeout() time.Duration  { return parseDuration(c.HTTP.ReadTimeout, 15*time.Second) }
func (c *Config) WriteTimeout() time.Duration { return parseDuration(c.HTTP.WriteTimeout, 15*time.Second) }
func (c *Config) TokenTTL() time.Duration     { return parseDuration(c.Auth.TokenTTL, 24*time.Hour) }
func (c *Config) AITimeout() time.Duration    { return parseDuration(c.AI.Timeout, 60*time.Second) }
func (c *Config) NotifyTimeout() time.Duration {
	return parseDuration(c.Notify.Timeout, 10*time.Second)
}
func (c *Config) NotifyPollInterval() time.Duration {
	return parseDuration(c.Notify.PollInterval, 2*time.Second)
}

// BulkTextWriteTimeout bounds the bulk-text response, which waits on the model
// call and the batch insert. It never undercuts the server write timeout.
func (c *Config) BulkTextWriteTimeout() time.Duration {
	d := c.AITimeout() + bulkTextInsertMargin
	if w := c.WriteTimeout(); w > d {
		return w
	}
	return d
}

const bulkTextInsertMargin = 30 * time.Second

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
