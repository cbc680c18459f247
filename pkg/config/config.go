// Package config loads and validates application configuration from YAML files,
// an optional .env file, and environment-variable overrides. It provides typed
// structs for every subsystem (Server, Store, Postgres, Redis, Bolt, Kafka,
// Gemini, Pipeline, Credits, Auth, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends selectable through StoreConfig.Backend.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendBolt     = "bolt"
	BackendMemory   = "memory"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Bolt      BoltConfig      `yaml:"bolt"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Credits   CreditsConfig   `yaml:"credits"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// GenerateTimeout bounds a whole generation request, upstream call included.
	GenerateTimeout time.Duration `yaml:"generateTimeout"`
	AllowOrigins    []string      `yaml:"allowOrigins"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters. URL, when set, takes
// precedence over the discrete fields.
type PostgresConfig struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters for the document store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"poolSize"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// BoltConfig holds the embedded bbolt database location.
type BoltConfig struct {
	Path        string        `yaml:"path"`
	OpenTimeout time.Duration `yaml:"openTimeout"`
}

// KafkaConfig holds Kafka broker and topic settings. Events are disabled when
// Enabled is false.
type KafkaConfig struct {
	Enabled    bool        `yaml:"enabled"`
	Brokers    []string    `yaml:"brokers"`
	Topics     KafkaTopics `yaml:"topics"`
	BufferSize int         `yaml:"bufferSize"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IdeaEvents string `yaml:"ideaEvents"`
}

// GeminiConfig holds the generative backend settings.
type GeminiConfig struct {
	APIKey      string        `yaml:"apiKey"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"baseUrl"`
	APIVersion  string        `yaml:"apiVersion"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	Retry       RetryConfig   `yaml:"retry"`
}

// RetryConfig controls the optional resilience layer around the generative
// client. MaxAttempts of 1 disables retries.
type RetryConfig struct {
	MaxAttempts      int           `yaml:"maxAttempts"`
	InitialDelay     time.Duration `yaml:"initialDelay"`
	MaxDelay         time.Duration `yaml:"maxDelay"`
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// PipelineConfig controls the text-distillation stages.
type PipelineConfig struct {
	Language         string  `yaml:"language"`
	SummarySentences int     `yaml:"summarySentences"`
	KeywordCount     int     `yaml:"keywordCount"`
	KeywordMaxNGram  int     `yaml:"keywordMaxNGram"`
	KeywordDedup     float64 `yaml:"keywordDedup"`
	MaxPromptChars   int     `yaml:"maxPromptChars"`
	MinContentChars  int     `yaml:"minContentChars"`
}

// CreditsConfig holds the monetization defaults.
type CreditsConfig struct {
	ClientSignupCredits int `yaml:"clientSignupCredits"`
	AccountCredits      int `yaml:"accountCredits"`
}

// AuthConfig holds token signing settings.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwtSecret"`
	TokenTTL   time.Duration `yaml:"tokenTTL"`
	BcryptCost int           `yaml:"bcryptCost"`
}

// RateLimitConfig controls the per-user request budget. Backend "redis"
// shares the budget across instances through the redis section.
type RateLimitConfig struct {
	RequestsPerMinute int    `yaml:"requestsPerMinute"`
	Backend           string `yaml:"backend"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), loads a .env file when one is
// present, and applies environment-variable overrides. It returns a Config
// populated with defaults for any missing values. Load does not validate; call
// Validate before serving.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate checks that every credential required by the selected backends is
// present. The service must refuse to start when it fails.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		missing = append(missing, "JWT_SECRET_KEY")
	}
	switch c.Store.Backend {
	case BackendPostgres:
		if c.Postgres.URL == "" && c.Postgres.Host == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			missing = append(missing, "PA_REDIS_ADDR")
		}
	case BackendBolt:
		if c.Bolt.Path == "" {
			missing = append(missing, "PA_BOLT_PATH")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.RateLimit.Backend {
	case "", BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" && c.Store.Backend != BackendRedis {
			missing = append(missing, "PA_REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimit.Backend)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		missing = append(missing, "PA_KAFKA_BROKERS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
// Credentials are intentionally left empty.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			GenerateTimeout: 60 * time.Second,
			AllowOrigins:    []string{"*"},
		},
		Store: StoreConfig{
			Backend: BackendPostgres,
		},
		Postgres: PostgresConfig{
			SSLMode:         "require",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			PoolSize:  10,
			KeyPrefix: "propelai",
		},
		Bolt: BoltConfig{
			OpenTimeout: 5 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:    []string{"localhost:9092"},
			BufferSize: 1000,
			Topics: KafkaTopics{
				IdeaEvents: "idea-events",
			},
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.5-flash",
			APIVersion:  "v1beta",
			Temperature: 0.8,
			Timeout:     45 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:      1,
				InitialDelay:     500 * time.Millisecond,
				MaxDelay:         5 * time.Second,
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Pipeline: PipelineConfig{
			Language:         "english",
			SummarySentences: 5,
			KeywordCount:     10,
			KeywordMaxNGram:  3,
			KeywordDedup:     0.9,
			MaxPromptChars:   8000,
			MinContentChars:  150,
		},
		Credits: CreditsConfig{
			ClientSignupCredits: 3,
			AccountCredits:      5,
		},
		Auth: AuthConfig{
			TokenTTL:   30 * 24 * time.Hour,
			BcryptCost: 12,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			Backend:           BackendMemory,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads PA_* environment variables, plus the well-known
// credential variables, and overrides the corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(strings.TrimPrefix(v, ":")); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PA_SERVER_GENERATE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.GenerateTimeout = d
		}
	}
	if v := os.Getenv("PA_SERVER_ALLOW_ORIGINS"); v != "" {
		cfg.Server.AllowOrigins = splitList(v)
	}
	if v := os.Getenv("PA_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.URL = v
	}
	if v := os.Getenv("PA_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("PA_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("PA_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("PA_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("PA_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("PA_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("PA_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PA_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PA_BOLT_PATH"); v != "" {
		cfg.Bolt.Path = v
	}
	if v := os.Getenv("PA_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("PA_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("PA_GEMINI_MODEL"); v != "" {
		cfg.Gemini.Model = v
	}
	if v := os.Getenv("PA_GEMINI_BASE_URL"); v != "" {
		cfg.Gemini.BaseURL = v
	}
	if v := os.Getenv("PA_GEMINI_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gemini.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("PA_RATELIMIT_BACKEND"); v != "" {
		cfg.RateLimit.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("JWT_SECRET_KEY"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("PA_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PA_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PA_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if v := os.Getenv("PA_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
