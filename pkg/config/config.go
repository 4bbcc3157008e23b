// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, ATS, Summarizer, Search, Session, Redis, Kafka, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Ranking strategies understood by the ranker.
const (
	RankingFrequency = "frequency"
	RankingCategory  = "category"
)

// Session store backends.
const (
	SessionMemory   = "memory"
	SessionRedis    = "redis"
	SessionPostgres = "postgres"
)

// Summarizer providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	ATS        ATSConfig        `yaml:"ats"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Search     SearchConfig     `yaml:"search"`
	Enrich     EnrichConfig     `yaml:"enrich"`
	Session    SessionConfig    `yaml:"session"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings. WriteTimeout does not apply to
// the streaming search route, which clears its own write deadline.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// ATSConfig points the upstream client at the applicant-tracking system.
type ATSConfig struct {
	BaseURL         string        `yaml:"baseUrl"`
	UserAgent       string        `yaml:"userAgent"`
	PagesPerKeyword int           `yaml:"pagesPerKeyword"`
	SearchTimeout   time.Duration `yaml:"searchTimeout"`
	NotesTimeout    time.Duration `yaml:"notesTimeout"`
	ValidateOnIssue bool          `yaml:"validateOnIssue"`
}

// SummarizerConfig selects and configures the language-model collaborator.
type SummarizerConfig struct {
	Provider     string        `yaml:"provider"`
	OpenAIAPIKey string        `yaml:"openaiApiKey"`
	OpenAIURL    string        `yaml:"openaiBaseUrl"`
	GeminiAPIKey string        `yaml:"geminiApiKey"`
	Model        string        `yaml:"model"`
	Temperature  float32       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SearchConfig controls ranking and the per-caller enrichment cap.
type SearchConfig struct {
	RankingStrategy      string `yaml:"rankingStrategy"`
	DefaultMaxCandidates int    `yaml:"defaultMaxCandidates"`
	MaxCandidatesLimit   int    `yaml:"maxCandidatesLimit"`
	CacheResults         bool   `yaml:"cacheResults"`
}

// EnrichConfig controls the notes/summary pipeline.
type EnrichConfig struct {
	Concurrency  int `yaml:"concurrency"`
	NoteMaxChars int `yaml:"noteMaxChars"`
}

// SessionConfig selects where session tokens are resolved.
type SessionConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

// GatewayConfig holds CORS and per-session rate limits.
type GatewayConfig struct {
	AllowOrigins       []string `yaml:"allowOrigins"`
	RateLimitPerMinute int      `yaml:"rateLimitPerMinute"`
	RateLimitBurst     int      `yaml:"rateLimitBurst"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	AnalyticsEvents  string `yaml:"analyticsEvents"`
	EnrichmentEvents string `yaml:"enrichmentEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// ArchiveConfig enables the development-only summary archive.
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ResilienceConfig tunes breakers and retries around per-candidate calls.
type ResilienceConfig struct {
	NotesRetryAttempts   int           `yaml:"notesRetryAttempts"`
	BreakerMinRequests   uint32        `yaml:"breakerMinRequests"`
	BreakerFailureRatio  float64       `yaml:"breakerFailureRatio"`
	BreakerOpenTimeout   time.Duration `yaml:"breakerOpenTimeout"`
	BreakerHalfOpenCalls uint32        `yaml:"breakerHalfOpenCalls"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span-tree logging.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result.
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
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		ATS: ATSConfig{
			BaseURL:         "https://api.clockworkrecruiting.com/v3.0",
			UserAgent:       "cw-search-prototype/1.0",
			PagesPerKeyword: 2,
			SearchTimeout:   15 * time.Second,
			NotesTimeout:    10 * time.Second,
			ValidateOnIssue: true,
		},
		Summarizer: SummarizerConfig{
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o-2024-08-06",
			Temperature: 0.7,
			Timeout:     45 * time.Second,
		},
		Search: SearchConfig{
			RankingStrategy:      RankingFrequency,
			DefaultMaxCandidates: 10,
			MaxCandidatesLimit:   50,
			CacheResults:         true,
		},
		Enrich: EnrichConfig{
			Concurrency:  1,
			NoteMaxChars: 500,
		},
		Session: SessionConfig{
			Backend: SessionMemory,
			TTL:     24 * time.Hour,
		},
		Gateway: GatewayConfig{
			AllowOrigins:       []string{"*"},
			RateLimitPerMinute: 30,
			RateLimitBurst:     5,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "cwsearch",
			User:            "cwsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "cwsearch-analytics",
			Topics: KafkaTopics{
				AnalyticsEvents:  "search-analytics",
				EnrichmentEvents: "enrichment-analytics",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 2 * time.Minute,
		},
		Resilience: ResilienceConfig{
			NotesRetryAttempts:   2,
			BreakerMinRequests:   10,
			BreakerFailureRatio:  0.5,
			BreakerOpenTimeout:   30 * time.Second,
			BreakerHalfOpenCalls: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Search.RankingStrategy {
	case RankingFrequency, RankingCategory:
	default:
		return fmt.Errorf("config: unknown search.rankingStrategy %q", c.Search.RankingStrategy)
	}
	switch c.Session.Backend {
	case SessionMemory, SessionRedis, SessionPostgres:
	default:
		return fmt.Errorf("config: unknown session.backend %q", c.Session.Backend)
	}
	switch c.Summarizer.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("config: unknown summarizer.provider %q", c.Summarizer.Provider)
	}
	if c.ATS.SearchTimeout <= 0 || c.ATS.NotesTimeout <= 0 || c.Summarizer.Timeout <= 0 {
		return fmt.Errorf("config: upstream timeouts must be positive")
	}
	if c.ATS.PagesPerKeyword < 1 {
		return fmt.Errorf("config: ats.pagesPerKeyword must be at least 1")
	}
	if c.Search.DefaultMaxCandidates < 1 || c.Search.MaxCandidatesLimit < c.Search.DefaultMaxCandidates {
		return fmt.Errorf("config: search.defaultMaxCandidates must be in [1, maxCandidatesLimit]")
	}
	if c.Enrich.Concurrency < 1 {
		c.Enrich.Concurrency = 1
	}
	if c.Enrich.NoteMaxChars <= 0 {
		c.Enrich.NoteMaxChars = 500
	}
	return nil
}

// applyEnvOverrides reads CW_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CW_ATS_BASE_URL"); v != "" {
		cfg.ATS.BaseURL = v
	}
	if v := os.Getenv("CW_OPENAI_API_KEY"); v != "" {
		cfg.Summarizer.OpenAIAPIKey = v
	}
	if v := os.Getenv("CW_GEMINI_API_KEY"); v != "" {
		cfg.Summarizer.GeminiAPIKey = v
	}
	if v := os.Getenv("CW_SUMMARIZER_PROVIDER"); v != "" {
		cfg.Summarizer.Provider = v
	}
	if v := os.Getenv("CW_SUMMARIZER_MODEL"); v != "" {
		cfg.Summarizer.Model = v
	}
	if v := os.Getenv("CW_RANKING_STRATEGY"); v != "" {
		cfg.Search.RankingStrategy = v
	}
	if v := os.Getenv("CW_SESSION_BACKEND"); v != "" {
		cfg.Session.Backend = v
	}
	if v := os.Getenv("CW_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("CW_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("CW_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("CW_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("CW_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("CW_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CW_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("CW_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CW_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CW_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CW_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
