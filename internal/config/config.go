// Package config provides unified configuration loading for the card retrieval core.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the retrieval core.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Vocabulary    VocabularyConfig    `yaml:"vocabulary"`
	Routing       RoutingConfig       `yaml:"routing"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Pins          PinsConfig          `yaml:"pins"`
	Consult       ConsultConfig       `yaml:"consult"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds document store connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite, postgres or memory
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	// SeedPath points at a JSON fixture used by the memory driver and `cardrag-cli seed`.
	SeedPath string `yaml:"seed_path"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	VectorDimension int           `yaml:"vector_dimension"`
}

// CacheConfig holds the two-tier cache settings.
type CacheConfig struct {
	RetrievalEnabled bool          `yaml:"retrieval_cache_enabled"`
	AnswerEnabled    bool          `yaml:"answer_cache_enabled"`
	MemoryTTL        time.Duration `yaml:"memory_ttl"`
	MemoryMaxCost    int64         `yaml:"memory_max_cost"`
	RedisEnabled     bool          `yaml:"redis_enabled"`
	RedisTTL         time.Duration `yaml:"redis_ttl"`
	Redis            RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// URL overrides Addr, Password and DB when set.
	URL         string        `yaml:"url"`
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	Prefix      string        `yaml:"prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"` // openai or mock
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Dimension  int           `yaml:"dimension"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries uint64        `yaml:"max_retries"`
}

// VocabularyConfig holds dictionary and catalog settings.
type VocabularyConfig struct {
	DictionaryPath         string        `yaml:"dictionary_path"`
	CatalogRefreshInterval time.Duration `yaml:"catalog_refresh_interval"`
}

// RoutingConfig holds router tunables.
type RoutingConfig struct {
	StrictSearchMode     bool     `yaml:"strict_search_mode"`
	MinQueryLength       int      `yaml:"min_query_length"`
	FuzzyMatchingEnabled bool     `yaml:"fuzzy_matching_enabled"`
	FuzzyThreshold       int      `yaml:"fuzzy_threshold"`
	FuzzyCardThreshold   int      `yaml:"fuzzy_card_threshold"`
	FuzzyTopN            int      `yaml:"fuzzy_top_n"`
	FuzzyMaxCandidates   int      `yaml:"fuzzy_max_candidates"`
	FuzzyMinLength       int      `yaml:"fuzzy_min_length"`
	CardTokenMinScore    int      `yaml:"card_token_min_score"`
	CardTokenMaxHits     int      `yaml:"card_token_max_hits"`
	ActionAllowlist      []string `yaml:"action_allowlist"`
	PaymentAllowlist     []string `yaml:"payment_allowlist"`
	ConsultCaseSearch    bool     `yaml:"consult_case_search"`
	DomainConfidenceFlip float64  `yaml:"domain_confidence_flip"`
}

// RetrievalConfig holds ranking and escalation tunables.
type RetrievalConfig struct {
	TopK                    int           `yaml:"top_k"`
	RRFKConstant            int           `yaml:"rrf_k_constant"`
	CardInfoMinFetch        int           `yaml:"card_info_min_fetch"`
	KeywordMaxTerms         int           `yaml:"keyword_max_terms"`
	MaxStoreCallsPerQuery   int           `yaml:"max_store_calls_per_query"`
	MaxConcurrentStoreCalls int           `yaml:"max_concurrent_store_calls"`
	TimeBudget              time.Duration `yaml:"time_budget"`
	MinGuideContentLength   int           `yaml:"min_guide_content_length"`
	Weights                 BoostWeights  `yaml:"weights"`
	Thresholds              Thresholds    `yaml:"thresholds"`
}

// BoostWeights holds the additive boost weights applied on top of RRF.
type BoostWeights struct {
	TitleScore      float64 `yaml:"title_score"`
	CardMeta        int     `yaml:"card_meta"`
	CardTitle       int     `yaml:"card_title"`
	RankTermTitle   int     `yaml:"rank_term_title"`
	QueryTitle      int     `yaml:"query_title"`
	QueryContent    int     `yaml:"query_content"`
	Category        int     `yaml:"category"`
	GuideCoverage   int     `yaml:"guide_coverage"`
	NonGuidePenalty int     `yaml:"non_guide_penalty"`
	Reissue         int     `yaml:"reissue"`
}

// Thresholds holds the escalation and pin gating thresholds.
type Thresholds struct {
	CardInfoHigh   float64 `yaml:"card_info_high"`
	CardInfoGap    float64 `yaml:"card_info_gap"`
	CardInfoLow    float64 `yaml:"card_info_low"`
	CardInfoGapLow float64 `yaml:"card_info_gap_low"`
	CardUsageWeak  float64 `yaml:"card_usage_weak"`
	PinMinScore    float64 `yaml:"pin_min_score"`
}

// PinsConfig holds policy pin settings.
type PinsConfig struct {
	Path            string `yaml:"path"`
	MaxPinsPerQuery int    `yaml:"max_pins_per_query"`
}

// ConsultConfig holds consult-case retrieval settings.
type ConsultConfig struct {
	Enabled  bool `yaml:"enabled"`
	TopK     int  `yaml:"top_k"`
	MaxSteps int  `yaml:"max_steps"`
	MaxQs    int  `yaml:"max_questions"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}

		cfg.Vocabulary.DictionaryPath = ResolveRelativePath(path, cfg.Vocabulary.DictionaryPath)
		if cfg.Pins.Path != "" {
			cfg.Pins.Path = ResolveRelativePath(path, cfg.Pins.Path)
		}
		if cfg.Database.SeedPath != "" {
			cfg.Database.SeedPath = ResolveRelativePath(path, cfg.Database.SeedPath)
		}
	}

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     15 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/cardrag.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    8,
				MaxIdleConns:    4,
				ConnMaxLifetime: 5 * time.Minute,
				VectorDimension: 1536,
			},
		},
		Cache: CacheConfig{
			RetrievalEnabled: true,
			AnswerEnabled:    true,
			MemoryTTL:        5 * time.Minute,
			MemoryMaxCost:    64 << 20,
			RedisEnabled:     false,
			RedisTTL:         time.Hour,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
				Prefix:   "cardrag:",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   "mock",
			BaseURL:    "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			Dimension:  1536,
			Timeout:    10 * time.Second,
			MaxRetries: 2,
		},
		Vocabulary: VocabularyConfig{
			DictionaryPath:         "configs/keywords.json",
			CatalogRefreshInterval: 10 * time.Minute,
		},
		Routing: RoutingConfig{
			StrictSearchMode:     true,
			MinQueryLength:       2,
			FuzzyMatchingEnabled: true,
			FuzzyThreshold:       85,
			FuzzyCardThreshold:   78,
			FuzzyTopN:            3,
			FuzzyMaxCandidates:   1000,
			FuzzyMinLength:       3,
			CardTokenMinScore:    3,
			CardTokenMaxHits:     3,
			ActionAllowlist:      []string{"분실", "분실도난"},
			PaymentAllowlist:     []string{"iM유페이", "네이버페이", "삼성페이", "애플페이", "카카오페이", "티머니"},
			ConsultCaseSearch:    true,
			DomainConfidenceFlip: 0.7,
		},
		Retrieval: RetrievalConfig{
			TopK:                    4,
			RRFKConstant:            60,
			CardInfoMinFetch:        20,
			KeywordMaxTerms:         8,
			MaxStoreCallsPerQuery:   12,
			MaxConcurrentStoreCalls: 4,
			TimeBudget:              2500 * time.Millisecond,
			MinGuideContentLength:   60,
			Weights: BoostWeights{
				TitleScore:      0.05,
				CardMeta:        8,
				CardTitle:       2,
				RankTermTitle:   1,
				QueryTitle:      1,
				QueryContent:    0,
				Category:        1,
				GuideCoverage:   2,
				NonGuidePenalty: 2,
				Reissue:         3,
			},
			Thresholds: Thresholds{
				CardInfoHigh:   0.35,
				CardInfoGap:    0.08,
				CardInfoLow:    0.22,
				CardInfoGapLow: 0.04,
				CardUsageWeak:  0.1,
				PinMinScore:    0.35,
			},
		},
		Pins: PinsConfig{
			MaxPinsPerQuery: 3,
		},
		Consult: ConsultConfig{
			Enabled:  true,
			TopK:     2,
			MaxSteps: 3,
			MaxQs:    2,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "cardrag",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("postgres driver requires a dsn")
	}

	if c.Embedding.Provider != "openai" && c.Embedding.Provider != "mock" {
		return fmt.Errorf("invalid embedding provider: %s", c.Embedding.Provider)
	}

	if c.Vocabulary.DictionaryPath == "" {
		return fmt.Errorf("vocabulary dictionary_path is required")
	}

	if c.Routing.MinQueryLength < 0 {
		return fmt.Errorf("min_query_length must be >= 0")
	}

	if c.Routing.FuzzyThreshold < 0 || c.Routing.FuzzyThreshold > 100 {
		return fmt.Errorf("fuzzy_threshold must be between 0 and 100")
	}

	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 20 {
		return fmt.Errorf("top_k must be between 1 and 20")
	}

	if c.Retrieval.RRFKConstant < 1 {
		return fmt.Errorf("rrf_k_constant must be positive")
	}

	if c.Retrieval.MaxStoreCallsPerQuery < 1 {
		return fmt.Errorf("max_store_calls_per_query must be positive")
	}

	if c.Pins.MaxPinsPerQuery < 0 {
		return fmt.Errorf("max_pins_per_query must be >= 0")
	}

	return nil
}

// IsDevelopment returns true if running against a local store.
func (c *Config) IsDevelopment() bool {
	return c.Database.Driver != "postgres"
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisEnabled = true
		cfg.Cache.Redis.URL = v
	}

	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
		cfg.Embedding.Provider = "openai"
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("KEYWORD_DICT_PATH"); v != "" {
		cfg.Vocabulary.DictionaryPath = v
	}

	if v := os.Getenv("RAG_STRICT_SEARCH"); v != "" {
		cfg.Routing.StrictSearchMode = v != "0"
	}

	if v := os.Getenv("RAG_MIN_QUERY_LEN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Routing.MinQueryLength = n
		}
	}

	if v := os.Getenv("RAG_FUZZY"); v != "" {
		cfg.Routing.FuzzyMatchingEnabled = v != "0"
	}

	if v := os.Getenv("RAG_FUZZY_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Routing.FuzzyThreshold = n
		}
	}

	if v := os.Getenv("RAG_MAX_STORE_CALLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.MaxStoreCallsPerQuery = n
		}
	}

	if v := os.Getenv("RAG_MAX_PINS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pins.MaxPinsPerQuery = n
		}
	}

	if v := os.Getenv("RAG_RETRIEVE_CACHE"); v != "" {
		cfg.Cache.RetrievalEnabled = v != "0"
	}

	if v := os.Getenv("RAG_ANSWER_CACHE"); v != "" {
		cfg.Cache.AnswerEnabled = v != "0"
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if targetPath == "" || filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
