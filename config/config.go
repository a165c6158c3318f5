// Package config loads dealmesh configuration from defaults, an optional
// YAML file and DEALMESH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// EnvPrefix is the prefix of environment overrides: llm.api_key is read from
// DEALMESH_LLM_API_KEY.
const EnvPrefix = "DEALMESH"

// Config holds the whole configuration.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Valuation ValuationConfig `mapstructure:"valuation"`
	Predictor PredictorConfig `mapstructure:"predictor"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Store     StoreConfig     `mapstructure:"store"`
	Artifact  ArtifactConfig  `mapstructure:"artifact"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
}

// LLMConfig selects the language model provider.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"` // openai, anthropic, compat or none
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	// Stream switches worker prompts to the provider's streaming endpoint.
	Stream      bool    `mapstructure:"stream"`
}

// Validate checks the provider name.
func (c LLMConfig) Validate() error {
	switch c.Provider {
	case "openai", "anthropic", "none", "":
	case "compat":
		if strings.TrimSpace(c.BaseURL) == "" {
			return fmt.Errorf("llm.base_url is required for the compat provider")
		}
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.Provider)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2]")
	}
	return nil
}

// SearchConfig selects the web search provider.
type SearchConfig struct {
	Provider         string   `mapstructure:"provider"` // tavily, serper or brave
	APIKey           string   `mapstructure:"api_key"`
	BaseURL          string   `mapstructure:"base_url"`
	MaxResults       int      `mapstructure:"max_results"`
	PreferredDomains []string `mapstructure:"preferred_domains"`
}

// Validate checks the provider name and result count.
func (c SearchConfig) Validate() error {
	switch c.Provider {
	case "tavily", "serper", "brave", "":
	default:
		return fmt.Errorf("search.provider %q is not supported", c.Provider)
	}
	if c.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be > 0")
	}
	return nil
}

// CacheConfig configures the search result cache.
type CacheConfig struct {
	Backend string        `mapstructure:"backend"` // none, lru or redis
	Size    int           `mapstructure:"size"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig is the redis connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Validate checks the backend.
func (c CacheConfig) Validate() error {
	switch c.Backend {
	case "none", "", "lru":
	case "redis":
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Backend)
	}
	if c.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	return nil
}

// ValuationConfig configures the CarsXE client. An empty key disables it.
type ValuationConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// PredictorConfig points at the residual model artifact.
type PredictorConfig struct {
	Path string `mapstructure:"path"`
}

// KnowledgeConfig selects the knowledge base.
type KnowledgeConfig struct {
	Backend      string `mapstructure:"backend"` // memory, chromem or none
	PersistPath  string `mapstructure:"persist_path"`
	EmbeddingKey string `mapstructure:"embedding_api_key"`
	CacheSize    int    `mapstructure:"cache_size"`
}

// Validate checks the backend.
func (c KnowledgeConfig) Validate() error {
	switch c.Backend {
	case "memory", "none", "":
	case "chromem":
		if strings.TrimSpace(c.EmbeddingKey) == "" {
			return fmt.Errorf("knowledge.embedding_api_key is required for the chromem backend")
		}
	default:
		return fmt.Errorf("knowledge.backend %q is not supported", c.Backend)
	}
	return nil
}

// StoreConfig is the relational store. An empty DSN disables persistence.
type StoreConfig struct {
	Dialect string `mapstructure:"dialect"` // postgres, mysql or sqlite
	DSN     string `mapstructure:"dsn"`
}

// Validate checks the dialect.
func (c StoreConfig) Validate() error {
	switch strings.ToLower(c.Dialect) {
	case "postgres", "postgresql", "mysql", "sqlite", "sqlite3", "":
		return nil
	}
	return fmt.Errorf("store.dialect %q is not supported", c.Dialect)
}

// ArtifactConfig selects where batch reports are written.
type ArtifactConfig struct {
	Backend string      `mapstructure:"backend"` // memory, local, minio or none
	Dir     string      `mapstructure:"dir"`
	Prefix  string      `mapstructure:"prefix"`
	MinIO   MinIOConfig `mapstructure:"minio"`
}

// MinIOConfig is the S3 compatible endpoint.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

// Validate checks the backend specific settings.
func (c ArtifactConfig) Validate() error {
	switch c.Backend {
	case "memory", "none", "":
	case "local":
		if strings.TrimSpace(c.Dir) == "" {
			return fmt.Errorf("artifact.dir is required for the local backend")
		}
	case "minio":
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("artifact.minio.endpoint and artifact.minio.bucket are required")
		}
	default:
		return fmt.Errorf("artifact.backend %q is not supported", c.Backend)
	}
	return nil
}

// RetryConfig is one retry domain.
type RetryConfig struct {
	Cap     int           `mapstructure:"cap"`
	Backoff time.Duration `mapstructure:"backoff"`
}

// JoinConfig bounds barrier polling. MaxWait/Backoff is the poll budget of
// one barrier round; a round reopened by an LLM retry or research refresh
// starts a fresh budget. MaxWait is not a wall-clock deadline: nodes running
// between polls add their own time.
type JoinConfig struct {
	Backoff time.Duration `mapstructure:"backoff"`
	MaxWait time.Duration `mapstructure:"max_wait"`
}

// TimeoutsConfig bounds external calls.
type TimeoutsConfig struct {
	Search    time.Duration `mapstructure:"search"`
	LLM       time.Duration `mapstructure:"llm"`
	Valuation time.Duration `mapstructure:"valuation"`
	Knowledge time.Duration `mapstructure:"knowledge"`
	Store     time.Duration `mapstructure:"store"`
}

// PipelineConfig tunes the analysis graph and the batch engine.
type PipelineConfig struct {
	Concurrency int            `mapstructure:"concurrency"`
	MaxSteps    int            `mapstructure:"max_steps"`
	Research    RetryConfig    `mapstructure:"research"`
	Comparison  RetryConfig    `mapstructure:"comparison"`
	Scoring     RetryConfig    `mapstructure:"scoring"`
	Join        JoinConfig     `mapstructure:"join"`
	LLMRetries  int            `mapstructure:"llm_retries"`
	Refreshes   int            `mapstructure:"refreshes"`
	Timeouts    TimeoutsConfig `mapstructure:"timeouts"`
	Critique    bool           `mapstructure:"critique"`
	Refine      bool           `mapstructure:"refine"`
	Enhance     bool           `mapstructure:"enhance"`
}

// Validate checks caps and limits.
func (c PipelineConfig) Validate() error {
	var errs []error
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.concurrency must be > 0"))
	}
	if c.MaxSteps <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_steps must be > 0"))
	}
	for name, r := range map[string]RetryConfig{"research": c.Research, "comparison": c.Comparison, "scoring": c.Scoring} {
		if r.Cap <= 0 {
			errs = append(errs, fmt.Errorf("pipeline.%s.cap must be > 0", name))
		}
		if r.Backoff < 0 {
			errs = append(errs, fmt.Errorf("pipeline.%s.backoff must not be negative", name))
		}
	}
	if c.LLMRetries < 0 || c.Refreshes < 0 {
		errs = append(errs, fmt.Errorf("pipeline.llm_retries and pipeline.refreshes must not be negative"))
	}
	if c.Join.Backoff > 0 && c.Join.MaxWait > 0 && int(c.Join.MaxWait/c.Join.Backoff) >= c.MaxSteps {
		errs = append(errs, fmt.Errorf("pipeline.join.max_wait/backoff must stay below pipeline.max_steps"))
	}
	return errors.Join(errs...)
}

// LoggingConfig configures the pipeline logger.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"` // json or text
	AddSource bool   `mapstructure:"add_source"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	MaxCars        int           `mapstructure:"max_cars"`
}

// Validate checks the listen address.
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.MaxCars <= 0 {
		return fmt.Errorf("server.max_cars must be > 0")
	}
	return nil
}

// Validate runs every section check and wraps the failures in ErrInvalid.
func (c *Config) Validate() error {
	err := errors.Join(
		c.LLM.Validate(),
		c.Search.Validate(),
		c.Cache.Validate(),
		c.Knowledge.Validate(),
		c.Store.Validate(),
		c.Artifact.Validate(),
		c.Pipeline.Validate(),
		c.Server.Validate(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.stream", false)

	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.max_results", 12)

	v.SetDefault("cache.backend", "lru")
	v.SetDefault("cache.size", 512)
	v.SetDefault("cache.ttl", 6*time.Hour)
	v.SetDefault("cache.redis.prefix", "dealmesh:")

	v.SetDefault("knowledge.backend", "memory")
	v.SetDefault("knowledge.cache_size", 256)

	v.SetDefault("store.dialect", "sqlite")

	v.SetDefault("artifact.backend", "local")
	v.SetDefault("artifact.dir", "./data")
	v.SetDefault("artifact.prefix", "reports/")

	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.max_steps", 500)
	v.SetDefault("pipeline.research.cap", 3)
	v.SetDefault("pipeline.research.backoff", 200*time.Millisecond)
	v.SetDefault("pipeline.comparison.cap", 3)
	v.SetDefault("pipeline.comparison.backoff", 100*time.Millisecond)
	v.SetDefault("pipeline.scoring.cap", 3)
	v.SetDefault("pipeline.scoring.backoff", 100*time.Millisecond)
	v.SetDefault("pipeline.join.backoff", 50*time.Millisecond)
	v.SetDefault("pipeline.join.max_wait", 20*time.Second)
	v.SetDefault("pipeline.llm_retries", 2)
	v.SetDefault("pipeline.refreshes", 1)
	v.SetDefault("pipeline.timeouts.search", 20*time.Second)
	v.SetDefault("pipeline.timeouts.llm", 60*time.Second)
	v.SetDefault("pipeline.timeouts.valuation", 15*time.Second)
	v.SetDefault("pipeline.timeouts.knowledge", 10*time.Second)
	v.SetDefault("pipeline.timeouts.store", 10*time.Second)
	v.SetDefault("pipeline.critique", true)
	v.SetDefault("pipeline.refine", true)
	v.SetDefault("pipeline.enhance", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Minute)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.max_cars", 50)

	// Keys without a default are still registered so that AutomaticEnv
	// overrides reach Unmarshal.
	for _, key := range []string{
		"llm.api_key", "llm.base_url",
		"search.api_key", "search.base_url",
		"cache.redis.addr", "cache.redis.password",
		"valuation.api_key", "valuation.base_url",
		"predictor.path",
		"knowledge.persist_path", "knowledge.embedding_api_key",
		"store.dsn",
		"artifact.minio.endpoint", "artifact.minio.region", "artifact.minio.bucket",
		"artifact.minio.access_key", "artifact.minio.secret_key", "artifact.minio.prefix",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("artifact.minio.use_ssl", false)
	v.SetDefault("logging.add_source", false)
}

// Load reads path (skipped when empty), applies DEALMESH_* overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
