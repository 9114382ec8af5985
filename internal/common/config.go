package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Logging     LoggingConfig    `toml:"logging"`
	Generation  GenerationConfig `toml:"generation"`
	Providers   ProvidersConfig  `toml:"providers"`
	Embeddings  EmbeddingsConfig `toml:"embeddings"`
	Retrieval   RetrievalConfig  `toml:"retrieval"`
	Guards      GuardsConfig     `toml:"guards"`
	Scheduler   SchedulerConfig  `toml:"scheduler"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	// DataRoot is the base directory for the database and wiki cache.
	DataRoot string       `toml:"data_root"`
	SQLite   SQLiteConfig `toml:"sqlite"`
}

// SQLiteConfig controls the embedded database
type SQLiteConfig struct {
	Path          string `toml:"path"`            // Database file path (default: <data_root>/codewiki/codewiki.db)
	CacheSizeMB   int    `toml:"cache_size_mb"`   // Page cache size in MB
	BusyTimeoutMS int    `toml:"busy_timeout_ms"` // Lock wait before SQLITE_BUSY
	WALMode       bool   `toml:"wal_mode"`        // Enable write-ahead logging
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// GenerationConfig controls the wiki generation pipeline
type GenerationConfig struct {
	PollInterval    time.Duration `toml:"poll_interval"`    // Dispatcher poll cadence (default: 5s)
	PageConcurrency int           `toml:"page_concurrency"` // Concurrent page generations (default: 1)
	MaxPageRetries  int           `toml:"max_page_retries"` // Attempts per page within a run (default: 3)
	PageTimeout     time.Duration `toml:"page_timeout"`     // Per-page LLM deadline (default: 600s)
	CacheDir        string        `toml:"cache_dir"`        // Wiki cache output directory (default: <data_root>/codewiki/cache)
}

// ProviderRoute configures one chat completion backend
type ProviderRoute struct {
	APIKey       string  `toml:"api_key"`
	BaseURL      string  `toml:"base_url"`
	DefaultModel string  `toml:"default_model"`
	Temperature  float64 `toml:"temperature"`
	TopP         float64 `toml:"top_p"`
	MaxTokens    int     `toml:"max_tokens"`
}

// ProvidersConfig carries all chat completion backends
type ProvidersConfig struct {
	Default    string        `toml:"default"` // Provider used when requests omit one
	OpenAI     ProviderRoute `toml:"openai"`
	Anthropic  ProviderRoute `toml:"anthropic"`
	Google     ProviderRoute `toml:"google"`
	OpenRouter ProviderRoute `toml:"openrouter"`
	DeepSeek   ProviderRoute `toml:"deepseek"`
	Azure      ProviderRoute `toml:"azure"`
	Ollama     ProviderRoute `toml:"ollama"`

	// Retry behavior shared by all providers
	RetryBaseDelay time.Duration `toml:"retry_base_delay"` // Exponential backoff base (default: 1s)
	RetryMaxDelay  time.Duration `toml:"retry_max_delay"`  // Backoff cap (default: 60s)
	RetryDeadline  time.Duration `toml:"retry_deadline"`   // Overall retry budget (default: 600s)

	// RequestsPerSecond paces calls per provider. Zero disables pacing.
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// EmbeddingsConfig controls embedding providers and the failover pool
type EmbeddingsConfig struct {
	// Chain is the fallback order of embedding backends.
	Chain     []string `toml:"chain"`
	BatchSize int      `toml:"batch_size"`

	OpenAIModel string `toml:"openai_model"`
	GoogleModel string `toml:"google_model"`
	OllamaModel string `toml:"ollama_model"`
	Dimension   int    `toml:"dimension"`

	// EndpointsFile points at a JSON array of endpoint records
	// ({name, endpoint, api_key, api_version, use_v1}) for the
	// OpenAI-style backend. Env and numbered-variable loading apply
	// when unset.
	EndpointsFile string `toml:"endpoints_file"`

	// SyntaxAware selects the declaration-based splitter for
	// recognized languages. Off, every file gets the word-window
	// splitter.
	SyntaxAware bool `toml:"syntax_aware"`
}

// RetrievalConfig controls RAG context assembly
type RetrievalConfig struct {
	TopK               int     `toml:"top_k"`               // Initial similarity cut (default: 20)
	RerankEnabled      bool    `toml:"rerank_enabled"`      // Enable the re-rank stage
	RerankTopK         int     `toml:"rerank_top_k"`        // Results kept after re-ranking (default: 10)
	DedupThreshold     float64 `toml:"dedup_threshold"`     // Near-duplicate cosine cutoff (default: 0.95)
	RelevanceThreshold float64 `toml:"relevance_threshold"` // Minimum score to keep (default: 0.3)
}

// GuardsConfig controls per-user request and spend ceilings
type GuardsConfig struct {
	RequestsPerMinute int     `toml:"requests_per_minute"` // 0 or negative disables rate limiting
	MonthlyBudgetUSD  float64 `toml:"monthly_budget_usd"`  // 0 or negative disables budget checks
	CostPer1KPrompt   float64 `toml:"cost_per_1k_prompt"`
	CostPer1KOutput   float64 `toml:"cost_per_1k_output"`
}

// SchedulerConfig controls background maintenance
type SchedulerConfig struct {
	Enabled          bool   `toml:"enabled"`
	MaintenanceCron  string `toml:"maintenance_cron"`  // Rate-limit pruning and stale callback GC
	StaleCallbackAge string `toml:"stale_callback_age"` // Progress callbacks older than this are dropped
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			DataRoot: "./data",
			SQLite: SQLiteConfig{
				Path:          "", // Derived from DataRoot when empty
				CacheSizeMB:   64,
				BusyTimeoutMS: 5000,
				WALMode:       true,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Generation: GenerationConfig{
			PollInterval:    5 * time.Second,
			PageConcurrency: 1,
			MaxPageRetries:  3,
			PageTimeout:     600 * time.Second,
			CacheDir:        "", // Derived from DataRoot when empty
		},
		Providers: ProvidersConfig{
			Default: "google",
			OpenAI: ProviderRoute{
				BaseURL:      "https://api.openai.com/v1",
				DefaultModel: "gpt-4o",
				Temperature:  0.7,
				TopP:         0.8,
			},
			Anthropic: ProviderRoute{
				DefaultModel: "claude-sonnet-4-20250514",
				Temperature:  0.7,
				MaxTokens:    4096,
			},
			Google: ProviderRoute{
				DefaultModel: "gemini-2.5-flash",
				Temperature:  0.7,
				TopP:         0.8,
			},
			OpenRouter: ProviderRoute{
				BaseURL:      "https://openrouter.ai/api/v1",
				DefaultModel: "openai/gpt-4o",
				Temperature:  0.7,
			},
			DeepSeek: ProviderRoute{
				BaseURL:      "https://api.deepseek.com/v1",
				DefaultModel: "deepseek-chat",
				Temperature:  0.7,
			},
			Azure: ProviderRoute{
				Temperature: 0.7,
			},
			Ollama: ProviderRoute{
				BaseURL:      "http://localhost:11434",
				DefaultModel: "qwen3:8b",
				Temperature:  0.7,
			},
			RetryBaseDelay:    1 * time.Second,
			RetryMaxDelay:     60 * time.Second,
			RetryDeadline:     600 * time.Second,
			RequestsPerSecond: 0,
		},
		Embeddings: EmbeddingsConfig{
			Chain:       []string{"openai", "google", "ollama"},
			BatchSize:   32,
			OpenAIModel: "text-embedding-3-small",
			GoogleModel: "gemini-embedding-001",
			OllamaModel: "nomic-embed-text",
			Dimension:   768,
			SyntaxAware: true,
		},
		Retrieval: RetrievalConfig{
			TopK:               20,
			RerankEnabled:      false,
			RerankTopK:         10,
			DedupThreshold:     0.95,
			RelevanceThreshold: 0.3,
		},
		Guards: GuardsConfig{
			RequestsPerMinute: 0,
			MonthlyBudgetUSD:  0,
			CostPer1KPrompt:   0.0025,
			CostPer1KOutput:   0.01,
		},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			MaintenanceCron:  "0 */10 * * * *", // Every 10 minutes
			StaleCallbackAge: "1h",
		},
	}
}

// DatabasePath resolves the SQLite file location
func (c *Config) DatabasePath() string {
	if c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.Storage.DataRoot, "codewiki", "codewiki.db")
}

// WikiCacheDir resolves the wiki cache output directory
func (c *Config) WikiCacheDir() string {
	if c.Generation.CacheDir != "" {
		return c.Generation.CacheDir
	}
	return filepath.Join(c.Storage.DataRoot, "codewiki", "cache")
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks structural constraints on the loaded configuration
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Generation.PageConcurrency < 1 {
		return fmt.Errorf("invalid configuration: generation.page_concurrency must be at least 1")
	}
	if c.Generation.MaxPageRetries < 1 {
		return fmt.Errorf("invalid configuration: generation.max_page_retries must be at least 1")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: CODEWIKI_ENV, fallback: GO_ENV)
	if env := os.Getenv("CODEWIKI_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("CODEWIKI_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CODEWIKI_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if dataRoot := os.Getenv("CODEWIKI_DATA_ROOT"); dataRoot != "" {
		config.Storage.DataRoot = dataRoot
	}
	if dbPath := os.Getenv("CODEWIKI_SQLITE_PATH"); dbPath != "" {
		config.Storage.SQLite.Path = dbPath
	}

	// Logging configuration
	if level := os.Getenv("CODEWIKI_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("CODEWIKI_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("CODEWIKI_LOG_OUTPUT"); output != "" {
		parts := strings.Split(output, ",")
		outputs := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Generation configuration
	if concurrency := os.Getenv("CODEWIKI_PAGE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Generation.PageConcurrency = c
		}
	}
	if retries := os.Getenv("CODEWIKI_MAX_PAGE_RETRIES"); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil {
			config.Generation.MaxPageRetries = r
		}
	}
	if timeout := os.Getenv("CODEWIKI_PAGE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Generation.PageTimeout = d
		}
	}
	if interval := os.Getenv("CODEWIKI_POLL_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Generation.PollInterval = d
		}
	}

	// Provider API keys
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.Providers.OpenAI.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.Providers.Anthropic.APIKey = key
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		config.Providers.Google.APIKey = key
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		config.Providers.OpenRouter.APIKey = key
	}
	if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
		config.Providers.DeepSeek.APIKey = key
	}
	if key := os.Getenv("AZURE_OPENAI_API_KEY"); key != "" {
		config.Providers.Azure.APIKey = key
	}
	if base := os.Getenv("AZURE_OPENAI_ENDPOINT"); base != "" {
		config.Providers.Azure.BaseURL = base
	}
	if base := os.Getenv("OLLAMA_HOST"); base != "" {
		config.Providers.Ollama.BaseURL = base
	}
	if provider := os.Getenv("CODEWIKI_DEFAULT_PROVIDER"); provider != "" {
		config.Providers.Default = provider
	}

	// Embedding configuration
	if chain := os.Getenv("CODEWIKI_EMBEDDER_CHAIN"); chain != "" {
		parts := strings.Split(chain, ",")
		backends := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				backends = append(backends, trimmed)
			}
		}
		if len(backends) > 0 {
			config.Embeddings.Chain = backends
		}
	}
	if file := os.Getenv("CODEWIKI_EMBEDDING_ENDPOINTS_FILE"); file != "" {
		config.Embeddings.EndpointsFile = file
	}
	if raw := os.Getenv("CODEWIKI_SYNTAX_AWARE_CHUNKING"); raw != "" {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			config.Embeddings.SyntaxAware = enabled
		}
	}

	// Guard configuration
	if rpm := os.Getenv("CODEWIKI_REQUESTS_PER_MINUTE"); rpm != "" {
		if r, err := strconv.Atoi(rpm); err == nil {
			config.Guards.RequestsPerMinute = r
		}
	}
	if budget := os.Getenv("CODEWIKI_MONTHLY_BUDGET_USD"); budget != "" {
		if b, err := strconv.ParseFloat(budget, 64); err == nil {
			config.Guards.MonthlyBudgetUSD = b
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}
