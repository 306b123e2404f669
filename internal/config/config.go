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

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// Config represents the complete amanrecall configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Reasoning  ReasoningConfig  `yaml:"reasoning" json:"reasoning"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// SearchConfig holds the recursive search defaults. Callers may still
// override them per request.
type SearchConfig struct {
	// MaxDepth is the hard ceiling on retrieval rounds.
	MaxDepth int `yaml:"max_depth" json:"max_depth"`
	// MaxChunks caps the final bundle size.
	MaxChunks int `yaml:"max_chunks" json:"max_chunks"`
	// MinSimilarity is the cosine similarity floor for inclusion.
	MinSimilarity float64 `yaml:"min_similarity" json:"min_similarity"`
	// Scope is one of conversation, user, all.
	Scope string `yaml:"scope" json:"scope"`
	// TargetTokenBudget stops the loop once the bundle is this large.
	TargetTokenBudget int `yaml:"target_token_budget" json:"target_token_budget"`
	// EvaluationMaxTokens bounds the sufficiency judgment's own output.
	EvaluationMaxTokens int `yaml:"evaluation_max_tokens" json:"evaluation_max_tokens"`
	// PerSourceLimit is how many matches each source searcher asks for.
	PerSourceLimit int `yaml:"per_source_limit" json:"per_source_limit"`
	// Parallelism bounds concurrent source searches within a round.
	Parallelism int `yaml:"parallelism" json:"parallelism"`
	// SourceTimeout bounds one source search (embed + store lookup).
	SourceTimeout string `yaml:"source_timeout" json:"source_timeout"`
	// EvaluatorTimeout bounds one sufficiency evaluation.
	EvaluatorTimeout string `yaml:"evaluator_timeout" json:"evaluator_timeout"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is ollama, openai or static.
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	BaseURL    string `yaml:"base_url" json:"base_url"`
	APIKey     string `yaml:"api_key" json:"-"`
	Timeout    string `yaml:"timeout" json:"timeout"`
	// CacheSize is the LRU capacity for query embeddings (0 disables).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// RateLimit is requests per second (0 = unlimited).
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" json:"rate_burst"`
}

// ReasoningConfig configures the model used for sufficiency judgments and
// final answers.
type ReasoningConfig struct {
	// Provider is ollama or openai.
	Provider        string `yaml:"provider" json:"provider"`
	Model           string `yaml:"model" json:"model"`
	OllamaHost      string `yaml:"ollama_host" json:"ollama_host"`
	BaseURL         string `yaml:"base_url" json:"base_url"`
	APIKey          string `yaml:"api_key" json:"-"`
	Timeout         string `yaml:"timeout" json:"timeout"`
	AnswerMaxTokens int    `yaml:"answer_max_tokens" json:"answer_max_tokens"`
	// CircuitMaxFailures opens the breaker after this many consecutive failures.
	CircuitMaxFailures  int    `yaml:"circuit_max_failures" json:"circuit_max_failures"`
	CircuitResetTimeout string `yaml:"circuit_reset_timeout" json:"circuit_reset_timeout"`
}

// StoreConfig selects the similarity store backend.
type StoreConfig struct {
	// Backend is sqlite, pgvector or memory.
	Backend     string `yaml:"backend" json:"backend"`
	SQLitePath  string `yaml:"sqlite_path" json:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn" json:"-"`
	MaxConns    int    `yaml:"max_conns" json:"max_conns"`

	// SnapshotPath persists the memory backend between runs. Empty keeps it
	// in memory only.
	SnapshotPath string `yaml:"snapshot_path" json:"snapshot_path"`
}

// ServerConfig configures the MCP server and process-wide settings.
type ServerConfig struct {
	Transport   string `yaml:"transport" json:"transport"`
	LogLevel    string `yaml:"log_level" json:"log_level"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// Valid option sets.
var (
	validScopes             = []string{"conversation", "user", "all"}
	validEmbeddingProviders = []string{"ollama", "openai", "static"}
	validReasoningProviders = []string{"ollama", "openai"}
	validStoreBackends      = []string{"sqlite", "pgvector", "memory"}
)

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			MaxDepth:            3,
			MaxChunks:           20,
			MinSimilarity:       0.4,
			Scope:               "user",
			TargetTokenBudget:   4000,
			EvaluationMaxTokens: 500,
			PerSourceLimit:      10,
			Parallelism:         8,
			SourceTimeout:       "5s",
			EvaluatorTimeout:    "15s",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			BatchSize:  32,
			OllamaHost: "http://localhost:11434",
			Timeout:    "30s",
			CacheSize:  1024,
			RateLimit:  0,
			RateBurst:  4,
		},
		Reasoning: ReasoningConfig{
			Provider:            "ollama",
			Model:               "qwen3:4b",
			OllamaHost:          "http://localhost:11434",
			Timeout:             "20s",
			AnswerMaxTokens:     1024,
			CircuitMaxFailures:  3,
			CircuitResetTimeout: "30s",
		},
		Store: StoreConfig{
			Backend:    "sqlite",
			SQLitePath: DefaultSQLitePath(),
			MaxConns:   4,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

// DefaultDataDir returns ~/.amanrecall.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanrecall")
	}
	return filepath.Join(home, ".amanrecall")
}

// DefaultSQLitePath returns the default history database path.
func DefaultSQLitePath() string {
	return filepath.Join(DefaultDataDir(), "history.db")
}

// GetUserConfigPath returns the user configuration file path.
// Follows XDG: $XDG_CONFIG_HOME/amanrecall/config.yaml or
// ~/.config/amanrecall/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrecall", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanrecall", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrecall", "config.yaml")
}

// GetUserConfigDir returns the directory holding the user config file.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user config file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// LoadUserConfig loads only the user configuration file on top of defaults.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load builds the effective configuration for dir.
//
// Precedence (lowest to highest):
//  1. Defaults (NewConfig)
//  2. User config (~/.config/amanrecall/config.yaml)
//  3. Project config (dir/.amanrecall.yaml or .yml)
//  4. dir/.env (never overrides variables already set)
//  5. Environment variables (AMANRECALL_*, OPENAI_API_KEY, DATABASE_URL)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userCfg, err := LoadUserConfig()
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeConfigInvalid, "failed to load user config", err)
	}
	if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, rerrors.New(rerrors.ErrCodeConfigInvalid, "failed to load project config", err)
	}

	if err := loadDotEnv(dir); err != nil {
		return nil, rerrors.New(rerrors.ErrCodeConfigInvalid, "failed to load .env", err)
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ProjectConfigPath returns the project config file in dir, or "" if none.
func ProjectConfigPath(dir string) string {
	for _, name := range []string{".amanrecall.yaml", ".amanrecall.yml"} {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

func (c *Config) loadFromFile(dir string) error {
	if p := ProjectConfigPath(dir); p != "" {
		return c.loadYAML(p)
	}
	return nil
}

func loadDotEnv(dir string) error {
	p := filepath.Join(dir, ".env")
	if !fileExists(p) {
		return nil
	}
	return godotenv.Load(p)
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith copies non-zero fields of other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	mergeInt(&c.Search.MaxDepth, other.Search.MaxDepth)
	mergeInt(&c.Search.MaxChunks, other.Search.MaxChunks)
	mergeFloat(&c.Search.MinSimilarity, other.Search.MinSimilarity)
	mergeString(&c.Search.Scope, other.Search.Scope)
	mergeInt(&c.Search.TargetTokenBudget, other.Search.TargetTokenBudget)
	mergeInt(&c.Search.EvaluationMaxTokens, other.Search.EvaluationMaxTokens)
	mergeInt(&c.Search.PerSourceLimit, other.Search.PerSourceLimit)
	mergeInt(&c.Search.Parallelism, other.Search.Parallelism)
	mergeString(&c.Search.SourceTimeout, other.Search.SourceTimeout)
	mergeString(&c.Search.EvaluatorTimeout, other.Search.EvaluatorTimeout)

	mergeString(&c.Embeddings.Provider, other.Embeddings.Provider)
	mergeString(&c.Embeddings.Model, other.Embeddings.Model)
	mergeInt(&c.Embeddings.Dimensions, other.Embeddings.Dimensions)
	mergeInt(&c.Embeddings.BatchSize, other.Embeddings.BatchSize)
	mergeString(&c.Embeddings.OllamaHost, other.Embeddings.OllamaHost)
	mergeString(&c.Embeddings.BaseURL, other.Embeddings.BaseURL)
	mergeString(&c.Embeddings.APIKey, other.Embeddings.APIKey)
	mergeString(&c.Embeddings.Timeout, other.Embeddings.Timeout)
	mergeInt(&c.Embeddings.CacheSize, other.Embeddings.CacheSize)
	mergeFloat(&c.Embeddings.RateLimit, other.Embeddings.RateLimit)
	mergeInt(&c.Embeddings.RateBurst, other.Embeddings.RateBurst)

	mergeString(&c.Reasoning.Provider, other.Reasoning.Provider)
	mergeString(&c.Reasoning.Model, other.Reasoning.Model)
	mergeString(&c.Reasoning.OllamaHost, other.Reasoning.OllamaHost)
	mergeString(&c.Reasoning.BaseURL, other.Reasoning.BaseURL)
	mergeString(&c.Reasoning.APIKey, other.Reasoning.APIKey)
	mergeString(&c.Reasoning.Timeout, other.Reasoning.Timeout)
	mergeInt(&c.Reasoning.AnswerMaxTokens, other.Reasoning.AnswerMaxTokens)
	mergeInt(&c.Reasoning.CircuitMaxFailures, other.Reasoning.CircuitMaxFailures)
	mergeString(&c.Reasoning.CircuitResetTimeout, other.Reasoning.CircuitResetTimeout)

	mergeString(&c.Store.Backend, other.Store.Backend)
	mergeString(&c.Store.SnapshotPath, other.Store.SnapshotPath)
	mergeString(&c.Store.SQLitePath, other.Store.SQLitePath)
	mergeString(&c.Store.PostgresDSN, other.Store.PostgresDSN)
	mergeInt(&c.Store.MaxConns, other.Store.MaxConns)

	mergeString(&c.Server.Transport, other.Server.Transport)
	mergeString(&c.Server.LogLevel, other.Server.LogLevel)
	mergeString(&c.Server.MetricsAddr, other.Server.MetricsAddr)
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func mergeFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies environment variables, the highest-priority layer.
// Malformed numeric values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANRECALL_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxDepth = n
		}
	}
	if v := os.Getenv("AMANRECALL_MAX_CHUNKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxChunks = n
		}
	}
	if v := os.Getenv("AMANRECALL_MIN_SIMILARITY"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.Search.MinSimilarity = f
		}
	}
	if v := os.Getenv("AMANRECALL_SEARCH_SCOPE"); v != "" {
		c.Search.Scope = v
	}
	if v := os.Getenv("AMANRECALL_TOKEN_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.TargetTokenBudget = n
		}
	}

	if v := os.Getenv("AMANRECALL_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("AMANRECALL_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("AMANRECALL_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
		c.Reasoning.OllamaHost = v
	}
	if v := os.Getenv("AMANRECALL_REASONING_PROVIDER"); v != "" {
		c.Reasoning.Provider = v
	}
	if v := os.Getenv("AMANRECALL_REASONING_MODEL"); v != "" {
		c.Reasoning.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.Embeddings.APIKey == "" {
			c.Embeddings.APIKey = v
		}
		if c.Reasoning.APIKey == "" {
			c.Reasoning.APIKey = v
		}
	}

	if v := os.Getenv("AMANRECALL_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("AMANRECALL_SQLITE_PATH"); v != "" {
		c.Store.SQLitePath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.PostgresDSN = v
	}
	if v := os.Getenv("AMANRECALL_DATABASE_URL"); v != "" {
		c.Store.PostgresDSN = v
	}

	if v := os.Getenv("AMANRECALL_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("AMANRECALL_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
}

// Validate checks the configuration. Failures are configuration errors and
// must stop startup.
func (c *Config) Validate() error {
	s := c.Search
	if s.MaxDepth < 1 {
		return invalid("search.max_depth must be >= 1, got %d", s.MaxDepth)
	}
	if s.MaxChunks < 1 {
		return invalid("search.max_chunks must be >= 1, got %d", s.MaxChunks)
	}
	if s.MinSimilarity < -1 || s.MinSimilarity > 1 {
		return invalid("search.min_similarity must be between -1 and 1, got %g", s.MinSimilarity)
	}
	if !contains(validScopes, s.Scope) {
		return rerrors.New(rerrors.ErrCodeInvalidScope,
			fmt.Sprintf("search.scope %q is not one of %s", s.Scope, strings.Join(validScopes, ", ")), nil)
	}
	if s.TargetTokenBudget < 1 {
		return invalid("search.target_token_budget must be >= 1, got %d", s.TargetTokenBudget)
	}
	if s.EvaluationMaxTokens < 1 {
		return invalid("search.evaluation_max_tokens must be >= 1, got %d", s.EvaluationMaxTokens)
	}
	if s.PerSourceLimit < 1 {
		return invalid("search.per_source_limit must be >= 1, got %d", s.PerSourceLimit)
	}
	if s.Parallelism < 1 {
		return invalid("search.parallelism must be >= 1, got %d", s.Parallelism)
	}
	for name, d := range map[string]string{
		"search.source_timeout":           s.SourceTimeout,
		"search.evaluator_timeout":        s.EvaluatorTimeout,
		"embeddings.timeout":              c.Embeddings.Timeout,
		"reasoning.timeout":               c.Reasoning.Timeout,
		"reasoning.circuit_reset_timeout": c.Reasoning.CircuitResetTimeout,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return invalid("%s: invalid duration %q", name, d)
		}
	}

	if !contains(validEmbeddingProviders, c.Embeddings.Provider) {
		return unknownBackend("embeddings.provider", c.Embeddings.Provider, validEmbeddingProviders)
	}
	if c.Embeddings.Dimensions < 0 {
		return invalid("embeddings.dimensions must be >= 0, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.RateLimit < 0 {
		return invalid("embeddings.rate_limit must be >= 0, got %g", c.Embeddings.RateLimit)
	}
	if !contains(validReasoningProviders, c.Reasoning.Provider) {
		return unknownBackend("reasoning.provider", c.Reasoning.Provider, validReasoningProviders)
	}
	if !contains(validStoreBackends, c.Store.Backend) {
		return unknownBackend("store.backend", c.Store.Backend, validStoreBackends)
	}
	if c.Store.Backend == "pgvector" && c.Store.PostgresDSN == "" {
		return invalid("store.postgres_dsn is required for the pgvector backend").
			WithSuggestion("set DATABASE_URL or store.postgres_dsn")
	}

	return nil
}

// Duration parses a duration string, returning def when s is empty or invalid.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func invalid(format string, args ...any) *rerrors.RecallError {
	return rerrors.New(rerrors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...), nil)
}

func unknownBackend(field, got string, valid []string) error {
	return rerrors.New(rerrors.ErrCodeUnknownBackend,
		fmt.Sprintf("%s %q is not one of %s", field, got, strings.Join(valid, ", ")), nil)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
