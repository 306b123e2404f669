package embed

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// ProviderType represents an embedding provider.
type ProviderType string

const (
	// ProviderOllama uses a local or remote Ollama server.
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses the OpenAI embeddings API (or a compatible endpoint).
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings. Offline and tests only.
	ProviderStatic ProviderType = "static"
)

// FactoryConfig selects and configures an embedder.
type FactoryConfig struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	BatchSize  int
	Host       string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	// CacheSize <= 0 disables the LRU cache.
	CacheSize int
	// RateLimit <= 0 disables client-side throttling.
	RateLimit float64
	RateBurst int
}

// NewEmbedder builds the provider embedder and wraps it, innermost first,
// in the rate limiter and the cache. Cache hits therefore never consume
// rate-limit tokens.
func NewEmbedder(cfg FactoryConfig) (Embedder, error) {
	var base Embedder

	switch ProviderType(strings.ToLower(string(cfg.Provider))) {
	case ProviderOllama, "":
		base = NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.Host,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		})
	case ProviderOpenAI:
		e, err := NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		base = e
	case ProviderStatic:
		base = NewStaticEmbedder(cfg.Dimensions)
	default:
		return nil, rerrors.New(rerrors.ErrCodeUnknownBackend,
			fmt.Sprintf("unknown embeddings provider %q", cfg.Provider), nil).
			WithSuggestion("use ollama, openai or static")
	}

	embedder := NewRateLimitedEmbedder(base, cfg.RateLimit, cfg.RateBurst)
	if cfg.CacheSize > 0 {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize)
	}

	slog.Debug("embedder_created",
		slog.String("provider", string(cfg.Provider)),
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()),
		slog.Int("cache_size", cfg.CacheSize),
		slog.Float64("rate_limit", cfg.RateLimit))

	return embedder, nil
}
