package recall

import (
	"github.com/Aman-CERP/amanrecall/internal/config"
	"github.com/Aman-CERP/amanrecall/internal/embed"
	"github.com/Aman-CERP/amanrecall/internal/reason"
	"github.com/Aman-CERP/amanrecall/internal/search"
	"github.com/Aman-CERP/amanrecall/internal/store"
)

// SearchConfig maps the search section onto a search.Config.
func SearchConfig(cfg *config.Config) search.Config {
	s := cfg.Search
	scope, err := search.ParseScope(s.Scope)
	if err != nil {
		scope = search.ScopeUser
	}
	return search.Config{
		MaxDepth:            s.MaxDepth,
		MaxChunks:           s.MaxChunks,
		MinSimilarity:       s.MinSimilarity,
		Scope:               scope,
		TargetTokenBudget:   s.TargetTokenBudget,
		EvaluationMaxTokens: s.EvaluationMaxTokens,
		PerSourceLimit:      s.PerSourceLimit,
		SourceTimeout:       config.Duration(s.SourceTimeout, search.DefaultSourceTimeout),
		EvaluatorTimeout:    config.Duration(s.EvaluatorTimeout, search.DefaultEvaluatorTimeout),
	}
}

// EmbedderConfig maps the embeddings section onto an embed.FactoryConfig.
func EmbedderConfig(cfg *config.Config) embed.FactoryConfig {
	e := cfg.Embeddings
	return embed.FactoryConfig{
		Provider:   embed.ProviderType(e.Provider),
		Model:      e.Model,
		Dimensions: e.Dimensions,
		BatchSize:  e.BatchSize,
		Host:       e.OllamaHost,
		BaseURL:    e.BaseURL,
		APIKey:     e.APIKey,
		Timeout:    config.Duration(e.Timeout, embed.DefaultTimeout),
		CacheSize:  e.CacheSize,
		RateLimit:  e.RateLimit,
		RateBurst:  e.RateBurst,
	}
}

// ReasonerConfig maps the reasoning section onto a reason.FactoryConfig.
func ReasonerConfig(cfg *config.Config) reason.FactoryConfig {
	r := cfg.Reasoning
	return reason.FactoryConfig{
		Provider:            reason.ProviderType(r.Provider),
		Model:               r.Model,
		Host:                r.OllamaHost,
		BaseURL:             r.BaseURL,
		APIKey:              r.APIKey,
		Timeout:             config.Duration(r.Timeout, reason.DefaultTimeout),
		CircuitMaxFailures:  r.CircuitMaxFailures,
		CircuitResetTimeout: config.Duration(r.CircuitResetTimeout, 0),
	}
}

// StoreOptions maps the store section onto store.Options. dims is the
// embedder's dimension.
func StoreOptions(cfg *config.Config, dims int) store.Options {
	s := cfg.Store
	return store.Options{
		Backend:      store.Backend(s.Backend),
		SQLitePath:   s.SQLitePath,
		PostgresDSN:  s.PostgresDSN,
		MaxConns:     int32(s.MaxConns),
		Dimensions:   dims,
		SnapshotPath: s.SnapshotPath,
	}
}
