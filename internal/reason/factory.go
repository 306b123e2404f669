package reason

import (
	"time"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// ProviderType selects a reasoning backend.
type ProviderType string

const (
	ProviderOllama ProviderType = "ollama"
	ProviderOpenAI ProviderType = "openai"
)

// FactoryConfig is the provider-agnostic reasoner configuration.
type FactoryConfig struct {
	Provider ProviderType
	Model    string
	Host     string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration

	// CircuitMaxFailures <= 0 disables the breaker.
	CircuitMaxFailures  int
	CircuitResetTimeout time.Duration
}

// NewReasoner builds the configured provider, wrapped in a circuit breaker.
func NewReasoner(cfg FactoryConfig) (Reasoner, error) {
	if cfg.Provider == "" {
		cfg.Provider = ProviderOllama
	}

	var (
		base Reasoner
		err  error
	)
	switch cfg.Provider {
	case ProviderOllama:
		base, err = NewOllamaReasoner(OllamaConfig{Host: cfg.Host, Model: cfg.Model, Timeout: cfg.Timeout})
	case ProviderOpenAI:
		base, err = NewOpenAIReasoner(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout})
	default:
		return nil, rerrors.New(rerrors.ErrCodeUnknownBackend, "unknown reasoning provider: "+string(cfg.Provider), nil).
			WithSuggestion("use one of: ollama, openai")
	}
	if err != nil {
		return nil, err
	}

	if cfg.CircuitMaxFailures <= 0 {
		return base, nil
	}
	opts := []rerrors.CircuitBreakerOption{rerrors.WithMaxFailures(cfg.CircuitMaxFailures)}
	if cfg.CircuitResetTimeout > 0 {
		opts = append(opts, rerrors.WithResetTimeout(cfg.CircuitResetTimeout))
	}
	breaker := rerrors.NewCircuitBreaker("reasoner-"+string(cfg.Provider), opts...)
	return NewCircuitReasoner(base, breaker), nil
}
