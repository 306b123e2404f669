package reason

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a small local model that follows JSON schemas.
	DefaultOllamaModel = "qwen3:4b"
)

// OllamaConfig configures the Ollama reasoner.
type OllamaConfig struct {
	Host       string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OllamaReasoner completes prompts through Ollama's chat API.
type OllamaReasoner struct {
	client *api.Client
	config OllamaConfig
}

var _ Reasoner = (*OllamaReasoner)(nil)

// NewOllamaReasoner creates a reasoner. No network call is made.
func NewOllamaReasoner(cfg OllamaConfig) (*OllamaReasoner, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	u, err := url.Parse(strings.TrimRight(cfg.Host, "/"))
	if err != nil {
		return nil, rerrors.ConfigError("invalid ollama host "+cfg.Host, err)
	}

	return &OllamaReasoner{
		client: api.NewClient(u, cfg.HTTPClient),
		config: cfg,
	}, nil
}

// Complete sends one non-streaming chat request.
func (r *OllamaReasoner) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	stream := false
	messages := make([]api.Message, 0, 2)
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.Prompt})

	chat := &api.ChatRequest{
		Model:    r.config.Model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"num_predict": maxTokens(req.MaxTokens),
			"temperature": 0,
		},
	}
	if req.Schema != nil {
		b, err := json.Marshal(req.Schema)
		if err != nil {
			return "", rerrors.InternalError("failed to marshal response schema", err)
		}
		chat.Format = json.RawMessage(b)
	}

	start := time.Now()
	var out strings.Builder
	err := r.client.Chat(ctx, chat, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", classifyOllamaError(err)
	}

	slog.Debug("ollama_complete",
		slog.String("model", r.config.Model),
		slog.Int("prompt_chars", len(req.Prompt)),
		slog.Duration("duration", time.Since(start)))

	return out.String(), nil
}

// ModelName returns the model identifier.
func (r *OllamaReasoner) ModelName() string {
	return r.config.Model
}

func classifyOllamaError(err error) error {
	var statusErr api.StatusError
	if stderrors.As(err, &statusErr) {
		re := rerrors.FromHTTPStatus("ollama", statusErr.StatusCode, statusErr.ErrorMessage)
		re.Cause = err
		return re
	}
	return rerrors.FromTransport("ollama", err)
}
