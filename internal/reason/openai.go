package reason

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// DefaultOpenAIModel is the hosted model used when none is set.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures the OpenAI reasoner.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAIReasoner completes prompts through the Responses API, using
// structured outputs when a schema is given.
type OpenAIReasoner struct {
	client *openai.Client
	config OpenAIConfig
}

var _ Reasoner = (*OpenAIReasoner)(nil)

// NewOpenAIReasoner creates a reasoner. A missing API key is a
// configuration error.
func NewOpenAIReasoner(cfg OpenAIConfig) (*OpenAIReasoner, error) {
	if cfg.APIKey == "" {
		return nil, rerrors.New(rerrors.ErrCodeInvalidCredentials, "openai api key is not set", nil).
			WithSuggestion("export OPENAI_API_KEY or set reasoning.api_key")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	client := openai.NewClient(opts...)
	return &OpenAIReasoner{client: &client, config: cfg}, nil
}

// Complete sends one Responses API request.
func (r *OpenAIReasoner) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	params := responses.ResponseNewParams{
		Model:           r.config.Model,
		MaxOutputTokens: openai.Int(int64(maxTokens(req.MaxTokens))),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(req.Prompt, responses.EasyInputMessageRoleUser),
			},
		},
	}
	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   name,
					Schema: req.Schema,
					Strict: openai.Bool(true),
					Type:   "json_schema",
				},
			},
		}
	}

	resp, err := r.client.Responses.New(ctx, params)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	return resp.OutputText(), nil
}

// ModelName returns the model identifier.
func (r *OpenAIReasoner) ModelName() string {
	return r.config.Model
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if stderrors.As(err, &apiErr) {
		re := rerrors.FromHTTPStatus("openai", apiErr.StatusCode, apiErr.Error())
		re.Cause = err
		return re
	}
	return rerrors.FromTransport("openai", err)
}
