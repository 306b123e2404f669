// Package reason provides the language-model backends used to judge
// whether retrieved context is sufficient and to answer from it.
package reason

import (
	"context"
	"encoding/json"
	"time"

	"github.com/invopop/jsonschema"
)

const (
	// DefaultTimeout bounds one reasoning request.
	DefaultTimeout = 20 * time.Second

	// DefaultMaxTokens caps the completion length when a request leaves it unset.
	DefaultMaxTokens = 500
)

// Request is one completion request.
type Request struct {
	// System carries instructions; Prompt carries the user content.
	System string
	Prompt string

	// MaxTokens caps the completion length.
	MaxTokens int

	// Schema, when set, constrains the output to JSON matching it.
	Schema     map[string]any
	SchemaName string
}

// Reasoner produces a completion for a prompt.
//
// Failures are typed (see internal/errors): ErrQuotaExceeded,
// ErrInvalidCredentials and ErrRateLimited for provider refusals,
// ERR_301 on timeout, ErrCircuitOpen while a breaker is open.
type Reasoner interface {
	Complete(ctx context.Context, req Request) (string, error)
	ModelName() string
}

// GenerateSchema reflects T into a strict JSON schema: every property
// required and no additional properties, as structured-output APIs demand.
func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	b, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	strictify(m)
	return m
}

func strictify(schema map[string]any) {
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if props, ok := schema["properties"].(map[string]any); ok {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			if len(required) > 0 {
				schema["required"] = required
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for _, p := range props {
			if pm, ok := p.(map[string]any); ok {
				strictify(pm)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		strictify(items)
	}
}

func maxTokens(n int) int {
	if n <= 0 {
		return DefaultMaxTokens
	}
	return n
}
