package preflight

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/reason"
)

const probeOwner = "preflight"

// CheckStore runs a count query against the store.
func (c *Checker) CheckStore(ctx context.Context) CheckResult {
	result := CheckResult{Name: "store", Required: true}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.deps.Store.Count(ctx, probeOwner); err != nil {
		result.Status = StatusFail
		result.Message = "store query failed"
		result.Details = describe(err)
		return result
	}
	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckEmbedder embeds a probe sentence and checks the vector size.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	e := c.deps.Embedder
	result := CheckResult{Name: "embedder", Required: true}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	vec, err := e.Embed(ctx, "preflight probe: what did we talk about last week?")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s did not return an embedding", e.ModelName())
		result.Details = describe(err)
		return result
	}
	if want := e.Dimensions(); want > 0 && len(vec) != want {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s returned %d dimensions, expected %d", e.ModelName(), len(vec), want)
		result.Details = "set embeddings.dimensions to match the model, then re-ingest"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (%d dims, %s)", e.ModelName(), len(vec), time.Since(start).Round(time.Millisecond))
	return result
}

// CheckReasoner asks the reasoning model for a one-word reply. A failure
// is a warning: searches still complete, failing open.
func (c *Checker) CheckReasoner(ctx context.Context) CheckResult {
	r := c.deps.Reasoner
	result := CheckResult{Name: "reasoner", Required: false}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	_, err := r.Complete(ctx, reasonProbe())
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s unavailable; searches will stop after one round", r.ModelName())
		result.Details = describe(err)
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (%s)", r.ModelName(), time.Since(start).Round(time.Millisecond))
	return result
}

// CheckModels checks that every required model is present locally.
func (c *Checker) CheckModels(ctx context.Context) CheckResult {
	result := CheckResult{Name: "local_models", Required: false}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	available, err := c.deps.Models.ListModels(ctx)
	if err != nil {
		result.Status = StatusWarn
		result.Message = "cannot list local models"
		result.Details = describe(err)
		return result
	}

	var missing []string
	for _, m := range c.deps.RequiredModels {
		if !hasModel(available, m) {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		result.Status = StatusWarn
		result.Message = "missing: " + strings.Join(missing, ", ")
		result.Details = "run: ollama pull " + strings.Join(missing, " && ollama pull ")
		return result
	}
	result.Status = StatusPass
	result.Message = strings.Join(c.deps.RequiredModels, ", ")
	return result
}

// hasModel matches exact names. An untagged model matches any tag of
// the same base name.
func hasModel(available []string, model string) bool {
	want := strings.ToLower(model)
	wantBase, _, wantTagged := strings.Cut(want, ":")
	for _, a := range available {
		got := strings.ToLower(a)
		gotBase, _, _ := strings.Cut(got, ":")
		if got == want || (!wantTagged && gotBase == wantBase) {
			return true
		}
	}
	return false
}

func reasonProbe() reason.Request {
	return reason.Request{Prompt: "Reply with the single word OK.", MaxTokens: 5}
}

func describe(err error) string {
	if re, ok := rerrors.As(err); ok {
		if re.Suggestion != "" {
			return fmt.Sprintf("%s (%s); %s", re.Message, re.Code, re.Suggestion)
		}
		return fmt.Sprintf("%s (%s)", re.Message, re.Code)
	}
	return err.Error()
}

// OllamaModels lists models through the Ollama API.
type OllamaModels struct {
	client *api.Client
}

var _ ModelLister = (*OllamaModels)(nil)

// NewOllamaModels creates a lister for the Ollama server at host.
func NewOllamaModels(host string, hc *http.Client) (*OllamaModels, error) {
	u, err := url.Parse(strings.TrimRight(host, "/"))
	if err != nil {
		return nil, rerrors.ConfigError("invalid ollama host "+host, err)
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &OllamaModels{client: api.NewClient(u, hc)}, nil
}

// ListModels returns the names of the locally pulled models.
func (o *OllamaModels) ListModels(ctx context.Context) ([]string, error) {
	resp, err := o.client.List(ctx)
	if err != nil {
		return nil, rerrors.FromTransport("ollama", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
