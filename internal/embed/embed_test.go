package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// countingEmbedder is a deterministic Embedder that counts provider calls.
type countingEmbedder struct {
	dims       int
	embeds     atomic.Int32
	batches    atomic.Int32
	delay      time.Duration
	err        error
	closeCount atomic.Int32
}

func (m *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.embeds.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	v := make([]float32, m.dims)
	v[len(text)%m.dims] = 1
	return v, nil
}

func (m *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.batches.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, m.dims)
		v[len(t)%m.dims] = 1
		out[i] = v
	}
	return out, nil
}

func (m *countingEmbedder) Dimensions() int   { return m.dims }
func (m *countingEmbedder) ModelName() string { return "counting" }
func (m *countingEmbedder) Close() error {
	m.closeCount.Add(1)
	return nil
}

func noRetry() rerrors.RetryConfig {
	return rerrors.RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func fastRetry(n int) rerrors.RetryConfig {
	return rerrors.RetryConfig{
		MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond,
		Multiplier: 2, RetryIf: rerrors.IsRetryable,
	}
}

// ============================================================================
// Ollama
// ============================================================================

func ollamaServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_EmbedBatch_NormalizesAndOrders(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		resp := ollamaEmbedResponse{Model: req.Model}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{float64(i + 1), 0, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL + "/", Dimensions: 3, Retry: noRetry()})
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedBatch(context.Background(), []string{"pizza", "coffee"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDelta(t, 1.0, vecs[0][0], 1e-6, "normalized to unit length")
	assert.InDelta(t, 1.0, vecs[1][0], 1e-6)
}

func TestOllamaEmbedder_SplitsIntoBatches(t *testing.T) {
	var requests atomic.Int32
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{1, 1})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, BatchSize: 2, Retry: noRetry()})
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, int32(3), requests.Load())
}

func TestOllamaEmbedder_ProviderErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, rerrors.ErrInvalidCredentials},
		{"forbidden", http.StatusForbidden, ``, rerrors.ErrInvalidCredentials},
		{"payment required", http.StatusPaymentRequired, ``, rerrors.ErrQuotaExceeded},
		{"quota in 429 body", http.StatusTooManyRequests, `{"error":{"code":"insufficient_quota"}}`, rerrors.ErrQuotaExceeded},
		{"rate limited", http.StatusTooManyRequests, `slow down`, rerrors.ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Retry: noRetry()})
			_, err := e.Embed(context.Background(), "hello")

			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
		})
	}
}

func TestOllamaEmbedder_RetriesRateLimitButNotQuota(t *testing.T) {
	var calls atomic.Int32
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{0, 1}}})
	})

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Retry: fastRetry(2)})
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 2)
	assert.Equal(t, int32(2), calls.Load())

	calls.Store(0)
	quota := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
	})
	e = NewOllamaEmbedder(OllamaConfig{Host: quota.URL, Retry: fastRetry(2)})
	_, err = e.Embed(context.Background(), "hello")
	assert.True(t, errors.Is(err, rerrors.ErrQuotaExceeded))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{1, 2, 3, 4}}})
	})

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Dimensions: 768, Retry: noRetry()})
	_, err := e.Embed(context.Background(), "hello")
	assert.True(t, errors.Is(err, rerrors.ErrDimensionMismatch))
}

func TestOllamaEmbedder_EmptyInput_NoRequest(t *testing.T) {
	var calls atomic.Int32
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Retry: noRetry()})
	_, err := e.Embed(context.Background(), "   ")

	assert.True(t, errors.Is(err, rerrors.ErrEmptyInput))
	assert.Zero(t, calls.Load())
}

func TestOllamaEmbedder_Timeout(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Timeout: 20 * time.Millisecond, Retry: noRetry()})
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, rerrors.ErrCodeNetworkTimeout, rerrors.GetCode(err))
}

func TestOllamaEmbedder_Closed(t *testing.T) {
	e := NewOllamaEmbedder(OllamaConfig{})
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err)
	assert.Equal(t, DefaultDimensions, e.Dimensions())
	assert.Equal(t, DefaultOllamaModel, e.ModelName())
}

// ============================================================================
// OpenAI
// ============================================================================

func TestOpenAIEmbedder_Embed(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-embedding-3-small", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":1,"embedding":[0,2]},
			        {"object":"embedding","index":0,"embedding":[3,0]}],
			"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	})

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Dimensions: 2, Retry: noRetry()})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vecs[0][0], 1e-6, "reordered by index")
	assert.InDelta(t, 1.0, vecs[1][1], 1e-6)
}

func TestOpenAIEmbedder_ClassifiesAPIErrors(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	})

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-bad", BaseURL: srv.URL + "/v1/", Retry: noRetry()})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	assert.True(t, errors.Is(err, rerrors.ErrInvalidCredentials), "got %v", err)
}

func TestNewOpenAIEmbedder_RequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{})
	assert.True(t, errors.Is(err, rerrors.ErrInvalidCredentials))
}

// ============================================================================
// Static
// ============================================================================

func TestStaticEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	e := NewStaticEmbedder(0)
	ctx := context.Background()

	base, err := e.Embed(ctx, "my favorite pizza shop downtown")
	require.NoError(t, err)
	near, err := e.Embed(ctx, "the pizza shop downtown")
	require.NoError(t, err)
	far, err := e.Embed(ctx, "quarterly tax filing deadline")
	require.NoError(t, err)

	assert.Greater(t, dot(base, near), dot(base, far))
	assert.Len(t, base, StaticDimensions)
}

func TestStaticEmbedder_Deterministic(t *testing.T) {
	a, _ := NewStaticEmbedder(64).Embed(context.Background(), "same text")
	b, _ := NewStaticEmbedder(64).Embed(context.Background(), "same text")
	assert.Equal(t, a, b)
}

func TestStaticEmbedder_EmptyAndClosed(t *testing.T) {
	e := NewStaticEmbedder(32)
	_, err := e.Embed(context.Background(), "")
	assert.True(t, errors.Is(err, rerrors.ErrEmptyInput))

	_, err = e.EmbedBatch(context.Background(), []string{"ok", " "})
	assert.True(t, errors.Is(err, rerrors.ErrEmptyInput))

	require.NoError(t, e.Close())
	_, err = e.Embed(context.Background(), "text")
	assert.Error(t, err)
	assert.Equal(t, "static-hash-32", e.ModelName())
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// ============================================================================
// Cache
// ============================================================================

func TestCachedEmbedder_ConcurrentSameQueryEmbedsOnce(t *testing.T) {
	inner := &countingEmbedder{dims: 8, delay: 20 * time.Millisecond}
	c := NewCachedEmbedder(inner, 16)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Embed(context.Background(), "pizza shop")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inner.embeds.Load())
	assert.Equal(t, 1, c.cache.Len())
}

func TestCachedEmbedder_ShortDeadlineDoesNotFailOtherCallers(t *testing.T) {
	// Given: a slow provider and two callers embedding the same text
	inner := &countingEmbedder{dims: 8, delay: 50 * time.Millisecond}
	c := NewCachedEmbedder(inner, 16)

	hasty, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var (
		wg       sync.WaitGroup
		hastyErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, hastyErr = c.Embed(hasty, "pizza shop")
	}()
	time.Sleep(2 * time.Millisecond)

	// When: the patient caller joins the in-flight call
	vec, err := c.Embed(context.Background(), "pizza shop")
	wg.Wait()

	// Then: only the hasty caller sees its deadline; the shared call completes
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.ErrorIs(t, hastyErr, context.DeadlineExceeded)
	assert.Equal(t, int32(1), inner.embeds.Load())
	assert.Equal(t, 1, c.cache.Len())
}

func TestCachedEmbedder_SharedCallHasOwnTimeout(t *testing.T) {
	inner := &countingEmbedder{dims: 8, delay: time.Second}
	c := NewCachedEmbedder(inner, 16)
	c.sharedTimeout = 20 * time.Millisecond

	_, err := c.Embed(context.Background(), "stuck provider")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, c.cache.Len())
}

func TestCachedEmbedder_ErrorsNotCached(t *testing.T) {
	inner := &countingEmbedder{dims: 4, err: rerrors.ErrRateLimited}
	c := NewCachedEmbedder(inner, 16)

	_, err := c.Embed(context.Background(), "q")
	assert.Error(t, err)
	_, err = c.Embed(context.Background(), "q")
	assert.Error(t, err)

	assert.Equal(t, int32(2), inner.embeds.Load())
	assert.Zero(t, c.cache.Len())
}

func TestCachedEmbedder_EmbedBatch_OnlyMisses(t *testing.T) {
	inner := &countingEmbedder{dims: 8}
	c := NewCachedEmbedder(inner, 16)
	ctx := context.Background()

	_, err := c.Embed(ctx, "a")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(ctx, []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
	assert.Equal(t, int32(1), inner.batches.Load())

	_, err = c.EmbedBatch(ctx, []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.batches.Load(), "fully cached batch skips provider")

	require.NoError(t, c.Close())
	assert.Equal(t, int32(1), inner.closeCount.Load())
}

// ============================================================================
// Rate limiting and factory
// ============================================================================

func TestRateLimitedEmbedder_ZeroRateIsPassthrough(t *testing.T) {
	inner := &countingEmbedder{dims: 4}
	assert.Same(t, Embedder(inner), NewRateLimitedEmbedder(inner, 0, 0))
}

func TestRateLimitedEmbedder_DeadlineShorterThanQueue(t *testing.T) {
	inner := &countingEmbedder{dims: 4}
	rl := NewRateLimitedEmbedder(inner, 0.01, 1)

	_, err := rl.Embed(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = rl.Embed(ctx, "second")
	assert.True(t, errors.Is(err, rerrors.ErrRateLimited))
	assert.Equal(t, int32(1), inner.embeds.Load())
}

func TestNewEmbedder(t *testing.T) {
	t.Run("static with cache", func(t *testing.T) {
		e, err := NewEmbedder(FactoryConfig{Provider: ProviderStatic, Dimensions: 64, CacheSize: 8})
		require.NoError(t, err)
		_, ok := e.(*CachedEmbedder)
		assert.True(t, ok)
		assert.Equal(t, 64, e.Dimensions())
	})

	t.Run("ollama without cache", func(t *testing.T) {
		e, err := NewEmbedder(FactoryConfig{Provider: ProviderOllama})
		require.NoError(t, err)
		_, ok := e.(*OllamaEmbedder)
		assert.True(t, ok)
	})

	t.Run("openai without key", func(t *testing.T) {
		_, err := NewEmbedder(FactoryConfig{Provider: ProviderOpenAI})
		assert.True(t, errors.Is(err, rerrors.ErrInvalidCredentials))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewEmbedder(FactoryConfig{Provider: "mlx"})
		assert.Equal(t, rerrors.ErrCodeUnknownBackend, rerrors.GetCode(err))
	})
}
