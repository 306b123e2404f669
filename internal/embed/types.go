package embed

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// Common embedding constants
const (
	// MaxBatchSize is the maximum allowed batch size.
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout bounds one embedding HTTP request.
	DefaultTimeout = 30 * time.Second

	// DefaultDimensions matches nomic-embed-text.
	DefaultDimensions = 768

	// StaticDimensions is the dimension of the offline hash embedder.
	StaticDimensions = 256
)

// Embedder turns text into a fixed-dimension vector.
//
// Errors are typed (see internal/errors): ErrEmptyInput for blank text,
// ErrQuotaExceeded, ErrInvalidCredentials and ErrRateLimited for provider
// refusals, ErrDimensionMismatch when the provider returns vectors of the
// wrong size.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// validateTexts rejects blank input before any network call.
func validateTexts(texts []string) error {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return rerrors.New(rerrors.ErrCodeEmptyInput,
				fmt.Sprintf("text %d is empty", i), nil)
		}
	}
	return nil
}

// checkDimensions verifies every vector has the expected size. want <= 0
// skips the check.
func checkDimensions(vecs [][]float32, want int) error {
	if want <= 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != want {
			return rerrors.New(rerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("embedding %d has %d dimensions, expected %d", i, len(v), want), nil).
				WithSuggestion("set embeddings.dimensions to match the model, then re-ingest")
		}
	}
	return nil
}

// normalizeVector normalizes a vector to unit length. Zero vectors are
// returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
