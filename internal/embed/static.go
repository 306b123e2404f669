package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// StaticEmbedder generates embeddings by hashing words and character
// trigrams into a fixed number of buckets. It needs no network or model,
// is deterministic, and gives texts sharing vocabulary a high cosine
// similarity. Used offline and in tests.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// stopWords are dropped before hashing whole words.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "on": true, "at": true,
	"is": true, "was": true, "are": true, "be": true, "it": true,
	"i": true, "we": true, "you": true, "me": true, "my": true,
	"did": true, "do": true, "that": true, "this": true, "for": true,
	"what": true, "about": true, "with": true,
}

const (
	wordWeight   = 0.7
	ngramWeight  = 0.3
	ngramSize    = 3
	staticPrefix = "static-hash-"
)

var wordRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// NewStaticEmbedder creates a static embedder with dims buckets
// (StaticDimensions when dims <= 0).
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates the embedding for a single text.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, rerrors.New(rerrors.ErrCodeInternal, "static embedder is closed", nil)
	}

	if err := validateTexts([]string{text}); err != nil {
		return nil, err
	}
	return normalizeVector(e.generateVector(text)), nil
}

// EmbedBatch embeds each text in turn.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, e.dims)

	for _, word := range tokenize(text) {
		vector[hashToIndex(word, e.dims)] += wordWeight
	}
	for _, gram := range extractNgrams(normalizeForNgrams(text), ngramSize) {
		vector[hashToIndex(gram, e.dims)] += ngramWeight
	}

	return vector
}

// tokenize lowercases and splits text into words, dropping stop words.
func tokenize(text string) []string {
	words := wordRegex.FindAllString(strings.ToLower(text), -1)
	out := words[:0]
	for _, w := range words {
		if !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

// normalizeForNgrams keeps letters and digits only.
func normalizeForNgrams(text string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// extractNgrams extracts n-rune sliding windows.
func extractNgrams(text string, n int) []string {
	runes := []rune(text)
	if len(runes) < n {
		return []string{}
	}
	grams := make([]string, 0, len(runes)-n+1)
	for i := 0; i <= len(runes)-n; i++ {
		grams = append(grams, string(runes[i:i+n]))
	}
	return grams
}

func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}

// Dimensions returns the bucket count.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName identifies the embedder and its dimension, so caches keyed on
// model never mix vectors of different sizes.
func (e *StaticEmbedder) ModelName() string {
	return staticPrefix + strconv.Itoa(e.dims)
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
