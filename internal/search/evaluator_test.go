package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/reason"
)

// stubReasoner returns a canned completion and records requests.
type stubReasoner struct {
	output string
	err    error
	block  bool

	mu   sync.Mutex
	reqs []reason.Request
}

func (r *stubReasoner) Complete(ctx context.Context, req reason.Request) (string, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	if r.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.output, r.err
}

func (r *stubReasoner) ModelName() string { return "stub" }

func (r *stubReasoner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func someChunks() []ContextChunk {
	return []ContextChunk{
		chunk(SourceTurn, "t1", 0.81, "We could open a pizza shop"),
		chunk(SourceEntry, "e1", 0.55, "Journal:\n  dreaming about pizza"),
	}
}

// ============================================================================
// Short circuits
// ============================================================================

func TestLLMEvaluator_EmptyContextRetriesQuery(t *testing.T) {
	r := &stubReasoner{}
	ev := NewLLMEvaluator(r, nil).Evaluate(context.Background(), "pizza?", nil, DefaultConfig())

	assert.False(t, ev.Sufficient)
	assert.Equal(t, []string{"pizza?"}, ev.NewQueries)
	assert.Equal(t, OutcomeEmpty, ev.Outcome)
	assert.Zero(t, r.callCount())
}

func TestLLMEvaluator_BudgetReached(t *testing.T) {
	r := &stubReasoner{}
	cfg := DefaultConfig()
	cfg.TargetTokenBudget = EstimateTokens(someChunks())

	ev := NewLLMEvaluator(r, nil).Evaluate(context.Background(), "pizza?", someChunks(), cfg)

	assert.True(t, ev.Sufficient)
	assert.Equal(t, OutcomeBudget, ev.Outcome)
	assert.Zero(t, r.callCount())
}

// ============================================================================
// Judged
// ============================================================================

func TestLLMEvaluator_Judged(t *testing.T) {
	t.Run("sufficient", func(t *testing.T) {
		r := &stubReasoner{output: `{"sufficient": true, "reasoning": "covers it", "follow_up_queries": []}`}
		ev := NewLLMEvaluator(r, nil).Evaluate(context.Background(), "pizza?", someChunks(), DefaultConfig())

		assert.True(t, ev.Sufficient)
		assert.Equal(t, "covers it", ev.Reasoning)
		assert.Empty(t, ev.NewQueries)
		assert.Equal(t, OutcomeJudged, ev.Outcome)

		require.Equal(t, 1, r.callCount())
		req := r.reqs[0]
		assert.Equal(t, DefaultEvaluationMaxTokens, req.MaxTokens)
		assert.NotEmpty(t, req.Schema)
		assert.Contains(t, req.Prompt, "[1] (turn, similarity=0.81): We could open a pizza shop")
		assert.Contains(t, req.Prompt, "[2] (entry, similarity=0.55): Journal: dreaming about pizza")
	})

	t.Run("insufficient cleans follow-ups", func(t *testing.T) {
		r := &stubReasoner{output: `{"sufficient": false, "reasoning": "no budget info",
			"follow_up_queries": ["pizza?", " pizza shop budget ", "", "pizza shop budget", "oven cost", "lease terms", "menu"]}`}
		ev := NewLLMEvaluator(r, nil).Evaluate(context.Background(), "pizza?", someChunks(), DefaultConfig())

		assert.False(t, ev.Sufficient)
		assert.Equal(t, []string{"pizza shop budget", "oven cost", "lease terms"}, ev.NewQueries)
	})
}

// ============================================================================
// Fail open
// ============================================================================

func TestLLMEvaluator_FailOpen(t *testing.T) {
	tests := []struct {
		name string
		r    *stubReasoner
	}{
		{"backend error", &stubReasoner{err: rerrors.New(rerrors.ErrCodeQuotaExceeded, "quota", nil)}},
		{"prose", &stubReasoner{output: "I think it is probably fine."}},
		{"missing verdict", &stubReasoner{output: `{"reasoning": "hmm", "follow_up_queries": []}`}},
		{"unknown field", &stubReasoner{output: `{"sufficient": false, "confidence": 0.3, "reasoning": "", "follow_up_queries": []}`}},
		{"wrong type", &stubReasoner{output: `{"sufficient": "no", "reasoning": "", "follow_up_queries": []}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := NewLLMEvaluator(tt.r, nil).Evaluate(context.Background(), "pizza?", someChunks(), DefaultConfig())
			assert.True(t, ev.Sufficient)
			assert.Equal(t, OutcomeFailOpen, ev.Outcome)
			assert.Empty(t, ev.NewQueries)
			assert.NotEmpty(t, ev.Reasoning)
		})
	}
}

func TestLLMEvaluator_TimeoutFailsOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EvaluatorTimeout = 10 * time.Millisecond

	start := time.Now()
	ev := NewLLMEvaluator(&stubReasoner{block: true}, nil).
		Evaluate(context.Background(), "pizza?", someChunks(), cfg)

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, ev.Sufficient)
	assert.Equal(t, OutcomeFailOpen, ev.Outcome)
}

// ============================================================================
// Parsing
// ============================================================================

func TestParseJudgment(t *testing.T) {
	t.Run("fenced output", func(t *testing.T) {
		j, err := ParseJudgment("```json\n{\"sufficient\": false, \"reasoning\": \"r\", \"follow_up_queries\": [\"a\"]}\n```")
		require.NoError(t, err)
		assert.False(t, *j.Sufficient)
		assert.Equal(t, []string{"a"}, j.FollowUpQueries)
	})

	t.Run("unparseable sentinel", func(t *testing.T) {
		_, err := ParseJudgment("{}")
		require.Error(t, err)
		assert.True(t, errors.Is(err, rerrors.ErrUnparseable))
	})

	t.Run("no json", func(t *testing.T) {
		_, err := ParseJudgment("nope")
		assert.True(t, errors.Is(err, rerrors.ErrUnparseable))
	})
}

func TestCleanFollowUps(t *testing.T) {
	tests := []struct {
		name     string
		original string
		proposed []string
		want     []string
	}{
		{"nil", "q", nil, []string{}},
		{"drops original", "Pizza shop plan", []string{"pizza  shop PLAN"}, []string{}},
		{"drops near duplicate word sets", "q", []string{"pizza shop location", "location pizza shop"}, []string{"pizza shop location"}},
		{"keeps distinct", "q", []string{"a b", "c d"}, []string{"a b", "c d"}},
		{"caps at three", "q", []string{"one", "two", "three", "four"}, []string{"one", "two", "three"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanFollowUps(tt.original, tt.proposed))
		})
	}
}

func TestBuildEvaluationPrompt_OneLinePerChunk(t *testing.T) {
	p := BuildEvaluationPrompt("q", someChunks())
	lines := strings.Split(strings.TrimSpace(p), "\n")
	assert.Equal(t, "Question: q", lines[0])
	assert.Len(t, lines, 5)
}
