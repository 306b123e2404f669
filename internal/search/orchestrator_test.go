package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// --- Test doubles ---

// stubSearcher returns canned chunks per query and records every call.
type stubSearcher struct {
	source  Source
	results map[string][]ContextChunk
	err     error
	delay   time.Duration

	mu    sync.Mutex
	calls []string
}

func (s *stubSearcher) Source() Source { return s.source }

func (s *stubSearcher) Search(ctx context.Context, query string, _ OwnerScope, _ Config) ([]ContextChunk, error) {
	s.mu.Lock()
	s.calls = append(s.calls, query)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.results[query], nil
}

func (s *stubSearcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// scriptedEvaluator returns evaluations in order, repeating the last one.
type scriptedEvaluator struct {
	script []Evaluation
	seen   [][]ContextChunk
}

func (e *scriptedEvaluator) Evaluate(_ context.Context, _ string, ranked []ContextChunk, _ Config) Evaluation {
	e.seen = append(e.seen, ranked)
	i := min(len(e.seen)-1, len(e.script)-1)
	return e.script[i]
}

func chunk(src Source, id string, sim float64, content string) ContextChunk {
	return ContextChunk{ID: ChunkID(src, id), Source: src, Content: content, Similarity: sim}
}

func aliceScope() OwnerScope {
	return OwnerScope{OwnerID: "alice", Scope: ScopeUser}
}

func newTestOrchestrator(searchers []Searcher, ev Evaluator) *Orchestrator {
	return NewOrchestrator(searchers, ev, WithIDGenerator(func() string { return "search-1" }))
}

// ============================================================================
// Loop termination
// ============================================================================

func TestOrchestrator_PizzaScenario(t *testing.T) {
	const q = "what did we discuss about the pizza shop idea"

	turns := &stubSearcher{source: SourceTurn, results: map[string][]ContextChunk{
		q: {
			chunk(SourceTurn, "t1", 0.81, "We could open a pizza shop downtown"),
			chunk(SourceTurn, "t2", 0.62, "The pizza shop needs a wood oven"),
		},
	}}
	entries := &stubSearcher{source: SourceEntry, results: map[string][]ContextChunk{
		q:                              {chunk(SourceEntry, "e1", 0.55, "Journal: dreaming about pizza")},
		"pizza shop financial plan":    {chunk(SourceEntry, "e2", 0.71, "Budget: 40k for the pizza shop")},
		"pizza shop location decision": {chunk(SourceEntry, "e1", 0.55, "Journal: dreaming about pizza")},
	}}
	facts := &stubSearcher{source: SourceFact}
	summaries := &stubSearcher{source: SourceSummary}

	ev := &scriptedEvaluator{script: []Evaluation{
		{Sufficient: false, Reasoning: "missing plan details", Outcome: OutcomeJudged,
			NewQueries: []string{"pizza shop financial plan", "pizza shop location decision"}},
		{Sufficient: true, Reasoning: "covered", Outcome: OutcomeJudged},
	}}

	cfg := DefaultConfig()
	cfg.MaxDepth = 3
	cfg.MaxChunks = 5

	o := newTestOrchestrator([]Searcher{turns, facts, entries, summaries}, ev)
	res, err := o.Search(context.Background(), q, aliceScope(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Iterations)
	assert.True(t, res.Sufficient)
	assert.Equal(t, TerminationSufficient, res.Termination)
	assert.Equal(t, "search-1", res.SearchID)

	require.Len(t, res.Context, 4)
	sims := make([]float64, len(res.Context))
	for i, c := range res.Context {
		sims[i] = c.Similarity
	}
	assert.Equal(t, []float64{0.81, 0.71, 0.62, 0.55}, sims)

	assert.Equal(t, [][]string{
		{q},
		{"pizza shop financial plan", "pizza shop location decision"},
	}, res.SearchQueries)
	assert.Equal(t, EstimateTokens(res.Context), res.TotalTokens)
	assert.Equal(t, "covered", res.Reasoning)

	// Round 1 saw three chunks; round 2 saw the deduplicated four.
	require.Len(t, ev.seen, 2)
	assert.Len(t, ev.seen[0], 3)
	assert.Len(t, ev.seen[1], 4)
}

func TestOrchestrator_DedupAcrossQueriesAndRounds(t *testing.T) {
	dup := chunk(SourceFact, "f1", 0.9, "Favorite food: pizza")
	facts := &stubSearcher{source: SourceFact, results: map[string][]ContextChunk{
		"pizza": {dup},
		"food":  {dup},
	}}
	ev := &scriptedEvaluator{script: []Evaluation{
		{Sufficient: false, NewQueries: []string{"food"}, Outcome: OutcomeJudged},
		{Sufficient: true, Outcome: OutcomeJudged},
	}}

	res, err := newTestOrchestrator([]Searcher{facts}, ev).
		Search(context.Background(), "pizza", aliceScope(), DefaultConfig())
	require.NoError(t, err)

	require.Len(t, res.Context, 1)
	assert.Equal(t, "fact:f1", res.Context[0].ID)
}

func TestOrchestrator_BudgetStopsAfterFirstRound(t *testing.T) {
	big := make([]byte, 400)
	for i := range big {
		big[i] = 'x'
	}
	turns := &stubSearcher{source: SourceTurn, results: map[string][]ContextChunk{
		"q": {chunk(SourceTurn, "t1", 0.9, string(big))},
	}}

	cfg := DefaultConfig()
	cfg.TargetTokenBudget = 50

	// The real evaluator short-circuits on budget without a reasoning call.
	r := &stubReasoner{}
	res, err := newTestOrchestrator([]Searcher{turns}, NewLLMEvaluator(r, nil)).
		Search(context.Background(), "q", aliceScope(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Iterations)
	assert.True(t, res.Sufficient)
	assert.Equal(t, TerminationBudget, res.Termination)
	assert.Zero(t, r.callCount())
}

func TestOrchestrator_DepthCeiling(t *testing.T) {
	turns := &stubSearcher{source: SourceTurn, results: map[string][]ContextChunk{}}
	i := 0
	next := func() string { i++; return fmt.Sprintf("follow up %d", i) }
	ev := &funcEvaluator{fn: func(query string, ranked []ContextChunk) Evaluation {
		return Evaluation{Sufficient: false, NewQueries: []string{next()}, Outcome: OutcomeJudged}
	}}

	for _, depth := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("depth_%d", depth), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.MaxDepth = depth

			res, err := newTestOrchestrator([]Searcher{turns}, ev).
				Search(context.Background(), "q", aliceScope(), cfg)
			require.NoError(t, err)

			assert.Equal(t, depth, res.Iterations)
			assert.Len(t, res.SearchQueries, depth)
			assert.False(t, res.Sufficient)
			assert.Equal(t, TerminationMaxDepth, res.Termination)
		})
	}
}

func TestOrchestrator_EmptyResultsRetryOriginalQuery(t *testing.T) {
	turns := &stubSearcher{source: SourceTurn}
	facts := &stubSearcher{source: SourceFact}

	cfg := DefaultConfig()
	cfg.MaxDepth = 2

	r := &stubReasoner{}
	res, err := newTestOrchestrator([]Searcher{turns, facts}, NewLLMEvaluator(r, nil)).
		Search(context.Background(), "where did I park", aliceScope(), cfg)
	require.NoError(t, err)

	require.Len(t, res.SearchQueries, 2)
	assert.Equal(t, []string{"where did I park"}, res.SearchQueries[1])
	assert.Empty(t, res.Context)
	assert.False(t, res.Sufficient)
	assert.Zero(t, r.callCount(), "empty context never reaches the reasoning backend")
	assert.Equal(t, 2, turns.callCount())
}

func TestOrchestrator_NoNewQueriesStops(t *testing.T) {
	turns := &stubSearcher{source: SourceTurn, results: map[string][]ContextChunk{
		"q": {chunk(SourceTurn, "t1", 0.8, "something")},
	}}
	ev := &scriptedEvaluator{script: []Evaluation{{Sufficient: false, Outcome: OutcomeJudged}}}

	res, err := newTestOrchestrator([]Searcher{turns}, ev).
		Search(context.Background(), "q", aliceScope(), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Iterations)
	assert.False(t, res.Sufficient)
	assert.Equal(t, TerminationNoQueries, res.Termination)
}

func TestOrchestrator_FailOpenTermination(t *testing.T) {
	turns := &stubSearcher{source: SourceTurn, results: map[string][]ContextChunk{
		"q": {chunk(SourceTurn, "t1", 0.8, "something")},
	}}
	r := &stubReasoner{err: rerrors.New(rerrors.ErrCodeNetworkUnavailable, "down", nil)}

	res, err := newTestOrchestrator([]Searcher{turns}, NewLLMEvaluator(r, nil)).
		Search(context.Background(), "q", aliceScope(), DefaultConfig())
	require.NoError(t, err)

	assert.True(t, res.Sufficient)
	assert.Equal(t, TerminationFailOpen, res.Termination)
	assert.Len(t, res.Context, 1)
}

// ============================================================================
// Degradation
// ============================================================================

func TestOrchestrator_FailingSourceDegrades(t *testing.T) {
	turns := &stubSearcher{source: SourceTurn, err: rerrors.New(rerrors.ErrCodeStoreQuery, "boom", nil)}
	facts := &stubSearcher{source: SourceFact, results: map[string][]ContextChunk{
		"q": {chunk(SourceFact, "f1", 0.7, "fact")},
	}}
	ev := &scriptedEvaluator{script: []Evaluation{{Sufficient: true, Outcome: OutcomeJudged}}}

	res, err := newTestOrchestrator([]Searcher{turns, facts}, ev).
		Search(context.Background(), "q", aliceScope(), DefaultConfig())
	require.NoError(t, err)

	require.Len(t, res.Context, 1)
	assert.Equal(t, SourceFact, res.Context[0].Source)
	assert.Equal(t, TerminationSufficient, res.Termination)
}

func TestOrchestrator_SlowSourceTimesOut(t *testing.T) {
	slow := &stubSearcher{source: SourceEntry, delay: time.Second, results: map[string][]ContextChunk{
		"q": {chunk(SourceEntry, "e1", 0.99, "late")},
	}}
	fast := &stubSearcher{source: SourceTurn, results: map[string][]ContextChunk{
		"q": {chunk(SourceTurn, "t1", 0.5, "on time")},
	}}
	ev := &scriptedEvaluator{script: []Evaluation{{Sufficient: true, Outcome: OutcomeJudged}}}

	cfg := DefaultConfig()
	cfg.SourceTimeout = 20 * time.Millisecond

	res, err := newTestOrchestrator([]Searcher{slow, fast}, ev).
		Search(context.Background(), "q", aliceScope(), cfg)
	require.NoError(t, err)

	require.Len(t, res.Context, 1)
	assert.Equal(t, "turn:t1", res.Context[0].ID)
}

// gaugeSearcher records the highest number of concurrent calls it saw.
type gaugeSearcher struct {
	source Source
	gauge  *concurrencyGauge
}

type concurrencyGauge struct {
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (g *gaugeSearcher) Source() Source { return g.source }

func (g *gaugeSearcher) Search(_ context.Context, _ string, _ OwnerScope, _ Config) ([]ContextChunk, error) {
	g.gauge.mu.Lock()
	g.gauge.inFlight++
	g.gauge.peak = max(g.gauge.peak, g.gauge.inFlight)
	g.gauge.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	g.gauge.mu.Lock()
	g.gauge.inFlight--
	g.gauge.mu.Unlock()
	return nil, nil
}

func TestOrchestrator_ParallelismBoundsSourceSearches(t *testing.T) {
	gauge := &concurrencyGauge{}
	searchers := []Searcher{
		&gaugeSearcher{source: SourceTurn, gauge: gauge},
		&gaugeSearcher{source: SourceFact, gauge: gauge},
		&gaugeSearcher{source: SourceEntry, gauge: gauge},
		&gaugeSearcher{source: SourceSummary, gauge: gauge},
	}
	ev := &scriptedEvaluator{script: []Evaluation{{Sufficient: true, Outcome: OutcomeJudged}}}

	o := NewOrchestrator(searchers, ev, WithParallelism(1))
	_, err := o.Search(context.Background(), "q", aliceScope(), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 1, gauge.peak)
}

func TestOrchestrator_AllSourcesFail(t *testing.T) {
	down := rerrors.New(rerrors.ErrCodeStoreUnavailable, "store down", nil)
	searchers := []Searcher{
		&stubSearcher{source: SourceTurn, err: down},
		&stubSearcher{source: SourceFact, err: down},
	}
	ev := &scriptedEvaluator{script: []Evaluation{{Sufficient: false, NewQueries: []string{"x"}}}}

	res, err := newTestOrchestrator(searchers, ev).
		Search(context.Background(), "q", aliceScope(), DefaultConfig())
	require.NoError(t, err)

	assert.True(t, res.Sufficient)
	assert.Empty(t, res.Context)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, TerminationSourcesDown, res.Termination)
	assert.Contains(t, res.Reasoning, "every source search failed")
	assert.Empty(t, ev.seen, "evaluator is skipped when nothing could be searched")
}

// ============================================================================
// Contract violations
// ============================================================================

func TestOrchestrator_ContractViolations(t *testing.T) {
	o := newTestOrchestrator([]Searcher{&stubSearcher{source: SourceTurn}},
		&scriptedEvaluator{script: []Evaluation{{Sufficient: true}}})

	badDepth := DefaultConfig()
	badDepth.MaxDepth = 0

	tests := []struct {
		name  string
		query string
		scope OwnerScope
		cfg   Config
		want  error
	}{
		{"empty query", "   ", aliceScope(), DefaultConfig(), rerrors.New(rerrors.ErrCodeQueryEmpty, "", nil)},
		{"missing owner", "q", OwnerScope{Scope: ScopeUser}, DefaultConfig(), rerrors.ErrMissingOwner},
		{"conversation without id", "q", OwnerScope{OwnerID: "alice", Scope: ScopeConversation}, DefaultConfig(), rerrors.ErrMissingConversation},
		{"unknown scope", "q", OwnerScope{OwnerID: "alice", Scope: "galaxy"}, DefaultConfig(), rerrors.ErrInvalidScope},
		{"bad config", "q", aliceScope(), badDepth, rerrors.New(rerrors.ErrCodeInvalidInput, "", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := o.Search(context.Background(), tt.query, tt.scope, tt.cfg)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, rerrors.IsContractViolation(err))
		})
	}
}

func TestOrchestrator_ScopeDefaultsFromConfig(t *testing.T) {
	var got OwnerScope
	s := &scopeRecorder{fn: func(sc OwnerScope) { got = sc }}
	ev := &scriptedEvaluator{script: []Evaluation{{Sufficient: true}}}

	cfg := DefaultConfig()
	cfg.Scope = ScopeConversation

	_, err := newTestOrchestrator([]Searcher{s}, ev).
		Search(context.Background(), "q", OwnerScope{OwnerID: "alice", ConversationID: "c1"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, ScopeConversation, got.Scope)
	assert.Equal(t, "c1", got.ConversationID)
}

func TestOrchestrator_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestOrchestrator([]Searcher{&stubSearcher{source: SourceTurn}},
		&scriptedEvaluator{script: []Evaluation{{Sufficient: true}}}).
		Search(ctx, "q", aliceScope(), DefaultConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

// --- more doubles ---

type funcEvaluator struct {
	fn func(query string, ranked []ContextChunk) Evaluation
}

func (e *funcEvaluator) Evaluate(_ context.Context, query string, ranked []ContextChunk, _ Config) Evaluation {
	return e.fn(query, ranked)
}

type scopeRecorder struct {
	fn func(OwnerScope)
}

func (s *scopeRecorder) Source() Source { return SourceTurn }

func (s *scopeRecorder) Search(_ context.Context, _ string, scope OwnerScope, _ Config) ([]ContextChunk, error) {
	s.fn(scope)
	return nil, nil
}
