package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// DefaultParallelism bounds concurrent source searches within a round.
const DefaultParallelism = 8

// Orchestrator drives the search-evaluate loop.
type Orchestrator struct {
	searchers   []Searcher
	evaluator   Evaluator
	logger      *slog.Logger
	metrics     *Metrics
	newID       func() string
	parallelism int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records search metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithIDGenerator overrides search id generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithParallelism bounds concurrent source searches within a round.
func WithParallelism(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// NewOrchestrator creates an orchestrator over already-built searchers
// and evaluator.
func NewOrchestrator(searchers []Searcher, evaluator Evaluator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		searchers:   searchers,
		evaluator:   evaluator,
		logger:      slog.Default(),
		newID:       uuid.NewString,
		parallelism: DefaultParallelism,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// searchState lives for one Search call.
type searchState struct {
	collected          map[string]ContextChunk
	queriesByIteration [][]string
	iteration          int
	sufficient         bool
	reasoning          string
	termination        Termination
}

// Search runs the recursive search for query.
//
// Contract violations (empty query, bad config, missing owner, conversation
// scope without a conversation) are returned as errors. Provider and store
// failures never are: they degrade to empty source results or a fail-open
// evaluation, and the worst case is an empty, sufficient result whose
// reasoning explains what failed.
// A round in which every source search fails ends the search at once, even
// in round 1; it is not retried.
func (o *Orchestrator) Search(ctx context.Context, query string, scope OwnerScope, cfg Config) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, rerrors.New(rerrors.ErrCodeQueryEmpty, "search query is empty", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if scope.Scope == "" {
		scope.Scope, _ = ParseScope(string(cfg.Scope))
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	searchID := o.newID()
	logger := o.logger.With(slog.String("search_id", searchID))

	state := &searchState{collected: make(map[string]ContextChunk)}
	queries := []string{query}

	for state.iteration < cfg.MaxDepth && !state.sufficient {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		state.queriesByIteration = append(state.queriesByIteration, queries)
		round := o.runRound(ctx, queries, scope, cfg, logger)
		for _, c := range round.chunks {
			state.collected[c.ID] = c
		}
		state.iteration++

		if round.attempted > 0 && round.failed == round.attempted {
			state.sufficient = true
			state.reasoning = fmt.Sprintf("every source search failed in round %d (%v); continuing without further retrieval",
				state.iteration, round.lastErr)
			state.termination = TerminationSourcesDown
			logger.Warn("recursive_search_sources_down", slog.Int("round", state.iteration))
			break
		}

		ranked := rankCollected(state.collected, cfg.MaxChunks)
		eval := o.evaluator.Evaluate(ctx, query, ranked, cfg)
		o.metrics.evaluated(eval)
		state.sufficient = eval.Sufficient
		state.reasoning = eval.Reasoning

		logger.Debug("recursive_search_round",
			slog.Int("round", state.iteration),
			slog.Int("queries", len(queries)),
			slog.Int("new_chunks", round.distinct),
			slog.Int("collected", len(state.collected)),
			slog.Int("failed_sources", round.failed),
			slog.String("outcome", string(eval.Outcome)),
			slog.Bool("sufficient", eval.Sufficient))

		if state.sufficient {
			state.termination = terminationFor(eval.Outcome)
			break
		}
		if state.iteration < cfg.MaxDepth {
			queries = eval.NewQueries
			if len(queries) == 0 {
				state.termination = TerminationNoQueries
				break
			}
		}
	}
	if state.termination == "" {
		state.termination = TerminationMaxDepth
	}

	final := rankCollected(state.collected, cfg.MaxChunks)
	result := &Result{
		SearchID:      searchID,
		Query:         query,
		Context:       final,
		Iterations:    state.iteration,
		Sufficient:    state.sufficient,
		SearchQueries: state.queriesByIteration,
		TotalTokens:   EstimateTokens(final),
		Reasoning:     state.reasoning,
		Termination:   state.termination,
		Duration:      time.Since(start),
	}
	o.metrics.observeSearch(result)

	logger.Info("recursive_search_complete",
		slog.Int("iterations", result.Iterations),
		slog.Int("chunks", len(result.Context)),
		slog.Int("tokens", result.TotalTokens),
		slog.Bool("sufficient", result.Sufficient),
		slog.String("termination", string(result.Termination)),
		slog.Duration("duration", result.Duration))

	return result, nil
}

func terminationFor(outcome Outcome) Termination {
	switch outcome {
	case OutcomeBudget:
		return TerminationBudget
	case OutcomeFailOpen:
		return TerminationFailOpen
	default:
		return TerminationSufficient
	}
}

// roundResult is the fan-in of one round.
type roundResult struct {
	chunks    []ContextChunk
	distinct  int
	attempted int
	failed    int
	lastErr   error
}

// runRound searches every (query, source) pair concurrently. Each search
// writes only its own slot; slots are merged after all searches finish.
func (o *Orchestrator) runRound(ctx context.Context, queries []string, scope OwnerScope, cfg Config, logger *slog.Logger) roundResult {
	type slot struct {
		chunks []ContextChunk
		err    error
	}
	slots := make([]slot, len(queries)*len(o.searchers))

	var g errgroup.Group
	g.SetLimit(o.parallelism)
	for qi, q := range queries {
		for si, s := range o.searchers {
			idx := qi*len(o.searchers) + si
			g.Go(func() error {
				sctx, cancel := context.WithTimeout(ctx, cfg.SourceTimeout)
				defer cancel()
				chunks, err := s.Search(sctx, q, scope, cfg)
				slots[idx] = slot{chunks: chunks, err: err}
				return nil
			})
		}
	}
	_ = g.Wait()

	var rr roundResult
	seen := make(map[string]struct{})
	for i, sl := range slots {
		rr.attempted++
		if sl.err != nil {
			rr.failed++
			rr.lastErr = sl.err
			src := o.searchers[i%len(o.searchers)].Source()
			o.metrics.sourceFailed(src, sl.err)
			logger.Warn("source_search_failed",
				append([]any{slog.String("source", string(src)), slog.String("query", queries[i/len(o.searchers)])},
					rerrors.LogAttrs(sl.err)...)...)
			continue
		}
		for _, c := range sl.chunks {
			if _, dup := seen[c.ID]; !dup {
				seen[c.ID] = struct{}{}
				rr.distinct++
			}
			rr.chunks = append(rr.chunks, c)
		}
	}
	return rr
}
