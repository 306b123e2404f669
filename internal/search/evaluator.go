package search

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hbollon/go-edlib"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/reason"
)

const (
	// maxFollowUps caps the follow-up queries taken from one evaluation.
	maxFollowUps = 3

	// followUpDuplicateThreshold is the word-level Jaccard similarity at
	// which two queries count as the same search.
	followUpDuplicateThreshold = 0.8
)

// Outcome says how an evaluation was reached.
type Outcome string

const (
	OutcomeJudged   Outcome = "judged"
	OutcomeEmpty    Outcome = "empty"
	OutcomeBudget   Outcome = "budget"
	OutcomeFailOpen Outcome = "fail_open"
)

// Evaluation is the evaluator's verdict on the collected context.
type Evaluation struct {
	Sufficient bool
	Reasoning  string
	NewQueries []string
	Outcome    Outcome
}

// Evaluator judges whether ranked chunks can answer query.
type Evaluator interface {
	Evaluate(ctx context.Context, query string, ranked []ContextChunk, cfg Config) Evaluation
}

// Judgment is the JSON shape the reasoning backend must return.
type Judgment struct {
	Sufficient      *bool    `json:"sufficient" jsonschema:"required,description=true when the context can answer the question"`
	Reasoning       string   `json:"reasoning" jsonschema:"required,description=one or two sentences explaining the verdict"`
	FollowUpQueries []string `json:"follow_up_queries" jsonschema:"required,description=1-3 targeted search queries when insufficient; empty otherwise"`
}

var judgmentSchema = reason.GenerateSchema[Judgment]()

const evaluatorInstructions = `You decide whether retrieved memory is enough to answer a user's question.

You receive the question and numbered context chunks from the user's history.
Respond with JSON only: {"sufficient": bool, "reasoning": string, "follow_up_queries": [string]}.

Rules:
- If the context seems relevant and covers the main aspects of the question, mark it sufficient.
- Only mark it insufficient when something the question clearly needs is missing.
- When insufficient, give 1 to 3 short, specific search queries that would find the missing pieces.
  Do not repeat the original question.
- When sufficient, follow_up_queries must be empty.`

// LLMEvaluator asks a reasoning backend for the verdict and fails open:
// any backend or parse failure is reported as sufficient.
type LLMEvaluator struct {
	reasoner reason.Reasoner
	logger   *slog.Logger
}

var _ Evaluator = (*LLMEvaluator)(nil)

// NewLLMEvaluator creates an evaluator backed by reasoner.
func NewLLMEvaluator(reasoner reason.Reasoner, logger *slog.Logger) *LLMEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMEvaluator{reasoner: reasoner, logger: logger}
}

// Evaluate returns the verdict for ranked.
func (e *LLMEvaluator) Evaluate(ctx context.Context, query string, ranked []ContextChunk, cfg Config) Evaluation {
	if len(ranked) == 0 {
		return Evaluation{
			Sufficient: false,
			Reasoning:  "no context found yet; retrying the original query",
			NewQueries: []string{query},
			Outcome:    OutcomeEmpty,
		}
	}

	if tokens := EstimateTokens(ranked); tokens >= cfg.TargetTokenBudget {
		return Evaluation{
			Sufficient: true,
			Reasoning:  fmt.Sprintf("token budget reached (%d >= %d)", tokens, cfg.TargetTokenBudget),
			Outcome:    OutcomeBudget,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.EvaluatorTimeout)
	defer cancel()

	out, err := e.reasoner.Complete(ctx, reason.Request{
		System:     evaluatorInstructions,
		Prompt:     BuildEvaluationPrompt(query, ranked),
		MaxTokens:  cfg.EvaluationMaxTokens,
		Schema:     judgmentSchema,
		SchemaName: "sufficiency_judgment",
	})
	if err != nil {
		return e.failOpen("evaluator unavailable", err)
	}

	j, err := ParseJudgment(out)
	if err != nil {
		return e.failOpen("evaluator output unparseable", err)
	}

	eval := Evaluation{
		Sufficient: *j.Sufficient,
		Reasoning:  strings.TrimSpace(j.Reasoning),
		Outcome:    OutcomeJudged,
	}
	if !eval.Sufficient {
		eval.NewQueries = CleanFollowUps(query, j.FollowUpQueries)
	}
	return eval
}

func (e *LLMEvaluator) failOpen(what string, err error) Evaluation {
	e.logger.Warn("evaluator_fail_open", append([]any{slog.String("reason", what)}, rerrors.LogAttrs(err)...)...)
	return Evaluation{
		Sufficient: true,
		Reasoning:  fmt.Sprintf("%s (%v); treating collected context as sufficient", what, err),
		Outcome:    OutcomeFailOpen,
	}
}

// BuildEvaluationPrompt renders the question and one line per chunk.
func BuildEvaluationPrompt(query string, ranked []ContextChunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nContext:\n", query)
	for i, c := range ranked {
		fmt.Fprintf(&b, "[%d] (%s, similarity=%.2f): %s\n", i+1, c.Source, c.Similarity, oneLine(c.Content))
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ParseJudgment decodes evaluator output strictly. Unknown fields, a
// missing verdict or trailing garbage yield ErrUnparseable.
func ParseJudgment(output string) (Judgment, error) {
	var j Judgment

	s := strings.TrimSpace(output)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start {
		return j, unparseable(output, nil)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(s[start : end+1])))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&j); err != nil {
		return j, unparseable(output, err)
	}
	if dec.More() {
		return j, unparseable(output, stderrors.New("trailing data after judgment"))
	}
	if j.Sufficient == nil {
		return j, unparseable(output, stderrors.New(`missing "sufficient"`))
	}
	return j, nil
}

func unparseable(output string, cause error) error {
	if len(output) > 200 {
		output = output[:200]
	}
	return rerrors.New(rerrors.ErrCodeUnparseable, "could not parse evaluator output", cause).
		WithDetail("output", output)
}

// CleanFollowUps trims proposals, drops blanks and near-duplicates of the
// original query or of each other, and keeps at most three.
func CleanFollowUps(original string, proposed []string) []string {
	seen := []string{normalizeQuery(original)}
	out := make([]string, 0, maxFollowUps)
	for _, q := range proposed {
		q = strings.TrimSpace(q)
		norm := normalizeQuery(q)
		if norm == "" || isDuplicateQuery(norm, seen) {
			continue
		}
		seen = append(seen, norm)
		out = append(out, q)
		if len(out) == maxFollowUps {
			break
		}
	}
	return out
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

func isDuplicateQuery(q string, seen []string) bool {
	for _, s := range seen {
		if q == s || edlib.JaccardSimilarity(q, s, 0) >= followUpDuplicateThreshold {
			return true
		}
	}
	return false
}
