// Package search implements recursive multi-source context retrieval: a
// bounded loop that searches four history sources in parallel, asks a
// reasoning backend whether the collected context suffices, and follows
// up with new queries when it does not.
package search

import (
	"fmt"
	"strings"
	"time"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/store"
)

// Source is the kind of history a chunk came from.
type Source = store.Source

const (
	SourceTurn    = store.SourceTurn
	SourceFact    = store.SourceFact
	SourceEntry   = store.SourceEntry
	SourceSummary = store.SourceSummary
)

// ContextChunk is one normalized, source-tagged unit of retrieved text.
type ContextChunk struct {
	// ID is "<source>:<record id>", the dedup key within a search.
	ID         string            `json:"id"`
	Source     Source            `json:"source"`
	Content    string            `json:"content"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ChunkID namespaces a record id by source.
func ChunkID(source Source, recordID string) string {
	return string(source) + ":" + recordID
}

// Scope narrows which records are eligible.
type Scope string

const (
	// ScopeConversation restricts turns and summaries to one conversation.
	ScopeConversation Scope = "conversation"
	// ScopeUser searches all of the owner's records.
	ScopeUser Scope = "user"
	// ScopeAll is accepted as a synonym of ScopeUser; records of other
	// owners are never eligible.
	ScopeAll Scope = "all"
)

// ParseScope parses a scope name. Empty means ScopeUser.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeUser:
		return ScopeUser, nil
	case ScopeConversation:
		return ScopeConversation, nil
	case ScopeAll:
		return ScopeAll, nil
	}
	return "", rerrors.New(rerrors.ErrCodeInvalidScope, fmt.Sprintf("unknown search scope %q", s), nil).
		WithSuggestion("use one of: conversation, user, all")
}

// OwnerScope identifies whose records are visible to a search.
type OwnerScope struct {
	OwnerID        string
	ConversationID string
	Scope          Scope
}

// Validate rejects scopes that cannot be enforced.
func (o OwnerScope) Validate() error {
	if strings.TrimSpace(o.OwnerID) == "" {
		return rerrors.New(rerrors.ErrCodeMissingOwner, "search has no owner", nil)
	}
	switch o.Scope {
	case ScopeUser, ScopeAll:
		return nil
	case ScopeConversation:
		if strings.TrimSpace(o.ConversationID) == "" {
			return rerrors.New(rerrors.ErrCodeMissingConversation, "conversation scope needs a conversation id", nil)
		}
		return nil
	}
	return rerrors.New(rerrors.ErrCodeInvalidScope, fmt.Sprintf("unknown search scope %q", o.Scope), nil)
}

// Defaults for Config.
const (
	DefaultMaxDepth            = 3
	DefaultMaxChunks           = 20
	DefaultMinSimilarity       = 0.4
	DefaultTargetTokenBudget   = 4000
	DefaultEvaluationMaxTokens = 500
	DefaultPerSourceLimit      = 10
	DefaultSourceTimeout       = 5 * time.Second
	DefaultEvaluatorTimeout    = 15 * time.Second
)

// Config controls one recursive search.
type Config struct {
	// MaxDepth is the hard ceiling on rounds.
	MaxDepth int
	// MaxChunks caps the final bundle.
	MaxChunks int
	// MinSimilarity is the inclusion floor.
	MinSimilarity float64
	// Scope narrows eligible records.
	Scope Scope
	// TargetTokenBudget stops the loop once the ranked bundle reaches it.
	TargetTokenBudget int
	// EvaluationMaxTokens bounds the evaluator's own output.
	EvaluationMaxTokens int

	// PerSourceLimit is the top-N requested from each source.
	PerSourceLimit int
	// SourceTimeout bounds one source search (embedding plus store query).
	SourceTimeout time.Duration
	// EvaluatorTimeout bounds one evaluator call.
	EvaluatorTimeout time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxDepth:            DefaultMaxDepth,
		MaxChunks:           DefaultMaxChunks,
		MinSimilarity:       DefaultMinSimilarity,
		Scope:               ScopeUser,
		TargetTokenBudget:   DefaultTargetTokenBudget,
		EvaluationMaxTokens: DefaultEvaluationMaxTokens,
		PerSourceLimit:      DefaultPerSourceLimit,
		SourceTimeout:       DefaultSourceTimeout,
		EvaluatorTimeout:    DefaultEvaluatorTimeout,
	}
}

// Validate rejects out-of-range settings.
func (c Config) Validate() error {
	invalid := func(field string, v any) error {
		return rerrors.ValidationError(fmt.Sprintf("search config: %s out of range (%v)", field, v), nil)
	}
	switch {
	case c.MaxDepth < 1:
		return invalid("max_depth", c.MaxDepth)
	case c.MaxChunks < 1:
		return invalid("max_chunks", c.MaxChunks)
	case c.MinSimilarity < -1 || c.MinSimilarity > 1:
		return invalid("min_similarity", c.MinSimilarity)
	case c.TargetTokenBudget < 1:
		return invalid("target_token_budget", c.TargetTokenBudget)
	case c.EvaluationMaxTokens < 1:
		return invalid("evaluation_max_tokens", c.EvaluationMaxTokens)
	case c.PerSourceLimit < 1:
		return invalid("per_source_limit", c.PerSourceLimit)
	case c.SourceTimeout <= 0:
		return invalid("source_timeout", c.SourceTimeout)
	case c.EvaluatorTimeout <= 0:
		return invalid("evaluator_timeout", c.EvaluatorTimeout)
	}
	if _, err := ParseScope(string(c.Scope)); err != nil {
		return err
	}
	return nil
}

// Termination says why the loop stopped.
type Termination string

const (
	TerminationSufficient  Termination = "sufficient"
	TerminationBudget      Termination = "token_budget"
	TerminationMaxDepth    Termination = "max_depth"
	TerminationNoQueries   Termination = "no_new_queries"
	TerminationFailOpen    Termination = "evaluator_failed"
	TerminationSourcesDown Termination = "sources_failed"
)

// Result is what a recursive search returns.
type Result struct {
	SearchID      string         `json:"search_id"`
	Query         string         `json:"query"`
	Context       []ContextChunk `json:"context"`
	Iterations    int            `json:"iterations"`
	Sufficient    bool           `json:"sufficient"`
	SearchQueries [][]string     `json:"search_queries"`
	TotalTokens   int            `json:"total_tokens"`
	Reasoning     string         `json:"reasoning"`
	Termination   Termination    `json:"termination"`
	Duration      time.Duration  `json:"duration_ns"`
}
