// Package store persists conversation history records with their
// embeddings and answers owner-scoped similarity queries over them.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// Source names one of the four kinds of history a record can come from.
type Source string

const (
	SourceTurn    Source = "turn"
	SourceFact    Source = "fact"
	SourceEntry   Source = "entry"
	SourceSummary Source = "summary"
)

// AllSources lists every source in fan-out order.
var AllSources = []Source{SourceTurn, SourceFact, SourceEntry, SourceSummary}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceTurn, SourceFact, SourceEntry, SourceSummary:
		return true
	}
	return false
}

// ConversationScoped reports whether records of this source belong to a
// single conversation. Facts and journal entries belong to the owner.
func (s Source) ConversationScoped() bool {
	return s == SourceTurn || s == SourceSummary
}

// ParseSource parses a source name.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	if !src.Valid() {
		return "", rerrors.ValidationError(fmt.Sprintf("unknown source %q", s), nil).
			WithSuggestion("use one of: turn, fact, entry, summary")
	}
	return src, nil
}

// Record is one stored piece of history.
type Record struct {
	ID             string
	Source         Source
	OwnerID        string
	ConversationID string
	Content        string
	Metadata       map[string]string
	CreatedAt      time.Time
	Embedding      []float32
}

// Query is an owner-scoped similarity query against one source.
type Query struct {
	Source    Source
	Embedding []float32
	OwnerID   string

	// ConversationID, when set, restricts results to that conversation.
	ConversationID string

	// MinSimilarity drops matches below this cosine similarity.
	MinSimilarity float64

	// Limit caps the number of matches.
	Limit int
}

// Validate rejects queries that would escape owner scope or cannot run.
func (q Query) Validate() error {
	if strings.TrimSpace(q.OwnerID) == "" {
		return rerrors.New(rerrors.ErrCodeMissingOwner, "query has no owner", nil)
	}
	if !q.Source.Valid() {
		return rerrors.ValidationError(fmt.Sprintf("unknown source %q", q.Source), nil)
	}
	if len(q.Embedding) == 0 {
		return rerrors.New(rerrors.ErrCodeEmptyInput, "query embedding is empty", nil)
	}
	if q.Limit <= 0 {
		return rerrors.ValidationError("query limit must be positive", nil)
	}
	return nil
}

// matches reports whether r is visible to q, ignoring similarity.
func (q Query) matches(r *Record) bool {
	if r.Source != q.Source || r.OwnerID != q.OwnerID {
		return false
	}
	return q.ConversationID == "" || r.ConversationID == q.ConversationID
}

// Match is a record with its cosine similarity to the query.
type Match struct {
	Record     Record
	Similarity float64
}

// Store is a similarity-searchable record store.
type Store interface {
	// Search returns up to q.Limit matches at or above q.MinSimilarity,
	// most similar first. Only records owned by q.OwnerID are visible.
	Search(ctx context.Context, q Query) ([]Match, error)

	// Upsert inserts or replaces records keyed by (source, id).
	Upsert(ctx context.Context, records []Record) error

	// Count returns the number of records per source for an owner.
	Count(ctx context.Context, ownerID string) (map[Source]int, error)

	// Close releases resources.
	Close() error
}

// validateRecords checks records before any write.
func validateRecords(records []Record) error {
	dims := 0
	for i := range records {
		r := &records[i]
		switch {
		case r.ID == "":
			return rerrors.ValidationError(fmt.Sprintf("record %d has no id", i), nil)
		case !r.Source.Valid():
			return rerrors.ValidationError(fmt.Sprintf("record %s has unknown source %q", r.ID, r.Source), nil)
		case r.OwnerID == "":
			return rerrors.New(rerrors.ErrCodeMissingOwner, fmt.Sprintf("record %s has no owner", r.ID), nil)
		case len(r.Embedding) == 0:
			return rerrors.New(rerrors.ErrCodeEmptyInput, fmt.Sprintf("record %s has no embedding", r.ID), nil)
		}
		if dims == 0 {
			dims = len(r.Embedding)
		} else if len(r.Embedding) != dims {
			return rerrors.New(rerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("record %s has %d dimensions, batch has %d", r.ID, len(r.Embedding), dims), nil)
		}
	}
	return nil
}
