package search

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrecall/internal/embed"
	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/store"
)

const (
	// recencyHalfLifeDays is the age at which an entry's ranking key halves.
	recencyHalfLifeDays = 60.0

	// entryOversample widens the entry store request so recency can pick
	// the top N from a larger candidate set.
	entryOversample = 3
)

// Searcher retrieves chunks for one query from one source.
type Searcher interface {
	Source() Source
	Search(ctx context.Context, query string, scope OwnerScope, cfg Config) ([]ContextChunk, error)
}

// SourceSearcher embeds a query and looks it up in one source of the store.
type SourceSearcher struct {
	source   Source
	embedder embed.Embedder
	store    store.Store

	// recency, when set, re-ranks candidates by similarity decayed by age.
	recency bool
	now     func() time.Time
}

var _ Searcher = (*SourceSearcher)(nil)

// NewSourceSearcher creates a searcher over one source.
func NewSourceSearcher(source Source, embedder embed.Embedder, st store.Store) *SourceSearcher {
	return &SourceSearcher{source: source, embedder: embedder, store: st, now: time.Now}
}

// NewEntrySearcher creates the long-form entry searcher, which favors
// fresher entries when choosing its top N.
func NewEntrySearcher(embedder embed.Embedder, st store.Store, now func() time.Time) *SourceSearcher {
	if now == nil {
		now = time.Now
	}
	return &SourceSearcher{source: SourceEntry, embedder: embedder, store: st, recency: true, now: now}
}

// NewSearchers returns the four standard searchers in fan-out order.
func NewSearchers(embedder embed.Embedder, st store.Store) []Searcher {
	return []Searcher{
		NewSourceSearcher(SourceTurn, embedder, st),
		NewSourceSearcher(SourceFact, embedder, st),
		NewEntrySearcher(embedder, st, nil),
		NewSourceSearcher(SourceSummary, embedder, st),
	}
}

// Source returns the searched source.
func (s *SourceSearcher) Source() Source {
	return s.source
}

// Search embeds query and returns matching chunks, most relevant first.
func (s *SourceSearcher) Search(ctx context.Context, query string, scope OwnerScope, cfg Config) ([]ContextChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, rerrors.New(rerrors.ErrCodeQueryEmpty, "search query is empty", nil)
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	limit := cfg.PerSourceLimit
	if s.recency {
		limit *= entryOversample
	}

	matches, err := s.store.Search(ctx, buildQuery(s.source, vec, scope, cfg.MinSimilarity, limit))
	if err != nil {
		return nil, err
	}

	if s.recency {
		matches = s.topByRecency(matches, cfg.PerSourceLimit)
	}

	chunks := make([]ContextChunk, 0, len(matches))
	for _, m := range matches {
		chunks = append(chunks, toChunk(m))
	}
	return chunks, nil
}

// buildQuery is where owner scope is enforced: every store query carries
// the owner, and conversation-scoped sources carry the conversation when
// the search is conversation scoped.
func buildQuery(source Source, vec []float32, scope OwnerScope, minSimilarity float64, limit int) store.Query {
	q := store.Query{
		Source:        source,
		Embedding:     vec,
		OwnerID:       scope.OwnerID,
		MinSimilarity: minSimilarity,
		Limit:         limit,
	}
	if scope.Scope == ScopeConversation && source.ConversationScoped() {
		q.ConversationID = scope.ConversationID
	}
	return q
}

// recencyScore is similarity * 1/(1 + age_days/60).
func recencyScore(similarity float64, createdAt, now time.Time) float64 {
	ageDays := math.Max(0, now.Sub(createdAt).Hours()/24)
	return similarity / (1 + ageDays/recencyHalfLifeDays)
}

func (s *SourceSearcher) topByRecency(matches []store.Match, n int) []store.Match {
	now := s.now()
	sort.SliceStable(matches, func(i, j int) bool {
		return recencyScore(matches[i].Similarity, matches[i].Record.CreatedAt, now) >
			recencyScore(matches[j].Similarity, matches[j].Record.CreatedAt, now)
	})
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches
}

func toChunk(m store.Match) ContextChunk {
	r := m.Record
	meta := make(map[string]string, len(r.Metadata)+2)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	if !r.CreatedAt.IsZero() {
		meta["created_at"] = r.CreatedAt.UTC().Format(time.RFC3339)
	}
	if r.ConversationID != "" {
		meta["conversation_id"] = r.ConversationID
	}
	return ContextChunk{
		ID:         ChunkID(r.Source, r.ID),
		Source:     r.Source,
		Content:    r.Content,
		Similarity: m.Similarity,
		Metadata:   meta,
	}
}
