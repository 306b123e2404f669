package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// HNSWConfig configures the in-process store.
type HNSWConfig struct {
	// Path, when set, is where Close writes a snapshot and New reads it.
	Path string

	M        int
	EfSearch int
}

// partitionKey identifies one (owner, source) graph.
type partitionKey struct {
	owner  string
	source Source
}

// partition is an HNSW graph over one owner's records of one source.
type partition struct {
	graph *hnsw.Graph[uint64]
	ids   map[string]uint64
}

// HNSWStore keeps records in memory with one coder/hnsw graph per owner
// and source, so a query can only ever reach its owner's vectors.
type HNSWStore struct {
	mu         sync.RWMutex
	config     HNSWConfig
	partitions map[partitionKey]*partition
	records    map[uint64]*Record
	nextKey    uint64
	dims       int
	closed     bool
}

var _ Store = (*HNSWStore)(nil)

// hnswSnapshot is the gob-encoded on-disk form. Graphs are rebuilt on load.
type hnswSnapshot struct {
	Records []Record
}

// NewHNSWStore creates the store, loading a snapshot from cfg.Path if one
// exists.
func NewHNSWStore(cfg HNSWConfig) (*HNSWStore, error) {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	s := &HNSWStore{
		config:     cfg,
		partitions: make(map[partitionKey]*partition),
		records:    make(map[uint64]*Record),
	}

	if cfg.Path != "" {
		if err := s.load(cfg.Path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *HNSWStore) newPartition() *partition {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = s.config.M
	g.EfSearch = s.config.EfSearch
	g.Ml = 0.25
	return &partition{graph: g, ids: make(map[string]uint64)}
}

// Upsert inserts records. A replaced record's old node stays in the graph
// without a mapping and never surfaces in results.
func (s *HNSWStore) Upsert(_ context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return rerrors.StorageError("store is closed", nil)
	}

	if s.dims == 0 {
		s.dims = len(records[0].Embedding)
	}
	if len(records[0].Embedding) != s.dims {
		return rerrors.New(rerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("records have %d dimensions, store has %d", len(records[0].Embedding), s.dims), nil)
	}

	for i := range records {
		s.insertLocked(records[i])
	}
	return nil
}

// insertLocked adds r to its (owner, source) partition. Ids are unique per
// partition, so the same id under another owner is a different record.
func (s *HNSWStore) insertLocked(r Record) {
	pk := partitionKey{owner: r.OwnerID, source: r.Source}
	p, ok := s.partitions[pk]
	if !ok {
		p = s.newPartition()
		s.partitions[pk] = p
	}
	if old, ok := p.ids[r.ID]; ok {
		delete(s.records, old)
	}

	vec := make([]float32, len(r.Embedding))
	copy(vec, r.Embedding)
	normalizeVectorInPlace(vec)
	r.Embedding = vec

	key := s.nextKey
	s.nextKey++
	p.graph.Add(hnsw.MakeNode(key, vec))
	p.ids[r.ID] = key
	s.records[key] = &r
}

// Search queries the owner's graph for the source. Conversation-restricted
// queries search the whole partition so the filter cannot starve results.
func (s *HNSWStore) Search(_ context.Context, q Query) ([]Match, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, rerrors.StorageError("store is closed", nil)
	}

	p, ok := s.partitions[partitionKey{owner: q.OwnerID, source: q.Source}]
	if !ok || len(p.ids) == 0 {
		return []Match{}, nil
	}
	if len(q.Embedding) != s.dims {
		return nil, rerrors.New(rerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("query has %d dimensions, store has %d", len(q.Embedding), s.dims), nil)
	}

	query := make([]float32, len(q.Embedding))
	copy(query, q.Embedding)
	normalizeVectorInPlace(query)

	orphans := p.graph.Len() - len(p.ids)
	k := min(q.Limit*2+orphans, p.graph.Len())
	if q.ConversationID != "" {
		k = p.graph.Len()
	}

	matches := make([]Match, 0, q.Limit)
	for _, node := range p.graph.Search(query, k) {
		r, ok := s.records[node.Key]
		if !ok || !q.matches(r) {
			continue
		}
		sim := 1 - float64(p.graph.Distance(query, node.Value))
		if sim < q.MinSimilarity {
			continue
		}
		out := *r
		out.Embedding = nil
		matches = append(matches, Match{Record: out, Similarity: sim})
	}
	return sortAndLimit(matches, q.Limit), nil
}

// Count returns per-source record counts for an owner.
func (s *HNSWStore) Count(_ context.Context, ownerID string) (map[Source]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Source]int, len(AllSources))
	for pk, p := range s.partitions {
		if pk.owner == ownerID && len(p.ids) > 0 {
			counts[pk.source] = len(p.ids)
		}
	}
	return counts, nil
}

// Close writes the snapshot when a path is configured.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.config.Path == "" {
		return nil
	}
	return s.saveLocked(s.config.Path)
}

// saveLocked writes records atomically (temp file + rename).
func (s *HNSWStore) saveLocked(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rerrors.StorageError("failed to create snapshot directory", err)
	}

	snap := hnswSnapshot{Records: make([]Record, 0, len(s.records))}
	for _, p := range s.partitions {
		for _, key := range p.ids {
			snap.Records = append(snap.Records, *s.records[key])
		}
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return rerrors.StorageError("failed to create snapshot", err)
	}
	w := bufio.NewWriter(file)
	if err := gob.NewEncoder(w).Encode(snap); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return rerrors.StorageError("failed to encode snapshot", err)
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return rerrors.StorageError("failed to write snapshot", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return rerrors.StorageError("failed to close snapshot", err)
	}
	return os.Rename(tmpPath, path)
}

func (s *HNSWStore) load(path string) error {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return rerrors.StorageError("failed to open snapshot", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close snapshot", slog.String("error", err.Error()))
		}
	}()

	var snap hnswSnapshot
	if err := gob.NewDecoder(bufio.NewReader(file)).Decode(&snap); err != nil {
		return rerrors.New(rerrors.ErrCodeStoreCorrupt, "failed to decode snapshot", err).
			WithDetail("path", path)
	}

	for _, r := range snap.Records {
		if s.dims == 0 {
			s.dims = len(r.Embedding)
		}
		s.insertLocked(r)
	}
	slog.Debug("hnsw_snapshot_loaded", slog.String("path", path), slog.Int("records", len(snap.Records)))
	return nil
}
