package store

import (
	"context"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// Backend selects a store implementation.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPGVector Backend = "pgvector"
	BackendMemory   Backend = "memory"
)

// Options configures Open.
type Options struct {
	Backend     Backend
	SQLitePath  string
	PostgresDSN string
	MaxConns    int32
	Dimensions  int

	// SnapshotPath persists the memory backend between runs.
	SnapshotPath string
}

// Open creates the configured store.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		return NewSQLiteStore(opts.SQLitePath)
	case BackendPGVector:
		return NewPGVectorStore(ctx, PGVectorConfig{
			DSN:        opts.PostgresDSN,
			Dimensions: opts.Dimensions,
			MaxConns:   opts.MaxConns,
		})
	case BackendMemory:
		return NewHNSWStore(HNSWConfig{Path: opts.SnapshotPath})
	default:
		return nil, rerrors.New(rerrors.ErrCodeUnknownBackend, "unknown store backend: "+string(opts.Backend), nil).
			WithSuggestion("use one of: sqlite, pgvector, memory")
	}
}
