// Package ingest loads JSONL history records into a similarity store:
// it reads, embeds in batches, and upserts.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Aman-CERP/amanrecall/internal/embed"
	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/store"
)

// RunnerConfig configures one ingest run.
type RunnerConfig struct {
	// BatchSize is the number of records embedded and upserted together
	// (default: embed.DefaultBatchSize).
	BatchSize int

	// LockDir, when set, holds a cross-process lock for the duration of
	// the run.
	LockDir string

	// Strict aborts on the first malformed line instead of skipping it.
	Strict bool

	// InterBatchDelay pauses between batches to spare a local model.
	InterBatchDelay time.Duration
}

// RunnerResult summarizes an ingest run.
type RunnerResult struct {
	Records  int
	Skipped  int
	Batches  int
	BySource map[store.Source]int
	Duration time.Duration
}

// RunnerDependencies are the injected collaborators of a Runner.
type RunnerDependencies struct {
	Store    store.Store
	Embedder embed.Embedder
	Logger   *slog.Logger
}

// Runner executes ingest runs.
type Runner struct {
	store    store.Store
	embedder embed.Embedder
	logger   *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: deps.Store, embedder: deps.Embedder, logger: logger}, nil
}

// ErrLocked is returned when another ingest holds the lock.
var ErrLocked = errors.New("another ingest is already running")

// Run reads every record from in, embeds and upserts them.
func (r *Runner) Run(ctx context.Context, in io.Reader, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embed.DefaultBatchSize
	}

	if cfg.LockDir != "" {
		release, err := acquireIngestLock(cfg.LockDir)
		if err != nil {
			return nil, err
		}
		defer func() { _ = release() }()
	}

	res := &RunnerResult{BySource: make(map[store.Source]int)}
	reader := NewReader(in)
	batch := make([]store.Record, 0, cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if res.Batches > 0 && cfg.InterBatchDelay > 0 {
			select {
			case <-time.After(cfg.InterBatchDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := r.writeBatch(ctx, batch); err != nil {
			return err
		}
		res.Batches++
		for _, rec := range batch {
			res.Records++
			res.BySource[rec.Source]++
		}
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if cfg.Strict || !rerrors.IsContractViolation(err) {
				return nil, err
			}
			res.Skipped++
			r.logger.Warn("ingest_line_skipped", rerrors.LogAttrs(err)...)
			continue
		}
		batch = append(batch, rec)
		if len(batch) == cfg.BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	r.logger.Info("ingest_complete",
		slog.Int("records", res.Records),
		slog.Int("skipped", res.Skipped),
		slog.Int("batches", res.Batches),
		slog.Duration("duration", res.Duration))
	return res, nil
}

func (r *Runner) writeBatch(ctx context.Context, batch []store.Record) error {
	texts := make([]string, len(batch))
	for i, rec := range batch {
		texts[i] = rec.Content
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(batch) {
		return rerrors.New(rerrors.ErrCodeIngestFailed,
			fmt.Sprintf("embedder returned %d vectors for %d records", len(vecs), len(batch)), nil)
	}
	for i := range batch {
		batch[i].Embedding = vecs[i]
	}
	if err := r.store.Upsert(ctx, batch); err != nil {
		return err
	}
	r.logger.Debug("ingest_batch", slog.Int("records", len(batch)))
	return nil
}
