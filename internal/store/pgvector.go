package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// PGVectorConfig configures the Postgres store.
type PGVectorConfig struct {
	DSN        string
	Dimensions int
	MaxConns   int32

	// Table defaults to recall_records.
	Table string
}

// PGVectorStore keeps records in Postgres and lets pgvector rank them.
type PGVectorStore struct {
	pool  *pgxpool.Pool
	table string
}

var _ Store = (*PGVectorStore)(nil)

// NewPGVectorStore connects, checks for the vector extension and creates
// the table if needed.
func NewPGVectorStore(ctx context.Context, cfg PGVectorConfig) (*PGVectorStore, error) {
	if cfg.DSN == "" {
		return nil, rerrors.ConfigError("postgres DSN is not set", nil).
			WithSuggestion("set store.postgres_dsn or DATABASE_URL")
	}
	if cfg.Dimensions <= 0 {
		return nil, rerrors.ConfigError("pgvector store needs the embedding dimension", nil)
	}
	if cfg.Table == "" {
		cfg.Table = "recall_records"
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, rerrors.ConfigError("invalid postgres DSN", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreUnavailable, "failed to connect to postgres", err)
	}

	var hasVector bool
	if err := pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&hasVector); err != nil {
		pool.Close()
		return nil, rerrors.New(rerrors.ErrCodeStoreUnavailable, "failed to check pgvector extension", err)
	}
	if !hasVector {
		pool.Close()
		return nil, rerrors.New(rerrors.ErrCodeStoreUnavailable, "pgvector extension not installed", nil).
			WithSuggestion("run: CREATE EXTENSION vector")
	}

	s := &PGVectorStore{pool: pool, table: pgx.Identifier{cfg.Table}.Sanitize()}
	if err := s.ensureSchema(ctx, cfg.Dimensions); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGVectorStore) ensureSchema(ctx context.Context, dims int) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			source          TEXT NOT NULL,
			id              TEXT NOT NULL,
			owner_id        TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			content         TEXT NOT NULL,
			metadata        JSONB,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			embedding       vector(%d) NOT NULL,
			PRIMARY KEY (owner_id, source, id)
		)`, s.table, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS recall_records_owner_idx ON %s (owner_id, source, conversation_id)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS recall_records_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return rerrors.New(rerrors.ErrCodeStoreUnavailable, "failed to create history table", err)
		}
	}
	return s.migrateOwnerKey(ctx)
}

// migrateOwnerKey widens a primary key created without owner_id.
func (s *PGVectorStore) migrateOwnerKey(ctx context.Context) error {
	var (
		name     string
		hasOwner bool
	)
	err := s.pool.QueryRow(ctx, `
		SELECT c.conname,
		       EXISTS (SELECT 1 FROM pg_attribute a
		               WHERE a.attrelid = c.conrelid AND a.attnum = ANY(c.conkey) AND a.attname = 'owner_id')
		FROM pg_constraint c
		WHERE c.conrelid = $1::text::regclass AND c.contype = 'p'`, s.table).Scan(&name, &hasOwner)
	if err != nil {
		return rerrors.New(rerrors.ErrCodeStoreUnavailable, "failed to inspect history table key", err)
	}
	if hasOwner {
		return nil
	}

	stmt := fmt.Sprintf(`ALTER TABLE %s DROP CONSTRAINT %s, ADD PRIMARY KEY (owner_id, source, id)`,
		s.table, pgx.Identifier{name}.Sanitize())
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return rerrors.New(rerrors.ErrCodeStoreUnavailable, "failed to migrate history table key", err)
	}
	slog.Info("history_table_key_migrated", slog.String("table", s.table))
	return nil
}

// Search ranks by cosine distance in the database.
func (s *PGVectorStore) Search(ctx context.Context, q Query) ([]Match, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT id, owner_id, conversation_id, content, metadata, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE source = $2 AND owner_id = $3
		  AND ($4 = '' OR conversation_id = $4)
		  AND 1 - (embedding <=> $1) >= $5
		ORDER BY embedding <=> $1, created_at DESC
		LIMIT $6`, s.table)

	rows, err := s.pool.Query(ctx, sql,
		pgvector.NewVector(q.Embedding),
		string(q.Source),
		q.OwnerID,
		q.ConversationID,
		q.MinSimilarity,
		q.Limit,
	)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreQuery, "pgvector search failed", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, q.Limit)
	for rows.Next() {
		var (
			m        Match
			metadata []byte
		)
		if err := rows.Scan(&m.Record.ID, &m.Record.OwnerID, &m.Record.ConversationID,
			&m.Record.Content, &metadata, &m.Record.CreatedAt, &m.Similarity); err != nil {
			return nil, rerrors.New(rerrors.ErrCodeStoreQuery, "failed to scan row", err)
		}
		m.Record.Source = q.Source
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &m.Record.Metadata); err != nil {
				return nil, rerrors.New(rerrors.ErrCodeStoreQuery, "failed to parse metadata", err)
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreQuery, "error iterating rows", err)
	}
	return matches, nil
}

// Upsert writes records in one batch.
func (s *PGVectorStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records); err != nil {
		return err
	}

	upsertSQL := fmt.Sprintf(`
		INSERT INTO %s (source, id, owner_id, conversation_id, content, metadata, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_id, source, id) DO UPDATE SET
			conversation_id = EXCLUDED.conversation_id,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at,
			embedding = EXCLUDED.embedding`, s.table)

	batch := &pgx.Batch{}
	for _, r := range records {
		var metadata []byte
		if len(r.Metadata) > 0 {
			b, err := json.Marshal(r.Metadata)
			if err != nil {
				return rerrors.StorageError("failed to marshal metadata for "+r.ID, err)
			}
			metadata = b
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		batch.Queue(upsertSQL, string(r.Source), r.ID, r.OwnerID, r.ConversationID,
			r.Content, metadata, createdAt, pgvector.NewVector(r.Embedding))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return rerrors.StorageError(fmt.Sprintf("failed to upsert record %s", records[i].ID), err)
		}
	}
	return nil
}

// Count returns per-source record counts for an owner.
func (s *PGVectorStore) Count(ctx context.Context, ownerID string) (map[Source]int, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT source, COUNT(*) FROM %s WHERE owner_id = $1 GROUP BY source`, s.table), ownerID)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreQuery, "count query failed", err)
	}
	defer rows.Close()

	counts := make(map[Source]int, len(AllSources))
	for rows.Next() {
		var (
			src string
			n   int
		)
		if err := rows.Scan(&src, &n); err != nil {
			return nil, rerrors.New(rerrors.ErrCodeStoreQuery, "failed to scan count", err)
		}
		counts[Source(src)] = n
	}
	return counts, rows.Err()
}

// Close closes the pool.
func (s *PGVectorStore) Close() error {
	s.pool.Close()
	return nil
}
