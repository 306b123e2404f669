package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// SQLiteStore keeps records in a single SQLite table and scores them in
// process. Candidate rows are narrowed by owner, source and conversation
// in SQL, so a scan touches one owner's history only.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS records (
	source          TEXT NOT NULL,
	id              TEXT NOT NULL,
	owner_id        TEXT NOT NULL,
	conversation_id TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL,
	metadata        TEXT NOT NULL DEFAULT '{}',
	created_at      INTEGER NOT NULL,
	dims            INTEGER NOT NULL,
	embedding       BLOB NOT NULL,
	PRIMARY KEY (owner_id, source, id)
);

CREATE INDEX IF NOT EXISTS idx_records_owner
	ON records(owner_id, source, conversation_id);
`

// sqliteSchemaVersion 2 keys records by owner as well as (source, id).
const sqliteSchemaVersion = 2

// migrateV1 rebuilds a version 1 table, whose key omitted the owner.
const migrateV1 = `
ALTER TABLE records RENAME TO records_v1;
DROP INDEX IF EXISTS idx_records_owner;
` + "%s" + `
INSERT INTO records SELECT source, id, owner_id, conversation_id, content, metadata, created_at, dims, embedding FROM records_v1;
DROP TABLE records_v1;
`

// validateSQLiteIntegrity checks an existing database before opening it.
// Returns nil when the file is absent.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens (or creates) the store at path. An empty path or
// ":memory:" opens an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, rerrors.StorageError("failed to create store directory", err)
		}
		if err := validateSQLiteIntegrity(path); err != nil {
			return nil, rerrors.New(rerrors.ErrCodeStoreCorrupt, "history database is corrupted", err).
				WithDetail("path", path).
				WithSuggestion("move the file aside and re-run amanrecall ingest")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreUnavailable, "failed to open history database", err)
	}

	// Single writer to prevent lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, rerrors.New(rerrors.ErrCodeStoreUnavailable, "failed to set pragma", err)
		}
	}

	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, rerrors.New(rerrors.ErrCodeStoreUnavailable, "failed to initialize schema", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// initSQLiteSchema creates the schema, or migrates an older one in place.
func initSQLiteSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return err
	}
	var version int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	switch version {
	case 0, sqliteSchemaVersion:
		if _, err := tx.Exec(sqliteSchema); err != nil {
			return err
		}
	case 1:
		if _, err := tx.Exec(fmt.Sprintf(migrateV1, sqliteSchema)); err != nil {
			return fmt.Errorf("migrate schema v1: %w", err)
		}
		slog.Info("history_schema_migrated", slog.Int("from", 1), slog.Int("to", sqliteSchemaVersion))
	default:
		return fmt.Errorf("history schema version %d is newer than this binary supports (%d)", version, sqliteSchemaVersion)
	}
	if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, sqliteSchemaVersion); err != nil {
		return err
	}
	return tx.Commit()
}

// Search scores every candidate row against the query embedding.
func (s *SQLiteStore) Search(ctx context.Context, q Query) ([]Match, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, rerrors.StorageError("store is closed", nil)
	}

	var (
		where strings.Builder
		args  = []any{string(q.Source), q.OwnerID}
	)
	where.WriteString("source = ? AND owner_id = ?")
	if q.ConversationID != "" {
		where.WriteString(" AND conversation_id = ?")
		args = append(args, q.ConversationID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, conversation_id, content, metadata, created_at, dims, embedding
		 FROM records WHERE `+where.String(), args...)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreQuery, "history query failed", err)
	}
	defer func() { _ = rows.Close() }()

	matches := make([]Match, 0, q.Limit)
	for rows.Next() {
		var (
			r         Record
			metadata  string
			createdAt int64
			dims      int
			blob      []byte
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.ConversationID, &r.Content, &metadata, &createdAt, &dims, &blob); err != nil {
			return nil, rerrors.New(rerrors.ErrCodeStoreQuery, "failed to scan record", err)
		}
		if dims != len(q.Embedding) {
			return nil, rerrors.New(rerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("stored record %s has %d dimensions, query has %d", r.ID, dims, len(q.Embedding)), nil).
				WithSuggestion("re-ingest history with the current embedding model")
		}

		sim := cosineSimilarity(q.Embedding, decodeVector(blob))
		if sim < q.MinSimilarity {
			continue
		}

		r.Source = q.Source
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &r.Metadata); err != nil {
				slog.Warn("record_metadata_invalid", slog.String("id", r.ID), slog.String("error", err.Error()))
			}
		}
		matches = append(matches, Match{Record: r, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreQuery, "history query failed", err)
	}

	return sortAndLimit(matches, q.Limit), nil
}

// Upsert writes records in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, records []Record) error {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rerrors.StorageError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (source, id, owner_id, conversation_id, content, metadata, created_at, dims, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, source, id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			content = excluded.content,
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			dims = excluded.dims,
			embedding = excluded.embedding`)
	if err != nil {
		return rerrors.StorageError("failed to prepare upsert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		metadata := "{}"
		if len(r.Metadata) > 0 {
			b, err := json.Marshal(r.Metadata)
			if err != nil {
				return rerrors.StorageError("failed to marshal metadata for "+r.ID, err)
			}
			metadata = string(b)
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			string(r.Source), r.ID, r.OwnerID, r.ConversationID, r.Content, metadata,
			createdAt.UnixMilli(), len(r.Embedding), encodeVector(r.Embedding),
		); err != nil {
			return rerrors.StorageError("failed to upsert record "+r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return rerrors.StorageError("failed to commit records", err)
	}
	return nil
}

// Count returns per-source record counts for an owner.
func (s *SQLiteStore) Count(ctx context.Context, ownerID string) (map[Source]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, rerrors.StorageError("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM records WHERE owner_id = ? GROUP BY source`, ownerID)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreQuery, "count query failed", err)
	}
	defer func() { _ = rows.Close() }()

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

// Close closes the database. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
