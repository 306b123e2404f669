//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPGVector starts a Postgres container with the vector extension
// enabled and returns its DSN.
func startPGVector(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "recall",
				"POSTGRES_PASSWORD": "recall",
				"POSTGRES_DB":       "recall",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithDeadline(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://recall:recall@%s:%s/recall?sslmode=disable", host, port.Port())

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	_, err = pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	require.NoError(t, err)

	return dsn
}

func TestPGVectorStore_Contract(t *testing.T) {
	dsn := startPGVector(t)
	ctx := context.Background()

	s, err := NewPGVectorStore(ctx, PGVectorConfig{DSN: dsn, Dimensions: 4})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Upsert(ctx, fixture()))

	t.Run("ranked and owner scoped", func(t *testing.T) {
		matches, err := s.Search(ctx, Query{Source: SourceTurn, Embedding: vec(1, 0, 0, 0), OwnerID: "alice", Limit: 10})
		require.NoError(t, err)
		require.Len(t, matches, 3)
		assert.Equal(t, "t1", matches[0].Record.ID)
		assert.InDelta(t, 1.0, matches[0].Similarity, 1e-5)
		for _, m := range matches {
			assert.Equal(t, "alice", m.Record.OwnerID)
		}
	})

	t.Run("conversation filter", func(t *testing.T) {
		matches, err := s.Search(ctx, Query{Source: SourceTurn, Embedding: vec(1, 0, 0, 0), OwnerID: "alice", ConversationID: "c2", Limit: 10})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "t2", matches[0].Record.ID)
	})

	t.Run("min similarity", func(t *testing.T) {
		matches, err := s.Search(ctx, Query{Source: SourceTurn, Embedding: vec(1, 0, 0, 0), OwnerID: "alice", MinSimilarity: 0.5, Limit: 10})
		require.NoError(t, err)
		assert.Len(t, matches, 2)
	})

	t.Run("metadata and counts", func(t *testing.T) {
		matches, err := s.Search(ctx, Query{Source: SourceFact, Embedding: vec(1, 0, 0, 0), OwnerID: "alice", Limit: 10})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "preference", matches[0].Record.Metadata["kind"])

		counts, err := s.Count(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 3, counts[SourceTurn])
	})

	t.Run("same id under two owners", func(t *testing.T) {
		require.NoError(t, s.Upsert(ctx, []Record{{ID: "t1", Source: SourceTurn, OwnerID: "carol", Content: "carol's turn", Embedding: vec(1, 0, 0, 0)}}))

		alice, err := s.Search(ctx, Query{Source: SourceTurn, Embedding: vec(1, 0, 0, 0), OwnerID: "alice", Limit: 10})
		require.NoError(t, err)
		assert.Len(t, alice, 3)
		carol, err := s.Search(ctx, Query{Source: SourceTurn, Embedding: vec(1, 0, 0, 0), OwnerID: "carol", Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{"carol's turn"}, contents(carol))
	})
}
