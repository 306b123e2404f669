package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/search"
	"github.com/Aman-CERP/amanrecall/internal/store"
)

// MockRecaller implements Recaller for testing.
type MockRecaller struct {
	SearchFn func(ctx context.Context, query, ownerID, conversationID string, sc *search.Config) (*search.Result, error)
	StatsFn  func(ctx context.Context, ownerID string) (map[store.Source]int, error)

	lastConfig *search.Config
}

func (m *MockRecaller) SearchRecursively(ctx context.Context, query, ownerID, conversationID string, sc *search.Config) (*search.Result, error) {
	m.lastConfig = sc
	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, ownerID, conversationID, sc)
	}
	return &search.Result{Query: query}, nil
}

func (m *MockRecaller) Stats(ctx context.Context, ownerID string) (map[store.Source]int, error) {
	if m.StatsFn != nil {
		return m.StatsFn(ctx, ownerID)
	}
	return map[store.Source]int{}, nil
}

func (m *MockRecaller) Defaults() search.Config { return search.DefaultConfig() }

var _ Recaller = (*MockRecaller)(nil)

func pizzaResult(query string) *search.Result {
	return &search.Result{
		SearchID:   "s-1",
		Query:      query,
		Iterations: 2,
		Sufficient: true,
		Context: []search.ContextChunk{
			{ID: "turn:t1", Source: search.SourceTurn, Content: "We could open a pizza shop", Similarity: 0.81},
			{ID: "entry:e2", Source: search.SourceEntry, Content: "Budget: 40k", Similarity: 0.71},
		},
		SearchQueries: [][]string{{query}, {"pizza shop budget"}},
		TotalTokens:   10,
		Reasoning:     "covered",
		Termination:   search.TerminationSufficient,
	}
}

func newTestServer(t *testing.T, m *MockRecaller) *Server {
	t.Helper()
	s, err := NewServer(m, nil)
	require.NoError(t, err)
	return s
}

// ============================================================================
// Construction
// ============================================================================

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestServer_ListTools(t *testing.T) {
	s := newTestServer(t, &MockRecaller{})
	names := []string{}
	for _, ti := range s.ListTools() {
		names = append(names, ti.Name)
		assert.NotEmpty(t, ti.Description)
	}
	assert.Equal(t, []string{"recall_search", "recall_trigger", "recall_stats"}, names)
	assert.NotNil(t, s.MCPServer())
}

// ============================================================================
// recall_search
// ============================================================================

func TestServer_RecallSearch(t *testing.T) {
	m := &MockRecaller{SearchFn: func(_ context.Context, query, ownerID, conversationID string, _ *search.Config) (*search.Result, error) {
		assert.Equal(t, "alice", ownerID)
		assert.Equal(t, "c1", conversationID)
		return pizzaResult(query), nil
	}}
	s := newTestServer(t, m)

	got, err := s.CallTool(context.Background(), "recall_search", map[string]any{
		"query": "what did we discuss about the pizza shop", "owner_id": "alice",
		"conversation_id": "c1", "scope": "conversation", "max_depth": 99.0, "max_chunks": 5.0,
	})
	require.NoError(t, err)

	out, ok := got.(SearchOutput)
	require.True(t, ok)
	assert.Equal(t, "s-1", out.SearchID)
	assert.True(t, out.Sufficient)
	assert.Equal(t, "sufficient", out.Termination)
	require.Len(t, out.Context, 2)
	assert.Equal(t, "turn", out.Context[0].Source)
	assert.Contains(t, out.Rendered, "## Past conversation")

	require.NotNil(t, m.lastConfig)
	assert.Equal(t, search.ScopeConversation, m.lastConfig.Scope)
	assert.Equal(t, maxToolDepth, m.lastConfig.MaxDepth)
	assert.Equal(t, 5, m.lastConfig.MaxChunks)
}

func TestServer_RecallSearch_SDKHandler(t *testing.T) {
	s := newTestServer(t, &MockRecaller{SearchFn: func(_ context.Context, query, _, _ string, _ *search.Config) (*search.Result, error) {
		return pizzaResult(query), nil
	}})

	res, out, err := s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: "pizza", OwnerID: "alice"})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, `## Recall for "pizza"`)
	assert.Len(t, out.Context, 2)
}

func TestServer_RecallSearch_InvalidParams(t *testing.T) {
	s := newTestServer(t, &MockRecaller{})

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing query", map[string]any{"owner_id": "alice"}},
		{"blank query", map[string]any{"query": "  ", "owner_id": "alice"}},
		{"missing owner", map[string]any{"query": "pizza"}},
		{"bad scope", map[string]any{"query": "pizza", "owner_id": "alice", "scope": "galaxy"}},
		{"wrong type", map[string]any{"query": 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CallTool(context.Background(), "recall_search", tt.args)
			require.Error(t, err)
			mcpErr, ok := err.(*MCPError)
			require.True(t, ok, "got %T", err)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
		})
	}
}

func TestServer_RecallSearch_EngineError(t *testing.T) {
	s := newTestServer(t, &MockRecaller{SearchFn: func(context.Context, string, string, string, *search.Config) (*search.Result, error) {
		return nil, rerrors.New(rerrors.ErrCodeMissingConversation, "conversation scope needs a conversation id", nil)
	}})

	_, err := s.CallTool(context.Background(), "recall_search", map[string]any{"query": "pizza", "owner_id": "alice"})
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidParams, err.(*MCPError).Code)
}

// ============================================================================
// recall_trigger / recall_stats
// ============================================================================

func TestServer_RecallTrigger(t *testing.T) {
	s := newTestServer(t, &MockRecaller{})

	got, err := s.CallTool(context.Background(), "recall_trigger", map[string]any{"message": "what did we discuss last week?"})
	require.NoError(t, err)
	out := got.(TriggerOutput)
	assert.True(t, out.Triggered)
	assert.Equal(t, "historical", out.Kind)

	got, err = s.CallTool(context.Background(), "recall_trigger", map[string]any{"message": "write me a poem"})
	require.NoError(t, err)
	assert.False(t, got.(TriggerOutput).Triggered)

	_, err = s.CallTool(context.Background(), "recall_trigger", map[string]any{})
	assert.Error(t, err)
}

func TestServer_RecallStats(t *testing.T) {
	s := newTestServer(t, &MockRecaller{StatsFn: func(_ context.Context, ownerID string) (map[store.Source]int, error) {
		return map[store.Source]int{store.SourceTurn: 3, store.SourceFact: 1}, nil
	}})

	got, err := s.CallTool(context.Background(), "recall_stats", map[string]any{"owner_id": "alice"})
	require.NoError(t, err)
	out := got.(StatsOutput)
	assert.Equal(t, 4, out.Total)
	assert.Equal(t, 0, out.Records["summary"])
	assert.Len(t, out.Records, 4)
}

func TestServer_UnknownTool(t *testing.T) {
	s := newTestServer(t, &MockRecaller{})
	_, err := s.CallTool(context.Background(), "search_code", nil)
	require.Error(t, err)
	assert.Equal(t, ErrCodeMethodNotFound, err.(*MCPError).Code)
}

func TestServer_UnknownTransport(t *testing.T) {
	s := newTestServer(t, &MockRecaller{})
	err := s.Serve(context.Background(), "carrier-pigeon")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown transport"))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 1, clampLimit(-3, 1, 5))
	assert.Equal(t, 3, clampLimit(3, 1, 5))
	assert.Equal(t, 5, clampLimit(9, 1, 5))
}
