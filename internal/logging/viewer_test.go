package logging

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{"time":"2026-03-01T10:00:00.000Z","level":"DEBUG","msg":"embed_query","search_id":"a1b2c3d4e5f6","query":"lunch"}
{"time":"2026-03-01T10:00:00.100Z","level":"INFO","msg":"recursive_search_round","search_id":"a1b2c3d4e5f6","round":1,"chunks":3}
{"time":"2026-03-01T10:00:00.200Z","level":"WARN","msg":"source_failed","search_id":"ffff0000aaaa","source":"journal","error":"timeout"}
not json at all
{"time":"2026-03-01T10:00:01.000Z","level":"ERROR","msg":"evaluator_failed","search_id":"a1b2c3d4e5f6","error":"connection refused"}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "amanrecall.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func msgs(entries []LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		if e.IsValid {
			out[i] = e.Msg
		} else {
			out[i] = e.Raw
		}
	}
	return out
}

// ============================================================================
// Tail and filters
// ============================================================================

func TestViewer_Tail(t *testing.T) {
	path := writeLog(t, sampleLog)

	tests := []struct {
		name string
		cfg  ViewerConfig
		n    int
		want []string
	}{
		{"all lines", ViewerConfig{}, 100, []string{"embed_query", "recursive_search_round", "source_failed", "not json at all", "evaluator_failed"}},
		{"last two", ViewerConfig{}, 2, []string{"not json at all", "evaluator_failed"}},
		{"level warn", ViewerConfig{Level: "warn"}, 100, []string{"source_failed", "evaluator_failed"}},
		{"search id prefix", ViewerConfig{SearchID: "a1b2"}, 100, []string{"embed_query", "recursive_search_round", "evaluator_failed"}},
		{"pattern", ViewerConfig{Pattern: regexp.MustCompile(`journal`)}, 100, []string{"source_failed"}},
		{"zero lines", ViewerConfig{}, 0, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := NewViewer(tt.cfg, nil).Tail(path, tt.n)

			require.NoError(t, err)
			assert.Equal(t, tt.want, msgs(entries))
		})
	}
}

func TestViewer_TailMissingFile(t *testing.T) {
	_, err := NewViewer(ViewerConfig{}, nil).Tail(filepath.Join(t.TempDir(), "none.log"), 10)

	assert.Error(t, err)
}

// ============================================================================
// Formatting
// ============================================================================

func TestViewer_FormatEntry(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, nil)
	entries, err := v.Tail(writeLog(t, sampleLog), 100)
	require.NoError(t, err)

	line := v.FormatEntry(entries[1])

	assert.True(t, strings.HasSuffix(line, "INFO  [a1b2c3d4] recursive_search_round chunks=3 round=1"), line)
	assert.Equal(t, "not json at all", v.FormatEntry(entries[3]))
}

func TestViewer_Print(t *testing.T) {
	var buf strings.Builder
	v := NewViewer(ViewerConfig{NoColor: true, Level: "error"}, &buf)
	entries, err := v.Tail(writeLog(t, sampleLog), 100)
	require.NoError(t, err)

	v.Print(entries)

	assert.Contains(t, buf.String(), "ERROR [a1b2c3d4] evaluator_failed error=connection refused\n")
}

// ============================================================================
// Follow
// ============================================================================

func TestViewer_FollowSeesAppendedLines(t *testing.T) {
	// Given: a log with history that Follow should skip
	path := writeLog(t, sampleLog)
	v := NewViewer(ViewerConfig{Level: "info"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries := make(chan LogEntry, 4)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, entries) }()

	// When: new lines are appended after following starts
	time.Sleep(3 * followInterval)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(`{"time":"2026-03-01T10:01:00Z","level":"DEBUG","msg":"hidden"}` + "\n" +
		`{"time":"2026-03-01T10:01:01Z","level":"INFO","msg":"mcp_call_complete"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Then: only the new line above the level threshold arrives
	select {
	case e := <-entries:
		assert.Equal(t, "mcp_call_complete", e.Msg)
	case <-ctx.Done():
		t.Fatal("no entry received")
	}
	cancel()
	assert.NoError(t, <-done)
}
