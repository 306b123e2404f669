package ingest

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/store"
)

// maxLineBytes bounds one JSONL record.
const maxLineBytes = 4 << 20

// Line is one JSONL history record.
type Line struct {
	Source         string            `json:"source"`
	ID             string            `json:"id,omitempty"`
	OwnerID        string            `json:"owner_id"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Content        string            `json:"content"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      *time.Time        `json:"created_at,omitempty"`
}

// Reader decodes JSONL history records one at a time.
type Reader struct {
	scanner *bufio.Scanner
	line    int
	now     func() time.Time
}

// NewReader creates a reader over r.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{scanner: s, now: time.Now}
}

// Next returns the next record. It returns io.EOF at end of input. A
// malformed line yields a validation error carrying the line number; the
// caller may skip it and keep reading.
func (r *Reader) Next() (store.Record, error) {
	for r.scanner.Scan() {
		r.line++
		text := strings.TrimSpace(r.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var l Line
		if err := json.Unmarshal([]byte(text), &l); err != nil {
			return store.Record{}, r.invalid("malformed json", err)
		}
		rec, err := l.toRecord(r.now)
		if err != nil {
			return store.Record{}, r.invalid(err.Error(), nil)
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return store.Record{}, rerrors.New(rerrors.ErrCodeIngestFailed, "failed to read input", err)
	}
	return store.Record{}, io.EOF
}

func (r *Reader) invalid(msg string, cause error) error {
	return rerrors.ValidationError(fmt.Sprintf("line %d: %s", r.line, msg), cause).
		WithDetail("line", fmt.Sprint(r.line))
}

func (l Line) toRecord(now func() time.Time) (store.Record, error) {
	src, err := store.ParseSource(l.Source)
	if err != nil {
		return store.Record{}, fmt.Errorf("unknown source %q", l.Source)
	}
	if strings.TrimSpace(l.OwnerID) == "" {
		return store.Record{}, fmt.Errorf("owner_id is required")
	}
	if strings.TrimSpace(l.Content) == "" {
		return store.Record{}, fmt.Errorf("content is empty")
	}
	if src.ConversationScoped() && strings.TrimSpace(l.ConversationID) == "" {
		return store.Record{}, fmt.Errorf("%s records need a conversation_id", src)
	}

	rec := store.Record{
		ID:             l.ID,
		Source:         src,
		OwnerID:        l.OwnerID,
		ConversationID: l.ConversationID,
		Content:        l.Content,
		Metadata:       l.Metadata,
	}
	if rec.ID == "" {
		rec.ID = contentID(l.OwnerID, l.ConversationID, l.Content)
	}
	if l.CreatedAt != nil {
		rec.CreatedAt = l.CreatedAt.UTC()
	} else {
		rec.CreatedAt = now().UTC()
	}
	return rec, nil
}

// contentID derives a stable id so re-ingesting the same line replaces
// rather than duplicates it.
func contentID(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
