package search

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/amanrecall/internal/store"
)

// RenderContext formats a ranked bundle as a prompt block grouped by source.
// Sources appear in store.AllSources order; within a source, chunks keep their
// rank order. An empty bundle renders as "".
func RenderContext(chunks []ContextChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	bySource := make(map[Source][]ContextChunk)
	for _, c := range chunks {
		bySource[c.Source] = append(bySource[c.Source], c)
	}

	var sb strings.Builder
	for _, src := range store.AllSources {
		group := bySource[src]
		if len(group) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "## %s\n", sourceHeading(src))
		for _, c := range group {
			sb.WriteString("- ")
			if ts := c.Metadata["created_at"]; ts != "" {
				sb.WriteString("(" + ts + ") ")
			}
			sb.WriteString(oneLine(c.Content))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func sourceHeading(src Source) string {
	switch src {
	case SourceTurn:
		return "Past conversation"
	case SourceFact:
		return "Known facts"
	case SourceEntry:
		return "Journal entries"
	case SourceSummary:
		return "Conversation summaries"
	default:
		return string(src)
	}
}
