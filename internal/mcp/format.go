package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/amanrecall/internal/search"
)

// ToSearchOutput converts a search result to the tool output schema.
func ToSearchOutput(res *search.Result) SearchOutput {
	out := SearchOutput{
		SearchID:      res.SearchID,
		Sufficient:    res.Sufficient,
		Iterations:    res.Iterations,
		Termination:   string(res.Termination),
		Reasoning:     res.Reasoning,
		SearchQueries: res.SearchQueries,
		TotalTokens:   res.TotalTokens,
		Context:       make([]ChunkOutput, 0, len(res.Context)),
		Rendered:      search.RenderContext(res.Context),
	}
	for _, c := range res.Context {
		out.Context = append(out.Context, ChunkOutput{
			ID:         c.ID,
			Source:     string(c.Source),
			Content:    c.Content,
			Similarity: c.Similarity,
			Metadata:   c.Metadata,
		})
	}
	return out
}

// FormatSearchResult renders a result as markdown.
func FormatSearchResult(res *search.Result) string {
	if len(res.Context) == 0 {
		msg := fmt.Sprintf("No history found for \"%s\"", res.Query)
		if res.Reasoning != "" {
			msg += "\n\n_" + res.Reasoning + "_"
		}
		return msg
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Recall for \"%s\"\n\n", res.Query)
	fmt.Fprintf(&sb, "%d chunk", len(res.Context))
	if len(res.Context) != 1 {
		sb.WriteString("s")
	}
	fmt.Fprintf(&sb, " after %d round", res.Iterations)
	if res.Iterations != 1 {
		sb.WriteString("s")
	}
	fmt.Fprintf(&sb, " (%s, ~%d tokens)\n\n", res.Termination, res.TotalTokens)

	for i, c := range res.Context {
		fmt.Fprintf(&sb, "### %d. %s `%s` (%.2f)\n\n", i+1, c.Source, c.ID, c.Similarity)
		sb.WriteString(c.Content)
		sb.WriteString("\n\n")
	}
	if res.Reasoning != "" {
		fmt.Fprintf(&sb, "_%s_\n", res.Reasoning)
	}
	return sb.String()
}
