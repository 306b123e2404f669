package search

import (
	"sort"
)

// charsPerToken is the coarse estimate used for the token budget.
const charsPerToken = 4

// RankAndLimit returns chunks sorted by similarity descending, keeping at
// most maxChunks. The sort is stable and the input is not modified.
func RankAndLimit(chunks []ContextChunk, maxChunks int) []ContextChunk {
	ranked := make([]ContextChunk, len(chunks))
	copy(ranked, chunks)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Similarity > ranked[j].Similarity
	})
	if maxChunks >= 0 && len(ranked) > maxChunks {
		ranked = ranked[:maxChunks]
	}
	return ranked
}

// EstimateTokens returns ceil(total content bytes / 4).
func EstimateTokens(chunks []ContextChunk) int {
	total := 0
	for _, c := range chunks {
		total += len(c.Content)
	}
	return (total + charsPerToken - 1) / charsPerToken
}

// rankCollected ranks the accumulated set. Map iteration order is random,
// so chunks are first put in id order to keep tie order deterministic.
func rankCollected(collected map[string]ContextChunk, maxChunks int) []ContextChunk {
	chunks := make([]ContextChunk, 0, len(collected))
	for _, c := range collected {
		chunks = append(chunks, c)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ID < chunks[j].ID })
	return RankAndLimit(chunks, maxChunks)
}
