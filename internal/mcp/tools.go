package mcp

// SearchInput is the input schema of recall_search.
type SearchInput struct {
	Query          string `json:"query" jsonschema:"natural-language question about the user's history"`
	OwnerID        string `json:"owner_id" jsonschema:"the user whose history is searched"`
	ConversationID string `json:"conversation_id,omitempty" jsonschema:"current conversation id, required when scope is conversation"`
	Scope          string `json:"scope,omitempty" jsonschema:"conversation, user or all; default from server config"`
	MaxDepth       int    `json:"max_depth,omitempty" jsonschema:"maximum search rounds, 1-5"`
	MaxChunks      int    `json:"max_chunks,omitempty" jsonschema:"maximum chunks returned, 1-50"`
}

// SearchOutput is the output schema of recall_search.
type SearchOutput struct {
	SearchID      string        `json:"search_id"`
	Sufficient    bool          `json:"sufficient" jsonschema:"true when the evaluator judged the context enough to answer"`
	Iterations    int           `json:"iterations"`
	Termination   string        `json:"termination" jsonschema:"why the search stopped"`
	Reasoning     string        `json:"reasoning,omitempty"`
	SearchQueries [][]string    `json:"search_queries" jsonschema:"queries run in each round"`
	TotalTokens   int           `json:"total_tokens"`
	Context       []ChunkOutput `json:"context"`
	Rendered      string        `json:"rendered" jsonschema:"context grouped by source, ready to paste into a prompt"`
}

// ChunkOutput is one retrieved chunk.
type ChunkOutput struct {
	ID         string            `json:"id"`
	Source     string            `json:"source" jsonschema:"turn, fact, entry or summary"`
	Content    string            `json:"content"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// TriggerInput is the input schema of recall_trigger.
type TriggerInput struct {
	Message string `json:"message" jsonschema:"the user message to classify"`
}

// TriggerOutput is the output schema of recall_trigger.
type TriggerOutput struct {
	Triggered bool   `json:"triggered" jsonschema:"true when the message refers to past context"`
	Kind      string `json:"kind,omitempty" jsonschema:"historical, time or recall"`
	Phrase    string `json:"phrase,omitempty" jsonschema:"the phrase that fired the trigger"`
}

// StatsInput is the input schema of recall_stats.
type StatsInput struct {
	OwnerID string `json:"owner_id" jsonschema:"the user whose records are counted"`
}

// StatsOutput is the output schema of recall_stats.
type StatsOutput struct {
	OwnerID string         `json:"owner_id"`
	Records map[string]int `json:"records" jsonschema:"record count per source"`
	Total   int            `json:"total"`
}

// Limits applied to tool inputs.
const (
	maxToolDepth  = 5
	maxToolChunks = 50
)
