// Package logging configures structured slog output for amanrecall.
//
// Logs are JSON lines written to a size-rotated file under ~/.amanrecall/logs/
// and, outside of MCP stdio mode, teed to stderr. Every recursive search logs
// under a search_id attribute so one request can be followed across rounds.
package logging
