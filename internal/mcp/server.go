package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanrecall/internal/search"
	"github.com/Aman-CERP/amanrecall/internal/store"
	"github.com/Aman-CERP/amanrecall/pkg/version"
)

const serverName = "amanrecall"

// Recaller is the engine surface the server exposes.
type Recaller interface {
	SearchRecursively(ctx context.Context, query, ownerID, conversationID string, sc *search.Config) (*search.Result, error)
	Stats(ctx context.Context, ownerID string) (map[store.Source]int, error)
	Defaults() search.Config
}

// Server bridges MCP clients with the recursive search engine.
type Server struct {
	mcp    *mcp.Server
	engine Recaller
	logger *slog.Logger
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name: "recall_search",
		Description: "Search the user's past conversations, facts, journal entries and summaries. " +
			"Runs several rounds, asking follow-up queries until the context is judged sufficient. " +
			"Use when the user refers to something discussed or recorded earlier.",
	},
	{
		Name: "recall_trigger",
		Description: "Cheap check of whether a user message refers to past context " +
			"(\"what did we discuss\", \"last week\", \"look up\"). Call before recall_search to skip it for ordinary messages.",
	},
	{
		Name:        "recall_stats",
		Description: "Count the stored history records of a user, per source.",
	},
}

// NewServer creates a server over engine.
func NewServer(engine Recaller, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("recall engine is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{engine: engine, logger: logger}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version.Version}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpTriggerHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, s.mcpStatsHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// CallTool invokes a tool by name with JSON-shaped arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "recall_search":
		var in SearchInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		res, err := s.handleSearch(ctx, in)
		if err != nil {
			return nil, err
		}
		return ToSearchOutput(res), nil
	case "recall_trigger":
		var in TriggerInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.handleTrigger(in)
	case "recall_stats":
		var in StatsInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.handleStats(ctx, in)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, dst any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return NewInvalidParamsError(err.Error())
	}
	return nil
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	res, err := s.handleSearch(ctx, in)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	text := &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: FormatSearchResult(res)}}}
	return text, ToSearchOutput(res), nil
}

func (s *Server) mcpTriggerHandler(_ context.Context, _ *mcp.CallToolRequest, in TriggerInput) (*mcp.CallToolResult, TriggerOutput, error) {
	out, err := s.handleTrigger(in)
	if err != nil {
		return nil, TriggerOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) mcpStatsHandler(ctx context.Context, _ *mcp.CallToolRequest, in StatsInput) (*mcp.CallToolResult, StatsOutput, error) {
	out, err := s.handleStats(ctx, in)
	if err != nil {
		return nil, StatsOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) handleSearch(ctx context.Context, in SearchInput) (*search.Result, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, NewInvalidParamsError("query parameter is required")
	}
	if strings.TrimSpace(in.OwnerID) == "" {
		return nil, NewInvalidParamsError("owner_id parameter is required")
	}

	cfg := s.engine.Defaults()
	if in.Scope != "" {
		scope, err := search.ParseScope(in.Scope)
		if err != nil {
			return nil, MapError(err)
		}
		cfg.Scope = scope
	}
	if in.MaxDepth > 0 {
		cfg.MaxDepth = clampLimit(in.MaxDepth, 1, maxToolDepth)
	}
	if in.MaxChunks > 0 {
		cfg.MaxChunks = clampLimit(in.MaxChunks, 1, maxToolChunks)
	}

	requestID := generateRequestID()
	start := time.Now()
	res, err := s.engine.SearchRecursively(ctx, in.Query, in.OwnerID, in.ConversationID, &cfg)
	if err != nil {
		s.logger.Warn("mcp_recall_search_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("mcp_recall_search",
		slog.String("request_id", requestID),
		slog.String("search_id", res.SearchID),
		slog.Int("chunks", len(res.Context)),
		slog.Duration("duration", time.Since(start)))
	return res, nil
}

func (s *Server) handleTrigger(in TriggerInput) (TriggerOutput, error) {
	if strings.TrimSpace(in.Message) == "" {
		return TriggerOutput{}, NewInvalidParamsError("message parameter is required")
	}
	m := search.Trigger(in.Message)
	return TriggerOutput{Triggered: m.Triggered, Kind: string(m.Kind), Phrase: m.Phrase}, nil
}

func (s *Server) handleStats(ctx context.Context, in StatsInput) (StatsOutput, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return StatsOutput{}, NewInvalidParamsError("owner_id parameter is required")
	}
	counts, err := s.engine.Stats(ctx, in.OwnerID)
	if err != nil {
		return StatsOutput{}, MapError(err)
	}
	out := StatsOutput{OwnerID: in.OwnerID, Records: make(map[string]int, len(store.AllSources))}
	for _, src := range store.AllSources {
		out.Records[string(src)] = counts[src]
		out.Total += counts[src]
	}
	return out, nil
}

// Serve runs the server on the given transport until ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio", "":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

func clampLimit(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// generateRequestID creates a short id for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
