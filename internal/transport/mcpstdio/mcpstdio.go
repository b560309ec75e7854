// Package mcpstdio exposes the facade's three operations as MCP tools over
// a stdio JSON-RPC transport, for editor/agent clients that speak MCP
// rather than HTTP.
package mcpstdio

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vector-index-mcp/vector-index-mcp/internal/facade"
	"github.com/vector-index-mcp/vector-index-mcp/pkg/version"
)

// Server adapts a facade.Facade to the MCP stdio transport.
type Server struct {
	mcp    *mcp.Server
	facade *facade.Facade
	logger *slog.Logger
}

// TriggerIndexInput is the trigger_index tool's input schema.
type TriggerIndexInput struct {
	ForceReindex bool `json:"force_reindex,omitempty" jsonschema:"bypass the content-hash shortcut and re-embed every eligible file"`
}

// TriggerIndexOutput is the trigger_index tool's output schema.
type TriggerIndexOutput struct {
	Accepted bool   `json:"accepted" jsonschema:"true if a scan was started"`
	Reason   string `json:"reason,omitempty" jsonschema:"why the request was refused, when accepted is false"`
}

// SearchInput is the search tool's input schema.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the natural-language or code search query"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"number of results to return, 1-100, default 10"`
}

// SearchResultOutput is one matched chunk, the chunk record minus its vector.
type SearchResultOutput struct {
	FilePath   string  `json:"file_path"`
	ChunkIndex uint32  `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

// SearchOutput is the search tool's output schema.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results"`
}

// GetStatusInput is the get_status tool's input schema. It takes no
// arguments.
type GetStatusInput struct{}

// StatusOutput is the get_status tool's output schema.
type StatusOutput struct {
	State             string `json:"state"`
	IndexedChunkCount int    `json:"indexed_chunk_count"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

// NewServer builds the MCP server and registers its three tools.
func NewServer(f *facade.Facade) *Server {
	s := &Server{
		facade: f,
		logger: slog.Default(),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "vector-index-mcp",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP stdio server")
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "trigger_index",
		Description: "Start (or restart) a full reconciliation scan of the project's semantic index. Returns immediately; the scan runs in the background.",
	}, s.handleTriggerIndex)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Semantic search over the project's indexed files. Returns the most relevant chunks for a natural-language or code query.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_status",
		Description: "Report the current state of the semantic index: initializing, idle_initial_scan_required, scanning, watching, or error, plus the indexed chunk count.",
	}, s.handleGetStatus)

	s.logger.Debug("MCP tools registered", slog.Int("count", 3))
}

func (s *Server) handleTriggerIndex(ctx context.Context, _ *mcp.CallToolRequest, input TriggerIndexInput) (
	*mcp.CallToolResult, TriggerIndexOutput, error,
) {
	result := s.facade.TriggerIndex(input.ForceReindex)
	return nil, TriggerIndexOutput{Accepted: result.Accepted, Reason: result.Reason}, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult, SearchOutput, error,
) {
	results, err := s.facade.Search(ctx, input.Query, input.TopK)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, SearchResultOutput{
			FilePath:   r.FilePath,
			ChunkIndex: r.ChunkIndex,
			Text:       r.ExtractedTextChunk,
			Score:      r.Score,
		})
	}
	return nil, out, nil
}

func (s *Server) handleGetStatus(ctx context.Context, _ *mcp.CallToolRequest, _ GetStatusInput) (
	*mcp.CallToolResult, StatusOutput, error,
) {
	record := s.facade.GetStatus()
	return nil, StatusOutput{
		State:             string(record.State),
		IndexedChunkCount: record.IndexedChunkCount,
		ErrorMessage:      record.ErrorMessage,
	}, nil
}
