// Package mcptools exposes the line index as Model Context Protocol tools
// served over streamable HTTP.
package mcptools

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/searcher/handler"
)

const serverName = "linesearch"

type SearchInput struct {
	Query string `json:"query" jsonschema:"words that must all appear on a line; case and punctuation are ignored"`
}

type SearchOutput struct {
	Lines []int `json:"lines" jsonschema:"zero-based numbers of the matching lines in ascending order"`
}

type FetchInput struct {
	Line int `json:"line" jsonschema:"zero-based line number as returned by search"`
}

type FetchOutput struct {
	Line int    `json:"line" jsonschema:"the requested line number"`
	Text string `json:"text" jsonschema:"exact content of the line"`
}

// Server wraps an MCP server whose tools read from engine.
type Server struct {
	engine handler.Engine
	mcp    *mcp.Server
	logger *slog.Logger
}

func New(engine handler.Engine, version string) *Server {
	s := &Server{
		engine: engine,
		mcp:    mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil),
		logger: slog.Default().With("component", "mcp"),
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Find the lines of the corpus that contain every word of the query.",
	}, s.search)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "fetch",
		Description: "Return the exact text of one corpus line.",
	}, s.fetch)
	s.logger.Debug("mcp tools registered", "count", 2)
	return s
}

// MCPServer returns the underlying server, for in-process transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Handler serves the tools over the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)
}

func (s *Server) search(_ context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	lines := s.engine.Search(in.Query)
	if lines == nil {
		lines = []int{}
	}
	s.logger.Debug("mcp search", "query", in.Query, "hits", len(lines))
	return nil, SearchOutput{Lines: lines}, nil
}

func (s *Server) fetch(_ context.Context, _ *mcp.CallToolRequest, in FetchInput) (*mcp.CallToolResult, FetchOutput, error) {
	text, ok := s.engine.Fetch(in.Line)
	if !ok {
		return nil, FetchOutput{}, fmt.Errorf("line %d is out of bounds", in.Line)
	}
	return nil, FetchOutput{Line: in.Line, Text: text}, nil
}
