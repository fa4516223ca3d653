// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes read-only Codex tools for LLM integration via stdio transport.
// Plaintext payloads are never exposed through MCP; only decrypted metadata.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/arenfeld/codex/internal/library"
	"github.com/arenfeld/codex/internal/models"
)

// Server wraps the MCP server with Codex tools over one open store.
type Server struct {
	mcp   *server.MCPServer
	store *library.Store
}

// New creates a new MCP server with all Codex tools registered.
func New(store *library.Store) *Server {
	s := &Server{store: store}

	s.mcp = server.NewMCPServer(
		"Codex",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_items",
		mcp.WithDescription("Search the library metadata by title, author, or tag. "+
			"All filters are optional; combined filters must all match."),
		mcp.WithString("title", mcp.Description("Case-insensitive title substring")),
		mcp.WithString("author", mcp.Description("Case-insensitive author substring")),
		mcp.WithString("tag", mcp.Description("Exact tag (case-insensitive)")),
	), s.searchItems)

	s.mcp.AddTool(mcp.NewTool("get_item_info",
		mcp.WithDescription("Return the metadata record of one library item."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Item identifier")),
	), s.getItemInfo)

	s.mcp.AddTool(mcp.NewTool("list_items",
		mcp.WithDescription("List the metadata of every item in the library."),
	), s.listItems)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) searchItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := models.Filter{
		Title:  req.GetString("title", ""),
		Author: req.GetString("author", ""),
		Tag:    req.GetString("tag", ""),
	}
	hits, err := s.store.Search(filter)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(hits, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getItemInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.store.Search(models.Filter{})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	for _, m := range hits {
		if m.ID == id {
			out, _ := json.MarshalIndent(m, "", "  ")
			return mcp.NewToolResultText(string(out)), nil
		}
	}
	return mcp.NewToolResultError("not found: " + id), nil
}

func (s *Server) listItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hits, err := s.store.Search(models.Filter{})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(hits, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
