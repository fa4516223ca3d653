package mcpserver

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/arenfeld/codex/internal/library"
	"github.com/arenfeld/codex/internal/models"
	"github.com/arenfeld/codex/internal/testutil"
)

func testServer(t *testing.T) (*Server, *library.Store) {
	t.Helper()

	store := testutil.TestStore(t)
	return New(store), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go doesn't expose a direct "call tool" test helper, so the handler
	// functions are invoked directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "search_items":
		result, err = srv.searchItems(ctx, req)
	case "get_item_info":
		result, err = srv.getItemInfo(ctx, req)
	case "list_items":
		result, err = srv.listItems(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestSearchItems(t *testing.T) {
	srv, store := testServer(t)
	_, err := store.Add([]byte("payload"), models.ItemMetadata{
		Title: "Deep Learning", Author: "Ian Goodfellow", Tags: []string{"AI"},
	})
	if err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "search_items", map[string]interface{}{"title": "deep"})
	text := resultText(r)
	if !strings.Contains(text, "Deep Learning") {
		t.Errorf("search result = %q", text)
	}

	r = callTool(t, srv, "search_items", map[string]interface{}{"title": "haskell"})
	if strings.Contains(resultText(r), "Deep Learning") {
		t.Error("unmatched filter returned items")
	}
}

func TestGetItemInfo(t *testing.T) {
	srv, store := testServer(t)
	added, _ := store.Add([]byte("payload"), models.ItemMetadata{Title: "Deep Learning"})

	r := callTool(t, srv, "get_item_info", map[string]interface{}{"id": added.ID})
	if r.IsError {
		t.Fatalf("unexpected error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), added.ID) {
		t.Errorf("result missing id: %q", resultText(r))
	}
}

func TestGetItemInfoMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_item_info", map[string]interface{}{"id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing item")
	}
}

func TestListItems(t *testing.T) {
	srv, store := testServer(t)
	_, _ = store.Add([]byte("a"), models.ItemMetadata{Title: "A"})
	_, _ = store.Add([]byte("b"), models.ItemMetadata{Title: "B"})

	r := callTool(t, srv, "list_items", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, `"A"`) || !strings.Contains(text, `"B"`) {
		t.Errorf("list result = %q", text)
	}
}
