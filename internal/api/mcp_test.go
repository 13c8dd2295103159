package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ovalle/braindump/internal/engine"
	"github.com/ovalle/braindump/internal/storage"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestMCPTool_CaptureNote(t *testing.T) {
	fe := &fakeEngine{captureResult: engine.CaptureResult{
		CaptureID: "c1",
		State:     engine.StateStaged,
		EntryID:   "e1",
		Staged:    []engine.StagedTopic{{EntryID: "e1", BookName: "Project X"}},
	}}
	handler := mcpCaptureNote(MCPDeps{Engine: fe})

	req := makeCallToolRequest("capture_note", map[string]interface{}{
		"text": "meeting with Ana about Project X",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var res engine.CaptureResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("failed to parse result: %v", err)
	}
	if res.State != engine.StateStaged {
		t.Errorf("state = %s, want staged", res.State)
	}
}

func TestMCPTool_CaptureNote_MissingText(t *testing.T) {
	handler := mcpCaptureNote(MCPDeps{Engine: &fakeEngine{}})

	result, err := handler(context.Background(), makeCallToolRequest("capture_note", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing text")
	}
}

func TestMCPTool_ListStaged_Empty(t *testing.T) {
	handler := mcpListStaged(MCPDeps{Engine: &fakeEngine{}})

	result, err := handler(context.Background(), makeCallToolRequest("list_staged", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != "[]" {
		t.Errorf("text = %s, want []", got)
	}
}

func TestMCPTool_ConfirmStaged(t *testing.T) {
	fe := &fakeEngine{confirmed: []engine.TopicResult{{EntryID: "e1", BookID: "b1"}}}
	handler := mcpConfirmStaged(MCPDeps{Engine: fe})

	req := makeCallToolRequest("confirm_staged", map[string]interface{}{
		"entryIds": []string{"e1"},
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if len(fe.confirmedIDs) != 1 || fe.confirmedIDs[0] != "e1" {
		t.Errorf("confirmed ids = %v", fe.confirmedIDs)
	}
}

func TestMCPTool_DiscardStaged_NotFound(t *testing.T) {
	fe := &fakeEngine{discardErr: engine.ErrNotStaged}
	handler := mcpDiscardStaged(MCPDeps{Engine: fe})

	req := makeCallToolRequest("discard_staged", map[string]interface{}{
		"entryId": "ghost",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown staged topic")
	}
}

func TestMCPTool_SearchEntries(t *testing.T) {
	fe := &fakeEngine{entries: []storage.Entry{{ID: "e1", Summary: "BI model ready"}}}
	handler := mcpSearchEntries(MCPDeps{Engine: fe})

	req := makeCallToolRequest("search_entries", map[string]interface{}{
		"query": "BI model",
		"limit": 5,
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(toolText(t, result)), &entries); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
	if fe.searchFilters.Limit != 5 {
		t.Errorf("limit = %d, want 5", fe.searchFilters.Limit)
	}
}

func TestMCPResource_Staged(t *testing.T) {
	fe := &fakeEngine{staged: []engine.StagedTopic{{EntryID: "e1", BookName: "Project X"}}}
	handler := mcpResourceStaged(MCPDeps{Engine: fe})

	contents, err := handler(context.Background(), makeReadResourceRequest("braindump://staged"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var staged []engine.StagedTopic
	if err := json.Unmarshal([]byte(text.Text), &staged); err != nil {
		t.Fatalf("failed to parse resource: %v", err)
	}
	if len(staged) != 1 || staged[0].BookName != "Project X" {
		t.Errorf("staged = %+v", staged)
	}
}

func TestMCPResource_Books(t *testing.T) {
	fe := &fakeEngine{books: []storage.Book{{ID: "b1", Name: "Andina"}}}
	handler := mcpResourceBooks(MCPDeps{Engine: fe})

	contents, err := handler(context.Background(), makeReadResourceRequest("braindump://books"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := contents[0].(mcp.TextResourceContents)

	var books []storage.Book
	if err := json.Unmarshal([]byte(text.Text), &books); err != nil {
		t.Fatalf("failed to parse resource: %v", err)
	}
	if len(books) != 1 || books[0].Name != "Andina" {
		t.Errorf("books = %+v", books)
	}
}
