package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ovalle/braindump/internal/engine"
	"github.com/ovalle/braindump/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Engine Engine
}

// NewMCPServer creates an MCP server exposing the capture pipeline as tools:
// dump a thought, review what is staged, confirm or discard it, and browse
// books and entries.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"braindump",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("braindump — capture unstructured thoughts, classify them into books, and confirm before anything is saved."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("capture_note",
			mcp.WithDescription("Capture a raw thought. It is classified and staged for confirmation; nothing is saved until confirm_staged."),
			mcp.WithString("text", mcp.Description("The raw text to capture"), mcp.Required()),
		),
		mcpCaptureNote(deps),
	)

	s.AddTool(
		mcp.NewTool("list_staged",
			mcp.WithDescription("List classified topics waiting for confirmation."),
		),
		mcpListStaged(deps),
	)

	s.AddTool(
		mcp.NewTool("confirm_staged",
			mcp.WithDescription("Commit staged topics to permanent storage."),
			mcp.WithArray("entryIds", mcp.Description("Entry IDs of the staged topics to commit"), mcp.Required()),
		),
		mcpConfirmStaged(deps),
	)

	s.AddTool(
		mcp.NewTool("discard_staged",
			mcp.WithDescription("Discard a staged topic without saving it."),
			mcp.WithString("entryId", mcp.Description("Entry ID of the staged topic"), mcp.Required()),
		),
		mcpDiscardStaged(deps),
	)

	s.AddTool(
		mcp.NewTool("list_books",
			mcp.WithDescription("List all books (topic containers) with their running context."),
		),
		mcpListBooks(deps),
	)

	s.AddTool(
		mcp.NewTool("search_entries",
			mcp.WithDescription("Full-text search over saved entries."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpSearchEntries(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"braindump://staged",
			"Staged Topics",
			mcp.WithResourceDescription("Topics awaiting confirmation as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStaged(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"braindump://books",
			"Books",
			mcp.WithResourceDescription("All books with their context as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceBooks(deps),
	)

	return s
}

func mcpCaptureNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		result, err := deps.Engine.Capture(ctx, engine.CaptureInput{RawText: text})
		if err != nil {
			return mcpError(fmt.Sprintf("capture failed, raw text saved: %v", err)), nil
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListStaged(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		staged := deps.Engine.Staged()
		if len(staged) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(staged)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal staged topics: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpConfirmStaged(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids := req.GetStringSlice("entryIds", nil)
		if len(ids) == 0 {
			return mcpError("entryIds is required"), nil
		}

		results := deps.Engine.ConfirmStaged(ctx, ids)
		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDiscardStaged(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("entryId")
		if err != nil {
			return mcpError("entryId is required"), nil
		}

		if err := deps.Engine.Discard(id); err != nil {
			return mcpError(fmt.Sprintf("discard failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Discarded staged topic %s", id)), nil
	}
}

func mcpListBooks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		books, err := deps.Engine.Books(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list books: %v", err)), nil
		}
		if len(books) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(books)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal books: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchEntries(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		entries, err := deps.Engine.SearchEntries(ctx, storage.SearchFilters{Text: query, Limit: limit})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(entries) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(entries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal entries: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStaged(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		staged := deps.Engine.Staged()
		if staged == nil {
			staged = []engine.StagedTopic{}
		}
		b, err := json.Marshal(staged)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal staged topics: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceBooks(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		books, err := deps.Engine.Books(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list books: %w", err)
		}
		if books == nil {
			books = []storage.Book{}
		}
		b, err := json.Marshal(books)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal books: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
