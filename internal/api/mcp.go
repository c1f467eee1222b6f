package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pagevault/pagevault/internal/importer"
	"github.com/pagevault/pagevault/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. The tools operate on a
// single user's slice of the archive.
type MCPDeps struct {
	Store      ArchiveLister
	Importer   Importer
	Search     SearchProvider
	UserID     string
	ImportOpts importer.Options
}

// ArchiveLister is the storage subset the MCP tools need.
type ArchiveLister interface {
	ListArchives(userID string, limit int) ([]storage.Archive, error)
}

// NewMCPServer creates an MCP server with the archive tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"pagevault",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("pagevault: personal web archive with hybrid lexical and semantic search."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_archive",
			mcp.WithDescription("Search the archived pages with combined keyword and semantic matching. Returns result groups with highlighted snippets."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of result groups (default 10)")),
		),
		mcpSearchArchive(deps),
	)

	s.AddTool(
		mcp.NewTool("import_urls",
			mcp.WithDescription("Archive a list of URLs: fetch, extract readable text, deduplicate, and index for search."),
			mcp.WithArray("urls", mcp.Description("URLs to archive"), mcp.Required()),
			mcp.WithArray("tags", mcp.Description("Optional tags applied to every imported page")),
		),
		mcpImportURLs(deps),
	)

	s.AddTool(
		mcp.NewTool("list_archives",
			mcp.WithDescription("List the most recently archived pages."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of archives (default 20)")),
		),
		mcpListArchives(deps),
	)

	return s
}

func mcpSearchArchive(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		groups, err := deps.Search.Search(ctx, query, deps.UserID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(groups) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(groups)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpImportURLs(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls := req.GetStringSlice("urls", nil)
		if len(urls) == 0 {
			return mcpError("urls is required"), nil
		}
		tags := req.GetStringSlice("tags", nil)

		items := make([]importer.Item, len(urls))
		for i, u := range urls {
			items[i] = importer.Item{URL: u, Tags: tags}
		}

		summary, err := deps.Importer.Run(ctx, items, deps.UserID, deps.ImportOpts, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("import failed: %v", err)), nil
		}

		b, err := json.Marshal(summary)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListArchives(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		archives, err := deps.Store.ListArchives(deps.UserID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list archives: %v", err)), nil
		}

		type archiveSummary struct {
			ID        string `json:"id"`
			URL       string `json:"url"`
			Title     string `json:"title"`
			WordCount int    `json:"word_count"`
			CreatedAt string `json:"created_at"`
		}
		summaries := make([]archiveSummary, len(archives))
		for i, a := range archives {
			summaries[i] = archiveSummary{
				ID:        a.ID,
				URL:       a.URL,
				Title:     a.Title,
				WordCount: a.WordCount,
				CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal archives: %v", err)), nil
		}
		return mcpText(string(b)), nil
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
