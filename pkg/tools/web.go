package tools

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/search"
)

func NewWebSearchTool() mcp.Tool {
	return mcp.NewTool(
		"web_search",
		mcp.WithDescription("Search the web for current information the conversation history cannot answer."),
		mcp.WithString("query",
			mcp.Description("The search query"),
			mcp.Required(),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of results to return"),
			mcp.Min(1),
			mcp.Max(10),
			mcp.DefaultNumber(defaultLimit),
		),
	)
}

type WebSearch struct {
	searcher search.Searcher
}

func NewWebSearch(searcher search.Searcher) *WebSearch {
	return &WebSearch{searcher: searcher}
}

func (tool *WebSearch) Register(registry *Registry) {
	registry.Register(NewWebSearchTool(), tool.Handle)
}

func (tool *WebSearch) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, invalid := validateWebSearch(req)

	if invalid != nil {
		return toolError(invalid), nil
	}

	results, err := tool.searcher.Search(ctx, args.Query, *args.MaxResults)

	if err != nil {
		log.Warn("web search failed", "query", args.Query, "error", err)
		return toolError(errors.ErrToolFailed.WithMessagef("Web search failed").WithData(err.Error())), nil
	}

	if results == nil {
		results = []search.Result{}
	}

	return jsonResult(map[string]any{"query": args.Query, "count": len(results), "results": results})
}
