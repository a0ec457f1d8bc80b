package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/memory"
	"github.com/theapemachine/mnemo/pkg/retrieval"
)

const defaultLimit = 5

/*
Retriever is the part of the retrieval engine the memory tool needs.
*/
type Retriever interface {
	Retrieve(ctx context.Context, scope memory.Scope, query string, limit int, opts ...retrieval.RetrieveOption) []retrieval.Ranked
}

func NewSearchMemoriesTool() mcp.Tool {
	return mcp.NewTool(
		"search_memories",
		mcp.WithDescription("Search the user's long-term memory of earlier conversations. Use it when the user refers to something they told you before."),
		mcp.WithString("query",
			mcp.Description("What to look for, in natural language or keywords"),
			mcp.Required(),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of memories to return"),
			mcp.Min(1),
			mcp.Max(20),
			mcp.DefaultNumber(defaultLimit),
		),
		mcp.WithString("domain",
			mcp.Description("Only return memories from this domain"),
		),
	)
}

type memoryHit struct {
	ID         string   `json:"id"`
	Speaker    string   `json:"speaker"`
	Content    string   `json:"content"`
	Date       string   `json:"date"`
	Domain     string   `json:"domain,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Importance int      `json:"importance"`
	Score      float64  `json:"score"`
	Source     string   `json:"source"`
}

/*
SearchMemories answers search_memories from the hybrid retriever with the
stricter tool threshold.
*/
type SearchMemories struct {
	retriever Retriever
	threshold float64
}

func NewSearchMemories(retriever Retriever, threshold float64) *SearchMemories {
	return &SearchMemories{retriever: retriever, threshold: threshold}
}

func (tool *SearchMemories) Register(registry *Registry) {
	registry.Register(NewSearchMemoriesTool(), tool.Handle)
}

func (tool *SearchMemories) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, invalid := validateSearchMemories(req)

	if invalid != nil {
		return toolError(invalid), nil
	}

	scope, ok := ScopeFrom(ctx)

	if !ok {
		return toolError(errors.ErrToolFailed.WithMessagef("No conversation scope")), nil
	}

	opts := []retrieval.RetrieveOption{retrieval.WithThreshold(tool.threshold)}

	if args.Domain != "" {
		opts = append(opts, retrieval.WithDomain(args.Domain))
	}

	ranked := tool.retriever.Retrieve(ctx, scope, args.Query, *args.Limit, opts...)
	hits := make([]memoryHit, 0, len(ranked))

	for _, hit := range ranked {
		hits = append(hits, memoryHit{
			ID:         hit.Record.ID,
			Speaker:    string(hit.Record.Role),
			Content:    hit.Record.Content,
			Date:       hit.Record.CreatedAt.Format("2006-01-02"),
			Domain:     hit.Record.Domain,
			Tags:       hit.Record.Tags,
			Importance: hit.Record.Importance,
			Score:      hit.Score,
			Source:     string(hit.Source),
		})
	}

	return jsonResult(map[string]any{"query": args.Query, "count": len(hits), "results": hits})
}
