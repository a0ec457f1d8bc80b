package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/memory"
	"github.com/theapemachine/mnemo/pkg/provider"
)

type scopeKey struct{}

/*
WithScope binds the conversation scope that tool handlers act on.
*/
func WithScope(ctx context.Context, scope memory.Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

func ScopeFrom(ctx context.Context) (memory.Scope, bool) {
	scope, ok := ctx.Value(scopeKey{}).(memory.Scope)
	return scope, ok && scope.Valid()
}

type entry struct {
	tool    mcp.Tool
	handler server.ToolHandlerFunc
}

/*
Registry holds the tool schemas offered to models together with their
handlers. The same registry backs in-process tool calls and the MCP server.
*/
type Registry struct {
	entries []entry
	index   map[string]int
}

func NewRegistry() *Registry {
	return &Registry{index: map[string]int{}}
}

/*
Register adds or replaces a tool.
*/
func (registry *Registry) Register(tool mcp.Tool, handler server.ToolHandlerFunc) {
	if i, ok := registry.index[tool.Name]; ok {
		registry.entries[i] = entry{tool: tool, handler: handler}
		return
	}

	registry.index[tool.Name] = len(registry.entries)
	registry.entries = append(registry.entries, entry{tool: tool, handler: handler})
}

func (registry *Registry) Tools() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(registry.entries))

	for _, entry := range registry.entries {
		out = append(out, entry.tool)
	}

	return out
}

/*
RegisterMCP exposes every tool on an MCP server. Calls arriving there carry
no scope of their own, so fallback is bound into their context.
*/
func (registry *Registry) RegisterMCP(srv *server.MCPServer, fallback memory.Scope) {
	for _, entry := range registry.entries {
		handler := entry.handler

		srv.AddTool(entry.tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, ok := ScopeFrom(ctx); !ok {
				ctx = WithScope(ctx, fallback)
			}

			return handler(ctx, req)
		})
	}
}

/*
Call runs one model-requested invocation and renders the outcome as the
text of a tool-result message. Every failure becomes a structured ToolError
payload, never a Go error, so the model can read it and correct itself.
*/
func (registry *Registry) Call(ctx context.Context, call provider.ToolCall) (string, bool) {
	i, ok := registry.index[call.Name]

	if !ok {
		return errors.ErrToolUnknown.WithMessagef("Unknown tool %q", call.Name).JSON(), true
	}

	arguments := map[string]any{}

	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &arguments); err != nil {
			return errors.ErrToolInvalidParams.WithMessagef("Arguments must be a JSON object").
				WithData(err.Error()).JSON(), true
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = call.Name
	req.Params.Arguments = arguments

	result, err := registry.entries[i].handler(ctx, req)

	if err != nil {
		log.Warn("tool failed", "tool", call.Name, "error", err)
		return errors.ErrToolFailed.WithData(err.Error()).JSON(), true
	}

	if result == nil {
		return "", false
	}

	return resultText(result), result.IsError
}

func resultText(result *mcp.CallToolResult) string {
	parts := make([]string, 0, len(result.Content))

	for _, content := range result.Content {
		switch text := content.(type) {
		case mcp.TextContent:
			parts = append(parts, text.Text)
		case *mcp.TextContent:
			parts = append(parts, text.Text)
		}
	}

	return strings.Join(parts, "\n")
}

/*
toolError wraps a ToolError as an error result for mcp handlers.
*/
func toolError(err *errors.ToolError) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.JSON())
}

func jsonResult(value any) (*mcp.CallToolResult, error) {
	buf, err := json.Marshal(value)

	if err != nil {
		return nil, err
	}

	return mcp.NewToolResultText(string(buf)), nil
}
