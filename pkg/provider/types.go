package provider

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

/*
Message is one entry of the conversation handed to a backend. Assistant
messages may carry the tool calls the model asked for, tool messages carry
the result for the call named by ToolCallID.
*/
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

type Params struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []mcp.Tool
	Temperature float64
	MaxTokens   int64
}

type EventKind int

const (
	EventDelta EventKind = iota
	EventToolCall
	EventDone
	EventError
)

func (kind EventKind) String() string {
	switch kind {
	case EventDelta:
		return "delta"
	case EventToolCall:
		return "tool_call"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind      EventKind
	Text      string
	ToolCalls []ToolCall
	Err       error
}

/*
Backend is a single model turn against one LLM API. Generate streams text
deltas, then at most one ToolCall event carrying every call the model made,
and finishes with Done or Error. The channel is closed afterwards.
*/
type Backend interface {
	Name() string
	Available() bool
	Generate(ctx context.Context, params *Params) <-chan Event
}

/*
generate runs fn on its own goroutine and adapts it to the Backend channel
contract. fn reports text through emit and returns the tool calls of the
turn.
*/
func generate(
	ctx context.Context, fn func(emit func(string) bool) ([]ToolCall, error),
) <-chan Event {
	ch := make(chan Event, 16)

	go func() {
		defer close(ch)

		send := func(event Event) bool {
			select {
			case ch <- event:
				return true
			case <-ctx.Done():
				return false
			}
		}

		calls, err := fn(func(text string) bool {
			if text == "" {
				return true
			}

			return send(Event{Kind: EventDelta, Text: text})
		})

		if err != nil {
			send(Event{Kind: EventError, Err: err})
			return
		}

		if len(calls) > 0 && !send(Event{Kind: EventToolCall, ToolCalls: calls}) {
			return
		}

		send(Event{Kind: EventDone})
	}()

	return ch
}

/*
schemaOf flattens an mcp.Tool input schema into the plain JSON-schema map
most SDKs accept.
*/
func schemaOf(tool mcp.Tool) map[string]any {
	schema := map[string]any{
		"type":       tool.InputSchema.Type,
		"properties": tool.InputSchema.Properties,
	}

	if schema["type"] == "" {
		schema["type"] = "object"
	}

	if len(tool.InputSchema.Required) > 0 {
		schema["required"] = tool.InputSchema.Required
	}

	return schema
}
