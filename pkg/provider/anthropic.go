package provider

import (
	"context"
	"fmt"
	"os"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/charmbracelet/log"
	"github.com/theapemachine/mnemo/pkg/errors"
)

const anthropicDefaultMaxTokens = 4096

/*
AnthropicBackend streams Claude messages. Tool results travel back as user
messages holding tool_result blocks.
*/
type AnthropicBackend struct {
	apiKey string
	client anthropic.Client
}

func NewAnthropicBackend() *AnthropicBackend {
	backend := &AnthropicBackend{apiKey: os.Getenv("ANTHROPIC_API_KEY")}
	backend.client = anthropic.NewClient(option.WithAPIKey(backend.apiKey))

	return backend
}

func (backend *AnthropicBackend) Name() string {
	return "anthropic"
}

func (backend *AnthropicBackend) Available() bool {
	return backend.apiKey != ""
}

func (backend *AnthropicBackend) Generate(ctx context.Context, params *Params) <-chan Event {
	return generate(ctx, func(emit func(string) bool) ([]ToolCall, error) {
		if !backend.Available() {
			return nil, errors.NewError(errors.ErrMissingCredential, "ANTHROPIC_API_KEY")
		}

		maxTokens := params.MaxTokens

		if maxTokens <= 0 {
			maxTokens = anthropicDefaultMaxTokens
		}

		request := anthropic.MessageNewParams{
			Model:     anthropic.Model(params.Model),
			Messages:  backend.convertMessages(params.Messages, len(params.Tools) > 0),
			Tools:     backend.convertTools(params),
			MaxTokens: maxTokens,
		}

		if params.System != "" {
			request.System = []anthropic.TextBlockParam{{Text: params.System}}
		}

		if params.Temperature > 0 {
			request.Temperature = anthropic.Float(params.Temperature)
		}

		stream := backend.client.Messages.NewStreaming(ctx, request)
		defer stream.Close()

		message := anthropic.Message{}

		for stream.Next() {
			event := stream.Current()

			if err := message.Accumulate(event); err != nil {
				log.Error("failed to accumulate message event", "error", err)
				continue
			}

			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if !emit(delta.Delta.Text) {
					return nil, ctx.Err()
				}
			}
		}

		if err := stream.Err(); err != nil {
			return nil, err
		}

		var calls []ToolCall

		for _, block := range message.Content {
			if use, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
				calls = append(calls, ToolCall{ID: use.ID, Name: use.Name, Arguments: string(use.Input)})
			}
		}

		return calls, nil
	})
}

/*
convertMessages folds consecutive tool results into one user turn, which is
what the Messages API expects after an assistant tool_use turn. Leading
system messages are merged into the user stream since the API takes system
text separately.

The API rejects tool_use and tool_result blocks in a request that declares
no tools, so without tools the round-trips are rendered as text.
*/
func (backend *AnthropicBackend) convertMessages(messages []Message, withTools bool) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	names := map[string]string{}
	var results []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, msg := range messages {
		if msg.Role == RoleTool {
			if withTools {
				results = append(results, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
				continue
			}

			name := msg.Name

			if name == "" {
				name = names[msg.ToolCallID]
			}

			results = append(results, anthropic.NewTextBlock(fmt.Sprintf("Tool %s result: %s", name, msg.Content)))
			continue
		}

		flush()

		switch msg.Role {
		case RoleUser, RoleSystem:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)

			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}

			for _, call := range msg.ToolCalls {
				names[call.ID] = call.Name

				if !withTools {
					blocks = append(blocks, anthropic.NewTextBlock(fmt.Sprintf("[called %s with %s]", call.Name, call.Arguments)))
					continue
				}

				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, rawArguments(call.Arguments), call.Name))
			}

			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}

	flush()

	return out
}

func (backend *AnthropicBackend) convertTools(params *Params) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(params.Tools))

	for _, tool := range params.Tools {
		toolParam := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: tool.InputSchema.Properties,
				Required:   tool.InputSchema.Required,
			},
		}

		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	return out
}
