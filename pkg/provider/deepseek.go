package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	deepseek "github.com/cohesion-org/deepseek-go"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mnemoerrors "github.com/theapemachine/mnemo/pkg/errors"
)

/*
DeepseekBackend streams plain completions and switches to a single
non-streamed completion when tools are offered, since tool calls are only
surfaced on full responses.
*/
type DeepseekBackend struct {
	apiKey string
	client *deepseek.Client
}

func NewDeepseekBackend() *DeepseekBackend {
	backend := &DeepseekBackend{apiKey: os.Getenv("DEEPSEEK_API_KEY")}
	backend.client = deepseek.NewClient(backend.apiKey)

	return backend
}

func (backend *DeepseekBackend) Name() string {
	return "deepseek"
}

func (backend *DeepseekBackend) Available() bool {
	return backend.apiKey != ""
}

func (backend *DeepseekBackend) Generate(ctx context.Context, params *Params) <-chan Event {
	return generate(ctx, func(emit func(string) bool) ([]ToolCall, error) {
		if !backend.Available() {
			return nil, mnemoerrors.NewError(mnemoerrors.ErrMissingCredential, "DEEPSEEK_API_KEY")
		}

		model := params.Model

		if model == "" {
			model = deepseek.DeepSeekChat
		}

		if len(params.Tools) > 0 {
			return backend.complete(ctx, model, params, emit)
		}

		stream, err := backend.client.CreateChatCompletionStream(ctx, &deepseek.StreamChatCompletionRequest{
			Model:       model,
			Messages:    backend.convertMessages(params),
			Temperature: float32(params.Temperature),
			MaxTokens:   int(params.MaxTokens),
			Stream:      true,
		})

		if err != nil {
			return nil, err
		}

		defer stream.Close()

		for {
			response, err := stream.Recv()

			if errors.Is(err, io.EOF) {
				return nil, nil
			}

			if err != nil {
				return nil, err
			}

			for _, choice := range response.Choices {
				if !emit(choice.Delta.Content) {
					return nil, ctx.Err()
				}
			}
		}
	})
}

func (backend *DeepseekBackend) complete(
	ctx context.Context, model string, params *Params, emit func(string) bool,
) ([]ToolCall, error) {
	response, err := backend.client.CreateChatCompletion(ctx, &deepseek.ChatCompletionRequest{
		Model:       model,
		Messages:    backend.convertMessages(params),
		Tools:       backend.convertTools(params.Tools),
		Temperature: float32(params.Temperature),
		MaxTokens:   int(params.MaxTokens),
	})

	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, mnemoerrors.NewError(mnemoerrors.ErrMalformedResponse, "deepseek returned no choices")
	}

	message := response.Choices[0].Message

	if !emit(message.Content) {
		return nil, ctx.Err()
	}

	calls := make([]ToolCall, 0, len(message.ToolCalls))

	for _, call := range message.ToolCalls {
		id := call.ID

		if id == "" {
			id = uuid.NewString()
		}

		calls = append(calls, ToolCall{ID: id, Name: call.Function.Name, Arguments: call.Function.Arguments})
	}

	return calls, nil
}

/*
convertMessages renders tool traffic as plain text turns, the way the model
saw it in earlier round-trips.
*/
func (backend *DeepseekBackend) convertMessages(params *Params) []deepseek.ChatCompletionMessage {
	out := make([]deepseek.ChatCompletionMessage, 0, len(params.Messages)+1)

	if params.System != "" {
		out = append(out, deepseek.ChatCompletionMessage{Role: deepseek.ChatMessageRoleSystem, Content: params.System})
	}

	for _, msg := range params.Messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, deepseek.ChatCompletionMessage{Role: deepseek.ChatMessageRoleSystem, Content: msg.Content})
		case RoleUser:
			out = append(out, deepseek.ChatCompletionMessage{Role: deepseek.ChatMessageRoleUser, Content: msg.Content})
		case RoleAssistant:
			content := msg.Content

			for _, call := range msg.ToolCalls {
				content += fmt.Sprintf("\n[called %s with %s]", call.Name, call.Arguments)
			}

			out = append(out, deepseek.ChatCompletionMessage{Role: deepseek.ChatMessageRoleAssistant, Content: content})
		case RoleTool:
			out = append(out, deepseek.ChatCompletionMessage{
				Role:    deepseek.ChatMessageRoleUser,
				Content: fmt.Sprintf("Tool %s result: %s", msg.Name, msg.Content),
			})
		}
	}

	return out
}

func (backend *DeepseekBackend) convertTools(tools []mcp.Tool) []deepseek.Tool {
	out := make([]deepseek.Tool, 0, len(tools))

	for _, tool := range tools {
		out = append(out, deepseek.Tool{
			Type: "function",
			Function: deepseek.Function{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters: &deepseek.FunctionParameters{
					Type:       tool.InputSchema.Type,
					Properties: tool.InputSchema.Properties,
				},
			},
		})
	}

	return out
}
