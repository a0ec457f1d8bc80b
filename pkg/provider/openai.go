package provider

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/theapemachine/mnemo/pkg/errors"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

/*
OpenAIBackend streams chat completions from OpenAI, or from any endpoint
speaking the same protocol such as OpenRouter.
*/
type OpenAIBackend struct {
	name   string
	keyEnv string
	apiKey string
	client openai.Client
}

type OpenAIBackendOption func(*OpenAIBackend, *[]option.RequestOption)

func NewOpenAIBackend(options ...OpenAIBackendOption) *OpenAIBackend {
	backend := &OpenAIBackend{
		name:   "openai",
		keyEnv: "OPENAI_API_KEY",
	}

	opts := []option.RequestOption{}

	for _, opt := range options {
		opt(backend, &opts)
	}

	backend.apiKey = os.Getenv(backend.keyEnv)
	opts = append(opts, option.WithAPIKey(backend.apiKey))
	backend.client = openai.NewClient(opts...)

	return backend
}

/*
NewOpenRouterBackend is the free-tier default: the OpenAI client pointed at
OpenRouter with its own key.
*/
func NewOpenRouterBackend(options ...OpenAIBackendOption) *OpenAIBackend {
	return NewOpenAIBackend(append([]OpenAIBackendOption{
		WithOpenAIName("openrouter"),
		WithOpenAIKeyEnv("OPENROUTER_API_KEY"),
		WithOpenAIBaseURL(openRouterBaseURL),
	}, options...)...)
}

func WithOpenAIName(name string) OpenAIBackendOption {
	return func(backend *OpenAIBackend, _ *[]option.RequestOption) {
		backend.name = name
	}
}

func WithOpenAIKeyEnv(env string) OpenAIBackendOption {
	return func(backend *OpenAIBackend, _ *[]option.RequestOption) {
		backend.keyEnv = env
	}
}

func WithOpenAIBaseURL(url string) OpenAIBackendOption {
	return func(_ *OpenAIBackend, opts *[]option.RequestOption) {
		if url != "" {
			*opts = append(*opts, option.WithBaseURL(url))
		}
	}
}

func (backend *OpenAIBackend) Name() string {
	return backend.name
}

func (backend *OpenAIBackend) Available() bool {
	return backend.apiKey != ""
}

func (backend *OpenAIBackend) Generate(ctx context.Context, params *Params) <-chan Event {
	return generate(ctx, func(emit func(string) bool) ([]ToolCall, error) {
		if !backend.Available() {
			return nil, errors.NewError(errors.ErrMissingCredential, backend.keyEnv)
		}

		request := openai.ChatCompletionNewParams{
			Model:    params.Model,
			Messages: backend.convertMessages(params),
		}

		if len(params.Tools) > 0 {
			request.Tools = backend.convertTools(params)
		}

		if params.Temperature > 0 {
			request.Temperature = openai.Float(params.Temperature)
		}

		if params.MaxTokens > 0 {
			request.MaxTokens = openai.Int(params.MaxTokens)
		}

		stream := backend.client.Chat.Completions.NewStreaming(ctx, request)
		defer stream.Close()

		acc := openai.ChatCompletionAccumulator{}

		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if tool, ok := acc.JustFinishedToolCall(); ok {
				log.Debug("model requested tool", "provider", backend.name, "tool", tool.Name)
			}

			if len(chunk.Choices) > 0 && !emit(chunk.Choices[0].Delta.Content) {
				return nil, ctx.Err()
			}
		}

		if err := stream.Err(); err != nil {
			return nil, err
		}

		if len(acc.Choices) == 0 {
			return nil, nil
		}

		calls := make([]ToolCall, 0, len(acc.Choices[0].Message.ToolCalls))

		for _, call := range acc.Choices[0].Message.ToolCalls {
			calls = append(calls, ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
		}

		return calls, nil
	})
}

func (backend *OpenAIBackend) convertMessages(params *Params) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(params.Messages)+1)

	if params.System != "" {
		out = append(out, openai.SystemMessage(params.System))
	}

	for _, msg := range params.Messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}

			assistant := openai.ChatCompletionAssistantMessageParam{}

			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}

			for _, call := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}

			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		}
	}

	return out
}

func (backend *OpenAIBackend) convertTools(params *Params) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(params.Tools))

	for _, tool := range params.Tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(schemaOf(tool)),
			},
		})
	}

	return out
}
