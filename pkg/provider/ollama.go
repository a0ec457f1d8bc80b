package provider

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ollama/ollama/api"
)

var ollamaRoleMap = map[Role]string{
	RoleSystem:    "system",
	RoleUser:      "user",
	RoleAssistant: "assistant",
	RoleTool:      "tool",
}

/*
OllamaBackend talks to a local Ollama daemon. It needs no credential, so
it counts as available whenever OLLAMA_HOST is set.
*/
type OllamaBackend struct {
	mu     sync.Mutex
	client *api.Client
}

func NewOllamaBackend() *OllamaBackend {
	return &OllamaBackend{}
}

func (backend *OllamaBackend) Name() string {
	return "ollama"
}

func (backend *OllamaBackend) Available() bool {
	return os.Getenv("OLLAMA_HOST") != ""
}

func (backend *OllamaBackend) connect() (*api.Client, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	if backend.client != nil {
		return backend.client, nil
	}

	client, err := api.ClientFromEnvironment()

	if err != nil {
		return nil, err
	}

	backend.client = client
	return client, nil
}

func (backend *OllamaBackend) Generate(ctx context.Context, params *Params) <-chan Event {
	return generate(ctx, func(emit func(string) bool) ([]ToolCall, error) {
		client, err := backend.connect()

		if err != nil {
			return nil, err
		}

		options := map[string]any{}

		if params.Temperature > 0 {
			options["temperature"] = params.Temperature
		}

		if params.MaxTokens > 0 {
			options["num_predict"] = params.MaxTokens
		}

		request := &api.ChatRequest{
			Model:    params.Model,
			Messages: backend.convertMessages(params),
			Tools:    backend.convertTools(params.Tools),
			Options:  options,
		}

		var calls []ToolCall

		err = client.Chat(ctx, request, func(resp api.ChatResponse) error {
			for _, call := range resp.Message.ToolCalls {
				calls = append(calls, ToolCall{
					ID:        uuid.NewString(),
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments.String(),
				})
			}

			if !emit(resp.Message.Content) {
				return ctx.Err()
			}

			return nil
		})

		if err != nil {
			return nil, err
		}

		return calls, nil
	})
}

func (backend *OllamaBackend) convertMessages(params *Params) []api.Message {
	out := make([]api.Message, 0, len(params.Messages)+1)

	if params.System != "" {
		out = append(out, api.Message{Role: "system", Content: params.System})
	}

	for _, msg := range params.Messages {
		message := api.Message{Role: ollamaRoleMap[msg.Role], Content: msg.Content}

		for _, call := range msg.ToolCalls {
			message.ToolCalls = append(message.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      call.Name,
					Arguments: decodeArguments(call.Arguments),
				},
			})
		}

		out = append(out, message)
	}

	return out
}

/*
convertTools goes through JSON so the schema lands in whatever shape the
client's parameter struct declares.
*/
func (backend *OllamaBackend) convertTools(tools []mcp.Tool) api.Tools {
	out := make(api.Tools, 0, len(tools))

	for _, tool := range tools {
		function := api.ToolFunction{Name: tool.Name, Description: tool.Description}

		buf, err := json.Marshal(schemaOf(tool))

		if err == nil {
			err = json.Unmarshal(buf, &function.Parameters)
		}

		if err != nil {
			log.Warn("skipping tool with unsupported schema", "tool", tool.Name, "error", err)
			continue
		}

		out = append(out, api.Tool{Type: "function", Function: function})
	}

	return out
}
