package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mnemoerrors "github.com/theapemachine/mnemo/pkg/errors"
)

/*
CohereBackend streams Cohere chat. The conversation is flattened into a
single message, tool results included.
*/
type CohereBackend struct {
	apiKey string
	client *cohereclient.Client
}

func NewCohereBackend() *CohereBackend {
	backend := &CohereBackend{apiKey: os.Getenv("COHERE_API_KEY")}
	backend.client = cohereclient.NewClient(cohereclient.WithToken(backend.apiKey))

	return backend
}

func (backend *CohereBackend) Name() string {
	return "cohere"
}

func (backend *CohereBackend) Available() bool {
	return backend.apiKey != ""
}

func (backend *CohereBackend) Generate(ctx context.Context, params *Params) <-chan Event {
	return generate(ctx, func(emit func(string) bool) ([]ToolCall, error) {
		if !backend.Available() {
			return nil, mnemoerrors.NewError(mnemoerrors.ErrMissingCredential, "COHERE_API_KEY")
		}

		request := &cohere.ChatStreamRequest{
			Message: backend.convertMessages(params),
			Tools:   backend.convertTools(params.Tools),
		}

		if params.Model != "" {
			request.Model = cohere.String(params.Model)
		}

		if params.Temperature > 0 {
			request.Temperature = cohere.Float64(params.Temperature)
		}

		if params.MaxTokens > 0 {
			request.MaxTokens = cohere.Int(int(params.MaxTokens))
		}

		stream, err := backend.client.ChatStream(ctx, request)

		if err != nil {
			return nil, err
		}

		defer stream.Close()

		var calls []ToolCall

		for {
			event, err := stream.Recv()

			if errors.Is(err, io.EOF) {
				return calls, nil
			}

			if err != nil {
				return nil, err
			}

			if generation := event.GetTextGeneration(); generation != nil {
				if !emit(generation.GetText()) {
					return nil, ctx.Err()
				}
			}

			if generation := event.GetToolCallsGeneration(); generation != nil {
				for _, call := range generation.GetToolCalls() {
					arguments, _ := json.Marshal(call.Parameters)
					calls = append(calls, ToolCall{ID: uuid.NewString(), Name: call.Name, Arguments: string(arguments)})
				}
			}

			if event.EventType == "stream-end" {
				return calls, nil
			}
		}
	})
}

func (backend *CohereBackend) convertMessages(params *Params) string {
	var builder strings.Builder

	if params.System != "" {
		builder.WriteString(params.System)
		builder.WriteString("\n\n")
	}

	for _, msg := range params.Messages {
		switch msg.Role {
		case RoleTool:
			fmt.Fprintf(&builder, "Tool %s result: %s\n", msg.Name, msg.Content)
		default:
			fmt.Fprintf(&builder, "%s: %s\n", msg.Role, msg.Content)
		}
	}

	return builder.String()
}

func (backend *CohereBackend) convertTools(tools []mcp.Tool) []*cohere.Tool {
	out := make([]*cohere.Tool, 0, len(tools))

	for _, tool := range tools {
		definitions := make(map[string]*cohere.ToolParameterDefinitionsValue)

		for name, value := range tool.InputSchema.Properties {
			prop, ok := value.(map[string]any)

			if !ok {
				continue
			}

			description, _ := prop["description"].(string)
			kind, _ := prop["type"].(string)

			definitions[name] = &cohere.ToolParameterDefinitionsValue{
				Description: cohere.String(description),
				Type:        kind,
				Required:    cohere.Bool(slices.Contains(tool.InputSchema.Required, name)),
			}
		}

		out = append(out, &cohere.Tool{
			Name:                 tool.Name,
			Description:          tool.Description,
			ParameterDefinitions: definitions,
		})
	}

	return out
}
