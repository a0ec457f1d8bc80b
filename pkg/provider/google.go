package provider

import (
	"context"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/theapemachine/mnemo/pkg/errors"
	"google.golang.org/genai"
)

var googleRoleMap = map[Role]string{
	RoleSystem:    genai.RoleUser,
	RoleUser:      genai.RoleUser,
	RoleAssistant: genai.RoleModel,
	RoleTool:      genai.RoleUser,
}

/*
GoogleBackend streams Gemini content generation.
*/
type GoogleBackend struct {
	apiKey string
	mu     sync.Mutex
	client *genai.Client
}

func NewGoogleBackend() *GoogleBackend {
	return &GoogleBackend{apiKey: os.Getenv("GEMINI_API_KEY")}
}

func (backend *GoogleBackend) Name() string {
	return "gemini"
}

func (backend *GoogleBackend) Available() bool {
	return backend.apiKey != ""
}

func (backend *GoogleBackend) connect(ctx context.Context) (*genai.Client, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	if backend.client != nil {
		return backend.client, nil
	}

	if backend.apiKey == "" {
		return nil, errors.NewError(errors.ErrMissingCredential, "GEMINI_API_KEY")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  backend.apiKey,
		Backend: genai.BackendGeminiAPI,
	})

	if err != nil {
		return nil, err
	}

	backend.client = client
	return client, nil
}

func (backend *GoogleBackend) Generate(ctx context.Context, params *Params) <-chan Event {
	return generate(ctx, func(emit func(string) bool) ([]ToolCall, error) {
		client, err := backend.connect(ctx)

		if err != nil {
			return nil, err
		}

		config := &genai.GenerateContentConfig{}

		if params.System != "" {
			config.SystemInstruction = genai.NewContentFromText(params.System, genai.RoleUser)
		}

		if len(params.Tools) > 0 {
			config.Tools = backend.convertTools(params.Tools)
		}

		if params.Temperature > 0 {
			config.Temperature = genai.Ptr(float32(params.Temperature))
		}

		if params.MaxTokens > 0 {
			config.MaxOutputTokens = int32(params.MaxTokens)
		}

		var calls []ToolCall

		for resp, err := range client.Models.GenerateContentStream(
			ctx, params.Model, backend.convertMessages(params.Messages), config,
		) {
			if err != nil {
				return nil, err
			}

			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}

			for _, part := range resp.Candidates[0].Content.Parts {
				if part.FunctionCall != nil {
					calls = append(calls, backend.toolCall(part.FunctionCall))
					continue
				}

				if !emit(part.Text) {
					return nil, ctx.Err()
				}
			}
		}

		return calls, nil
	})
}

func (backend *GoogleBackend) toolCall(fc *genai.FunctionCall) ToolCall {
	id := fc.ID

	if id == "" {
		id = uuid.NewString()
	}

	arguments, err := encodeArguments(fc.Args)

	if err != nil {
		log.Warn("gemini tool arguments did not encode", "tool", fc.Name, "error", err)
	}

	return ToolCall{ID: id, Name: fc.Name, Arguments: arguments}
}

/*
convertMessages keeps the function name on tool results, Gemini matches
responses to calls by name rather than id.
*/
func (backend *GoogleBackend) convertMessages(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	names := map[string]string{}

	for _, msg := range messages {
		content := &genai.Content{Role: googleRoleMap[msg.Role]}

		switch msg.Role {
		case RoleTool:
			name := msg.Name

			if name == "" {
				name = names[msg.ToolCallID]
			}

			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     name,
					Response: map[string]any{"output": msg.Content},
				},
			})
		case RoleAssistant:
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}

			for _, call := range msg.ToolCalls {
				names[call.ID] = call.Name
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   call.ID,
						Name: call.Name,
						Args: decodeArguments(call.Arguments),
					},
				})
			}
		default:
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}

	return out
}

func (backend *GoogleBackend) convertTools(tools []mcp.Tool) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))

	for _, tool := range tools {
		properties := make(map[string]*genai.Schema)

		for name, value := range tool.InputSchema.Properties {
			prop, ok := value.(map[string]any)

			if !ok {
				log.Warn("skipping tool property due to unexpected type", "tool", tool.Name, "property", name)
				continue
			}

			schema := &genai.Schema{Type: genai.TypeString}

			switch prop["type"] {
			case "number":
				schema.Type = genai.TypeNumber
			case "integer":
				schema.Type = genai.TypeInteger
			case "boolean":
				schema.Type = genai.TypeBoolean
			case "array":
				schema.Type = genai.TypeArray
			case "object":
				schema.Type = genai.TypeObject
			}

			if description, ok := prop["description"].(string); ok {
				schema.Description = description
			}

			properties[name] = schema
		}

		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   tool.InputSchema.Required,
			},
		})
	}

	return []*genai.Tool{{FunctionDeclarations: declarations}}
}
