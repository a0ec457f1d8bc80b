package embedding

import (
	"context"

	"github.com/ollama/ollama/api"
)

/*
OllamaBackend uses the local /api/embed endpoint. Ollama models have a fixed
output size, so the requested dimensions are only checked by the Adapter.
*/
type OllamaBackend struct {
	model  string
	client *api.Client
	err    error
}

func NewOllamaBackend(model string) *OllamaBackend {
	if model == "" {
		model = "nomic-embed-text"
	}

	client, err := api.ClientFromEnvironment()

	return &OllamaBackend{model: model, client: client, err: err}
}

func (backend *OllamaBackend) Name() string {
	return "ollama"
}

func (backend *OllamaBackend) Embed(ctx context.Context, text string, dimensions int) ([]float32, error) {
	if backend.err != nil {
		return nil, backend.err
	}

	resp, err := backend.client.Embed(ctx, &api.EmbedRequest{
		Model: backend.model,
		Input: text,
	})

	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 {
		return nil, nil
	}

	return resp.Embeddings[0], nil
}
