package embedding

import (
	"context"
	"os"
	"sync"

	"github.com/theapemachine/mnemo/pkg/errors"
	"google.golang.org/genai"
)

/*
GoogleBackend calls Gemini EmbedContent with an explicit output
dimensionality.
*/
type GoogleBackend struct {
	model  string
	apiKey string
	mu     sync.Mutex
	client *genai.Client
}

func NewGoogleBackend(model string) *GoogleBackend {
	if model == "" {
		model = "text-embedding-004"
	}

	return &GoogleBackend{
		model:  model,
		apiKey: os.Getenv("GEMINI_API_KEY"),
	}
}

func (backend *GoogleBackend) Name() string {
	return "google"
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

func (backend *GoogleBackend) Embed(ctx context.Context, text string, dimensions int) ([]float32, error) {
	client, err := backend.connect(ctx)

	if err != nil {
		return nil, err
	}

	resp, err := client.Models.EmbedContent(
		ctx,
		backend.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(int32(dimensions))},
	)

	if err != nil {
		return nil, err
	}

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, nil
	}

	return resp.Embeddings[0].Values, nil
}
