package embedding

import (
	"context"
	"os"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/utils"
)

type CohereBackend struct {
	model  string
	apiKey string
	client *cohereclient.Client
}

func NewCohereBackend(model string) *CohereBackend {
	if model == "" {
		model = "embed-english-v3.0"
	}

	apiKey := os.Getenv("COHERE_API_KEY")

	return &CohereBackend{
		model:  model,
		apiKey: apiKey,
		client: cohereclient.NewClient(cohereclient.WithToken(apiKey)),
	}
}

func (backend *CohereBackend) Name() string {
	return "cohere"
}

func (backend *CohereBackend) Embed(ctx context.Context, text string, dimensions int) ([]float32, error) {
	if backend.apiKey == "" {
		return nil, errors.NewError(errors.ErrMissingCredential, "COHERE_API_KEY")
	}

	model := backend.model
	inputType := cohere.EmbedInputTypeSearchDocument

	resp, err := backend.client.Embed(ctx, &cohere.EmbedRequest{
		Model:     &model,
		Texts:     []string{text},
		InputType: &inputType,
	})

	if err != nil {
		return nil, err
	}

	floats := resp.GetEmbeddingsFloats()

	if floats == nil || len(floats.Embeddings) == 0 {
		return nil, nil
	}

	return utils.Floats[float32](floats.Embeddings[0]), nil
}
