package embedding

import (
	"context"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/utils"
)

type OpenAIBackend struct {
	model  string
	apiKey string
	client openai.Client
}

type OpenAIBackendOption func(*OpenAIBackend, *[]option.RequestOption)

func WithOpenAIBaseURL(url string) OpenAIBackendOption {
	return func(_ *OpenAIBackend, opts *[]option.RequestOption) {
		if url != "" {
			*opts = append(*opts, option.WithBaseURL(url))
		}
	}
}

func NewOpenAIBackend(model string, options ...OpenAIBackendOption) *OpenAIBackend {
	if model == "" {
		model = openai.EmbeddingModelTextEmbedding3Small
	}

	backend := &OpenAIBackend{
		model:  model,
		apiKey: os.Getenv("OPENAI_API_KEY"),
	}

	opts := []option.RequestOption{option.WithAPIKey(backend.apiKey)}

	for _, opt := range options {
		opt(backend, &opts)
	}

	backend.client = openai.NewClient(opts...)
	return backend
}

func (backend *OpenAIBackend) Name() string {
	return "openai"
}

func (backend *OpenAIBackend) Embed(ctx context.Context, text string, dimensions int) ([]float32, error) {
	if backend.apiKey == "" {
		return nil, errors.NewError(errors.ErrMissingCredential, "OPENAI_API_KEY")
	}

	resp, err := backend.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model:      backend.model,
		Dimensions: openai.Int(int64(dimensions)),
	})

	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, nil
	}

	return utils.Floats[float32](resp.Data[0].Embedding), nil
}
