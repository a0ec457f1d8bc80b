package embedding

import (
	"time"

	"github.com/theapemachine/mnemo/pkg/errors"
)

type Config struct {
	Backend    string         `mapstructure:"backend"`
	Model      string         `mapstructure:"model"`
	BaseURL    string         `mapstructure:"baseURL"`
	Dimensions int            `mapstructure:"dimensions"`
	MaxChars   int            `mapstructure:"maxChars"`
	Timeout    time.Duration  `mapstructure:"timeout"`
	Backfill   BackfillConfig `mapstructure:"backfill"`
}

/*
NewBackend builds the named backend. Unknown names are a configuration error.
*/
func NewBackend(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", "google", "gemini":
		return NewGoogleBackend(cfg.Model), nil
	case "openai":
		return NewOpenAIBackend(cfg.Model, WithOpenAIBaseURL(cfg.BaseURL)), nil
	case "ollama":
		return NewOllamaBackend(cfg.Model), nil
	case "cohere":
		return NewCohereBackend(cfg.Model), nil
	case "hash":
		return NewHashBackend(), nil
	default:
		return nil, errors.New(errors.KindFatalConfig, "unknown embedding backend %q", cfg.Backend)
	}
}

func NewAdapterFromConfig(cfg Config) (*Adapter, error) {
	backend, err := NewBackend(cfg)

	if err != nil {
		return nil, err
	}

	return NewAdapter(
		backend,
		WithDimensions(cfg.Dimensions),
		WithMaxChars(cfg.MaxChars),
		WithTimeout(cfg.Timeout),
	), nil
}
