package embedding

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/mnemo/pkg/errors"
)

/*
Embedder turns text into a vector. The Adapter is the production
implementation, everything downstream depends on this interface only.
*/
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

/*
Backend is one upstream embedding API. Backends report a missing credential
with errors.ErrMissingCredential and leave every other classification to the
Adapter.
*/
type Backend interface {
	Name() string
	Embed(ctx context.Context, text string, dimensions int) ([]float32, error)
}

/*
Adapter normalises input, calls the backend under a timeout and refuses any
response that is not a complete, finite vector of the configured size. It
does not cache.
*/
type Adapter struct {
	backend    Backend
	dimensions int
	maxChars   int
	timeout    time.Duration
}

type AdapterOption func(*Adapter)

func NewAdapter(backend Backend, options ...AdapterOption) *Adapter {
	adapter := &Adapter{
		backend:    backend,
		dimensions: 768,
		maxChars:   8000,
		timeout:    5 * time.Second,
	}

	for _, option := range options {
		option(adapter)
	}

	return adapter
}

func WithDimensions(dimensions int) AdapterOption {
	return func(adapter *Adapter) {
		if dimensions > 0 {
			adapter.dimensions = dimensions
		}
	}
}

func WithMaxChars(maxChars int) AdapterOption {
	return func(adapter *Adapter) {
		if maxChars > 0 {
			adapter.maxChars = maxChars
		}
	}
}

func WithTimeout(timeout time.Duration) AdapterOption {
	return func(adapter *Adapter) {
		if timeout > 0 {
			adapter.timeout = timeout
		}
	}
}

func (adapter *Adapter) Dimensions() int {
	return adapter.dimensions
}

func (adapter *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	input := Normalize(text, adapter.maxChars)

	if input == "" {
		return nil, errors.Wrap(errors.KindValidation, errors.ErrEmptyText)
	}

	ctx, cancel := context.WithTimeout(ctx, adapter.timeout)
	defer cancel()

	started := time.Now()
	vector, err := adapter.backend.Embed(ctx, input, adapter.dimensions)

	if err != nil {
		log.Debug("embedding failed", "backend", adapter.backend.Name(), "took", time.Since(started), "error", err)
		return nil, classify(err)
	}

	if err := adapter.check(vector); err != nil {
		return nil, err
	}

	return vector, nil
}

func (adapter *Adapter) check(vector []float32) error {
	if len(vector) == 0 {
		return errors.Wrap(errors.KindTransient, errors.ErrMalformedResponse, adapter.backend.Name()+" returned no vector")
	}

	if len(vector) != adapter.dimensions {
		return errors.Wrap(
			errors.KindTransient, errors.ErrMalformedResponse,
			adapter.backend.Name()+" returned a vector of the wrong dimension",
		)
	}

	for _, v := range vector {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return errors.Wrap(errors.KindTransient, errors.ErrMalformedResponse, adapter.backend.Name()+" returned non-finite values")
		}
	}

	return nil
}

func classify(err error) error {
	if errors.Is(err, errors.ErrMissingCredential) {
		return errors.Wrap(errors.KindFatalConfig, err)
	}

	var classified *errors.Error

	if errors.As(err, &classified) && classified.Kind != errors.KindUnknown {
		return err
	}

	return errors.Wrap(errors.KindTransient, err, "embedding")
}

/*
Normalize collapses whitespace runs and truncates to maxChars runes.
*/
func Normalize(text string, maxChars int) string {
	out := strings.Join(strings.Fields(text), " ")

	if maxChars > 0 && utf8.RuneCountInString(out) > maxChars {
		runes := []rune(out)
		out = strings.TrimSpace(string(runes[:maxChars]))
	}

	return out
}
