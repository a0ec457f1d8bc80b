package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

/*
HashBackend is a deterministic, offline embedder. Each lowercase token is
hashed into a signed bucket, so texts that share words land near each other.
It needs no credentials and backs tests and air-gapped runs.
*/
type HashBackend struct{}

func NewHashBackend() *HashBackend {
	return &HashBackend{}
}

func (backend *HashBackend) Name() string {
	return "hash"
}

func (backend *HashBackend) Embed(ctx context.Context, text string, dimensions int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vector := make([]float32, dimensions)

	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		sign := float32(1)

		if sum&1 == 1 {
			sign = -1
		}

		vector[int((sum>>1)%uint64(dimensions))] += sign
	}

	return normalize(vector), nil
}

func normalize(vector []float32) []float32 {
	var norm float64

	for _, v := range vector {
		norm += float64(v) * float64(v)
	}

	if norm == 0 {
		// An all-zero vector has no direction, give it one.
		vector[0] = 1
		return vector
	}

	scale := float32(1 / math.Sqrt(norm))

	for i := range vector {
		vector[i] *= scale
	}

	return vector
}
