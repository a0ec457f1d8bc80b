package memory

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

/*
CosineSimilarity returns 1 - cosine distance. Mismatched or zero vectors
score 0 rather than erroring so a bad row can never break a query.
*/
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

/*
EncodeVector packs a vector as little-endian float32 for blob columns.
*/
func EncodeVector(vector []float32) []byte {
	if len(vector) == 0 {
		return nil
	}

	buf := make([]byte, 4*len(vector))

	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}

	return buf
}

func DecodeVector(buf []byte) ([]float32, error) {
	if len(buf) == 0 {
		return nil, nil
	}

	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(buf))
	}

	out := make([]float32, len(buf)/4)

	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}

	return out, nil
}

/*
RankVector scores embedded candidates against a query and returns the ones
above threshold, sorted by score with newer records winning ties. Stores
share it so ranking is identical across backends.
*/
func RankVector(candidates []*Record, query VectorQuery) []Scored {
	out := make([]Scored, 0, len(candidates))

	for _, record := range candidates {
		if len(record.Embedding) == 0 {
			continue
		}

		similarity := CosineSimilarity(query.Vector, record.Embedding)

		if similarity <= query.Threshold {
			continue
		}

		score := similarity

		if query.Score != nil {
			score = query.Score(record, similarity)
		}

		out = append(out, Scored{Record: record, Similarity: similarity, Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}

		return out[i].Record.CreatedAt.After(out[j].Record.CreatedAt)
	})

	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}

	return out
}

/*
SortRecords applies a Filter's ordering in place.
*/
func SortRecords(records []*Record, order Order) {
	sort.SliceStable(records, func(i, j int) bool {
		if order == OrderRanked && records[i].Importance != records[j].Importance {
			return records[i].Importance > records[j].Importance
		}

		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
