package memory

import (
	"context"
	"time"
)

/*
Store is the durable log of memory records. Implementations assign ids and
strictly increasing CreatedAt values, and never compare records that have no
embedding.
*/
type Store interface {
	Append(ctx context.Context, record *Record) (string, error)
	Get(ctx context.Context, id string) (*Record, error)
	Query(ctx context.Context, scope Scope, filter Filter) ([]*Record, error)
	VectorQuery(ctx context.Context, scope Scope, query VectorQuery) ([]Scored, error)
	AttachEmbedding(ctx context.Context, id string, vector []float32) error
	AssignEpisode(ctx context.Context, id, episodeID string) error
	Unembedded(ctx context.Context, limit int) ([]*Record, error)
}

/*
EpisodeStore persists episodes. TouchEpisode is an advance-if-greater update
on EndTime and returns the episode as stored afterwards.
*/
type EpisodeStore interface {
	LatestEpisode(ctx context.Context, scope Scope) (*Episode, error)
	CreateEpisode(ctx context.Context, episode *Episode) error
	GetEpisode(ctx context.Context, id string) (*Episode, error)
	TouchEpisode(ctx context.Context, id string, at time.Time) (*Episode, error)
}

/*
VectorIndex is an external nearest-neighbour index kept next to a Store.
Search returns ids with cosine similarity, best first, already restricted to
the scope and, when set, the domain.
*/
type VectorIndex interface {
	Upsert(ctx context.Context, record *Record) error
	Search(ctx context.Context, scope Scope, query IndexQuery) ([]IndexHit, error)
}

type IndexQuery struct {
	Vector []float32
	Limit  int
	Domain string
}

type IndexHit struct {
	ID         string
	Similarity float64
}

/*
Backend is what the rest of the engine needs from persistence.
*/
type Backend interface {
	Store
	EpisodeStore
}
