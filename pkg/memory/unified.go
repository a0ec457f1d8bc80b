package memory

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

/*
UnifiedStore pairs a record Store with an external VectorIndex. Embeddings are
written to both, and vector queries are answered by the index and re-ranked
against the authoritative records.
*/
type UnifiedStore struct {
	Backend
	index     VectorIndex
	overfetch int
}

type UnifiedStoreOption func(*UnifiedStore)

func NewUnifiedStore(backend Backend, index VectorIndex, options ...UnifiedStoreOption) *UnifiedStore {
	store := &UnifiedStore{
		Backend:   backend,
		index:     index,
		overfetch: 4,
	}

	for _, option := range options {
		option(store)
	}

	return store
}

/*
WithOverfetch sets how many index candidates are pulled per requested result.
The index orders by raw similarity, so a wider pool lets recency and
importance reorder the final page.
*/
func WithOverfetch(factor int) UnifiedStoreOption {
	return func(store *UnifiedStore) {
		if factor > 0 {
			store.overfetch = factor
		}
	}
}

func (store *UnifiedStore) Append(ctx context.Context, record *Record) (string, error) {
	id, err := store.Backend.Append(ctx, record)

	if err != nil {
		return "", err
	}

	if len(record.Embedding) > 0 {
		store.upsert(ctx, id)
	}

	return id, nil
}

func (store *UnifiedStore) AttachEmbedding(ctx context.Context, id string, vector []float32) error {
	if err := store.Backend.AttachEmbedding(ctx, id, vector); err != nil {
		return err
	}

	store.upsert(ctx, id)
	return nil
}

/*
upsert mirrors a record into the index. The record store stays authoritative,
so index failures are logged and left for the next backfill sweep to repair.
*/
func (store *UnifiedStore) upsert(ctx context.Context, id string) {
	record, err := store.Backend.Get(ctx, id)

	if err != nil {
		log.Warn("failed to reload record for index", "id", id, "error", err)
		return
	}

	if err := store.index.Upsert(ctx, record); err != nil {
		log.Warn("failed to upsert record into vector index", "id", id, "error", err)
	}
}

func (store *UnifiedStore) VectorQuery(ctx context.Context, scope Scope, query VectorQuery) ([]Scored, error) {
	pool := query.Limit * store.overfetch

	if pool <= 0 {
		pool = 50
	}

	hits, err := store.index.Search(ctx, scope, IndexQuery{
		Vector: query.Vector,
		Limit:  pool,
		Domain: query.Domain,
	})

	if err != nil {
		return nil, err
	}

	candidates := make([]*Record, 0, len(hits))

	for _, hit := range hits {
		if hit.Similarity <= query.Threshold {
			continue
		}

		record, err := store.Backend.Get(ctx, hit.ID)

		if err != nil {
			log.Debug("index hit without record", "id", hit.ID, "error", err)
			continue
		}

		if record.Scope != scope || (query.Domain != "" && record.Domain != query.Domain) {
			continue
		}

		candidates = append(candidates, record)
	}

	return RankVector(candidates, query), nil
}

/*
Reindex pushes every embedded record of a scope into the index.
*/
func (store *UnifiedStore) Reindex(ctx context.Context, scope Scope) (int, error) {
	records, err := store.Backend.Query(ctx, scope, Filter{Order: OrderRecent})

	if err != nil {
		return 0, err
	}

	count := 0
	started := time.Now()

	for _, record := range records {
		if len(record.Embedding) == 0 {
			continue
		}

		if err := store.index.Upsert(ctx, record); err != nil {
			return count, err
		}

		count++
	}

	log.Info("reindexed scope", "user", scope.User, "persona", scope.Persona, "records", count, "took", time.Since(started))
	return count, nil
}

/*
ReindexAll rebuilds the index for every scope. It runs at startup when the
index comes up empty next to a store that already holds embedded records.
*/
func (store *UnifiedStore) ReindexAll(ctx context.Context, scopes []Scope) (int, error) {
	total := 0

	for _, scope := range scopes {
		count, err := store.Reindex(ctx, scope)
		total += count

		if err != nil {
			return total, err
		}
	}

	return total, nil
}
