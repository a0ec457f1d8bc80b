package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/theapemachine/mnemo/pkg/errors"
)

/*
InMemoryStore keeps records and episodes in process memory. It backs tests
and the "memory" store driver.
*/
type InMemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*Record
	order    []string
	episodes map[string]*Episode
	clock    *Clock
}

type InMemoryStoreOption func(*InMemoryStore)

func NewInMemoryStore(options ...InMemoryStoreOption) *InMemoryStore {
	store := &InMemoryStore{
		records:  make(map[string]*Record),
		episodes: make(map[string]*Episode),
		clock:    NewClock(time.Now),
	}

	for _, option := range options {
		option(store)
	}

	return store
}

func WithInMemoryClock(now func() time.Time) InMemoryStoreOption {
	return func(store *InMemoryStore) {
		store.clock = NewClock(now)
	}
}

func (store *InMemoryStore) Append(ctx context.Context, record *Record) (string, error) {
	if err := Prepare(record); err != nil {
		return "", err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	stored := record.Clone()
	stored.ID = ulid.Make().String()
	stored.CreatedAt = store.clock.Next()

	store.records[stored.ID] = stored
	store.order = append(store.order, stored.ID)

	record.ID = stored.ID
	record.CreatedAt = stored.CreatedAt

	return stored.ID, nil
}

func (store *InMemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	record, ok := store.records[id]

	if !ok {
		return nil, errors.NewError(errors.ErrNotFound, "record "+id)
	}

	return record.Clone(), nil
}

func (store *InMemoryStore) Query(ctx context.Context, scope Scope, filter Filter) ([]*Record, error) {
	store.mu.RLock()
	out := make([]*Record, 0)

	for _, id := range store.order {
		record := store.records[id]

		if record.Scope == scope && filter.Matches(record) {
			out = append(out, record.Clone())
		}
	}
	store.mu.RUnlock()

	SortRecords(out, filter.Order)

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

func (store *InMemoryStore) VectorQuery(ctx context.Context, scope Scope, query VectorQuery) ([]Scored, error) {
	store.mu.RLock()
	candidates := make([]*Record, 0)

	for _, id := range store.order {
		record := store.records[id]

		if record.Scope != scope || len(record.Embedding) == 0 {
			continue
		}

		if query.Domain != "" && record.Domain != query.Domain {
			continue
		}

		candidates = append(candidates, record.Clone())
	}
	store.mu.RUnlock()

	return RankVector(candidates, query), nil
}

func (store *InMemoryStore) AttachEmbedding(ctx context.Context, id string, vector []float32) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	record, ok := store.records[id]

	if !ok {
		return errors.NewError(errors.ErrNotFound, "record "+id)
	}

	record.Embedding = append([]float32(nil), vector...)
	return nil
}

func (store *InMemoryStore) AssignEpisode(ctx context.Context, id, episodeID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	record, ok := store.records[id]

	if !ok {
		return errors.NewError(errors.ErrNotFound, "record "+id)
	}

	if record.EpisodeID != "" && record.EpisodeID != episodeID {
		return errors.NewError(errors.ErrEpisodeAssigned, "record "+id)
	}

	record.EpisodeID = episodeID
	return nil
}

func (store *InMemoryStore) Unembedded(ctx context.Context, limit int) ([]*Record, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	out := make([]*Record, 0)

	for _, id := range store.order {
		if record := store.records[id]; len(record.Embedding) == 0 {
			out = append(out, record.Clone())

			if limit > 0 && len(out) == limit {
				break
			}
		}
	}

	return out, nil
}

func (store *InMemoryStore) LatestEpisode(ctx context.Context, scope Scope) (*Episode, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	var candidates []*Episode

	for _, episode := range store.episodes {
		if episode.Scope == scope {
			candidates = append(candidates, episode)
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].EndTime.Equal(candidates[j].EndTime) {
			return candidates[i].EndTime.After(candidates[j].EndTime)
		}

		return candidates[i].ID > candidates[j].ID
	})

	return candidates[0].Clone(), nil
}

func (store *InMemoryStore) CreateEpisode(ctx context.Context, episode *Episode) error {
	if episode == nil || !episode.Scope.Valid() {
		return errors.Wrap(errors.KindValidation, errors.ErrInvalidRecord, "episode scope is required")
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	if episode.ID == "" {
		episode.ID = ulid.Make().String()
	}

	store.episodes[episode.ID] = episode.Clone()
	return nil
}

func (store *InMemoryStore) GetEpisode(ctx context.Context, id string) (*Episode, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	episode, ok := store.episodes[id]

	if !ok {
		return nil, errors.NewError(errors.ErrNotFound, "episode "+id)
	}

	return episode.Clone(), nil
}

func (store *InMemoryStore) TouchEpisode(ctx context.Context, id string, at time.Time) (*Episode, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	episode, ok := store.episodes[id]

	if !ok {
		return nil, errors.NewError(errors.ErrNotFound, "episode "+id)
	}

	if at.After(episode.EndTime) {
		episode.EndTime = at
	}

	return episode.Clone(), nil
}
