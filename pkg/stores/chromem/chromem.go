package chromem

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/memory"
)

/*
Index is an embedded memory.VectorIndex with one collection per scope. It
needs no external service, which makes it the default index for single-node
deployments.
*/
type Index struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

/*
New returns an index that lives only as long as the process.
*/
func New() *Index {
	return &Index{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

/*
Open returns an index persisted under dir. Collections written by an earlier
process are loaded back, so vectors survive restarts alongside the record
store.
*/
func Open(dir string) (*Index, error) {
	db, err := chromem.NewPersistentDB(dir, false)

	if err != nil {
		return nil, errors.Wrap(errors.KindFatalConfig, err, "open chromem index "+dir)
	}

	return &Index{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

/*
Empty reports whether no collection holds a single vector.
*/
func (index *Index) Empty() bool {
	for _, col := range index.db.ListCollections() {
		if col.Count() > 0 {
			return false
		}
	}

	return true
}

func (index *Index) collection(scope memory.Scope) (*chromem.Collection, error) {
	key := scope.Key()

	index.mu.RLock()
	col, ok := index.collections[key]
	index.mu.RUnlock()

	if ok {
		return col, nil
	}

	index.mu.Lock()
	defer index.mu.Unlock()

	if col, ok := index.collections[key]; ok {
		return col, nil
	}

	col, err := index.db.GetOrCreateCollection(
		fmt.Sprintf("scope_%s_%s", scope.User, scope.Persona),
		map[string]string{"user": scope.User, "persona": scope.Persona},
		nil,
	)

	if err != nil {
		return nil, errors.Wrap(errors.KindTransient, err, "create chromem collection")
	}

	index.collections[key] = col
	return col, nil
}

func (index *Index) Upsert(ctx context.Context, record *memory.Record) error {
	if len(record.Embedding) == 0 {
		return nil
	}

	col, err := index.collection(record.Scope)

	if err != nil {
		return err
	}

	return col.AddDocument(ctx, chromem.Document{
		ID:        record.ID,
		Content:   record.Content,
		Embedding: append([]float32(nil), record.Embedding...),
		Metadata:  map[string]string{"domain": record.Domain},
	})
}

/*
Search clamps the result count to the collection size, chromem rejects
larger requests.
*/
func (index *Index) Search(ctx context.Context, scope memory.Scope, query memory.IndexQuery) ([]memory.IndexHit, error) {
	col, err := index.collection(scope)

	if err != nil {
		return nil, err
	}

	limit := query.Limit
	count := col.Count()

	if count == 0 || limit <= 0 {
		return nil, nil
	}

	if limit > count {
		limit = count
	}

	var where map[string]string

	if query.Domain != "" {
		where = map[string]string{"domain": query.Domain}
	}

	results, err := col.QueryEmbedding(ctx, query.Vector, limit, where, nil)

	if err != nil {
		return nil, errors.Wrap(errors.KindTransient, err, "chromem query")
	}

	hits := make([]memory.IndexHit, 0, len(results))

	for _, result := range results {
		hits = append(hits, memory.IndexHit{ID: result.ID, Similarity: float64(result.Similarity)})
	}

	return hits, nil
}
