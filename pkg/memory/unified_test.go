package memory

import (
	"context"
	"sort"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeIndex struct {
	mu      sync.Mutex
	vectors map[string]*Record
	queries []IndexQuery
	fail    error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{vectors: make(map[string]*Record)}
}

func (index *fakeIndex) Upsert(ctx context.Context, record *Record) error {
	index.mu.Lock()
	defer index.mu.Unlock()

	if index.fail != nil {
		return index.fail
	}

	index.vectors[record.ID] = record.Clone()
	return nil
}

func (index *fakeIndex) Search(ctx context.Context, scope Scope, query IndexQuery) ([]IndexHit, error) {
	index.mu.Lock()
	defer index.mu.Unlock()

	index.queries = append(index.queries, query)
	hits := make([]IndexHit, 0)

	for id, record := range index.vectors {
		if record.Scope != scope || (query.Domain != "" && record.Domain != query.Domain) {
			continue
		}

		hits = append(hits, IndexHit{ID: id, Similarity: CosineSimilarity(query.Vector, record.Embedding)})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })

	if len(hits) > query.Limit {
		hits = hits[:query.Limit]
	}

	return hits, nil
}

func TestUnifiedStore(t *testing.T) {
	Convey("Given a unified store over an in-memory backend and a fake index", t, func() {
		ctx := context.Background()
		backend := NewInMemoryStore()
		index := newFakeIndex()
		store := NewUnifiedStore(backend, index, WithOverfetch(2))

		first := &Record{Scope: testScope, Role: RoleUser, Content: "first", Embedding: []float32{1, 0, 0}}
		second := &Record{Scope: testScope, Role: RoleUser, Content: "second"}

		_, err := store.Append(ctx, first)
		So(err, ShouldBeNil)
		_, err = store.Append(ctx, second)
		So(err, ShouldBeNil)

		Convey("Embedded appends should be mirrored into the index", func() {
			So(index.vectors, ShouldContainKey, first.ID)
			So(index.vectors, ShouldNotContainKey, second.ID)
		})

		Convey("Attaching an embedding should mirror it too", func() {
			So(store.AttachEmbedding(ctx, second.ID, []float32{0, 1, 0}), ShouldBeNil)
			So(index.vectors, ShouldContainKey, second.ID)
		})

		Convey("Vector queries should re-rank index hits from authoritative records", func() {
			store.AttachEmbedding(ctx, second.ID, []float32{0.9, 0.1, 0})

			out, err := store.VectorQuery(ctx, testScope, VectorQuery{Vector: []float32{1, 0, 0}, Limit: 1})
			So(err, ShouldBeNil)
			So(len(out), ShouldEqual, 1)
			So(out[0].Record.ID, ShouldEqual, first.ID)
			So(out[0].Record.Content, ShouldEqual, "first")
		})

		Convey("Hits at or below threshold should be dropped", func() {
			store.AttachEmbedding(ctx, second.ID, []float32{0, 1, 0})

			out, _ := store.VectorQuery(ctx, testScope, VectorQuery{Vector: []float32{1, 0, 0}, Threshold: 0})
			So(len(out), ShouldEqual, 1)
		})

		Convey("Index failures should not fail the append", func() {
			index.fail = context.DeadlineExceeded

			third := &Record{Scope: testScope, Role: RoleUser, Content: "third", Embedding: []float32{0, 0, 1}}
			_, err := store.Append(ctx, third)
			So(err, ShouldBeNil)

			stored, _ := backend.Get(ctx, third.ID)
			So(stored.Content, ShouldEqual, "third")
		})

		Convey("Reindex should push every embedded record", func() {
			index.vectors = make(map[string]*Record)

			count, err := store.Reindex(ctx, testScope)
			So(err, ShouldBeNil)
			So(count, ShouldEqual, 1)
		})

		Convey("ReindexAll should refill an emptied index for every scope", func() {
			other := Scope{User: "someone", Persona: "else"}
			store.Append(ctx, &Record{Scope: other, Role: RoleUser, Content: "theirs", Embedding: []float32{1, 0, 0}})
			index.vectors = make(map[string]*Record)

			count, err := store.ReindexAll(ctx, []Scope{testScope, other})
			So(err, ShouldBeNil)
			So(count, ShouldEqual, 2)

			out, _ := store.VectorQuery(ctx, testScope, VectorQuery{Vector: []float32{1, 0, 0}, Limit: 5})
			So(len(out), ShouldEqual, 1)
			So(out[0].Record.ID, ShouldEqual, first.ID)
		})

		Convey("The domain should reach the index so other domains cannot crowd the pool", func() {
			for i := 0; i < 6; i++ {
				store.Append(ctx, &Record{
					Scope: testScope, Role: RoleUser, Content: "noise", Domain: "personal",
					Embedding: []float32{1, 0, 0},
				})
			}

			fact := &Record{
				Scope: testScope, Role: RoleUser, Content: "fact", Domain: "universal",
				Embedding: []float32{0.8, 0.2, 0},
			}
			store.Append(ctx, fact)

			out, err := store.VectorQuery(ctx, testScope, VectorQuery{
				Vector: []float32{1, 0, 0}, Limit: 1, Domain: "universal",
			})
			So(err, ShouldBeNil)
			So(len(out), ShouldEqual, 1)
			So(out[0].Record.ID, ShouldEqual, fact.ID)
			So(index.queries[len(index.queries)-1].Domain, ShouldEqual, "universal")
		})
	})
}
