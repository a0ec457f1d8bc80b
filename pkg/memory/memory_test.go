package memory

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/mnemo/pkg/errors"
)

var testScope = Scope{User: "u1", Persona: "p1"}

func fixedNow(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestPrepare(t *testing.T) {
	Convey("Given records to validate", t, func() {
		Convey("Empty content should be rejected as validation", func() {
			err := Prepare(&Record{Scope: testScope, Role: RoleUser, Content: "   "})
			So(err, ShouldNotBeNil)
			So(errors.KindOf(err), ShouldEqual, errors.KindValidation)
		})

		Convey("Missing persona scope should be rejected", func() {
			err := Prepare(&Record{Scope: Scope{User: "u1"}, Role: RoleUser, Content: "hi"})
			So(errors.Is(err, errors.ErrInvalidRecord), ShouldBeTrue)
		})

		Convey("Zero importance should default to 5", func() {
			record := &Record{Scope: testScope, Role: RoleAssistant, Content: "hi"}
			So(Prepare(record), ShouldBeNil)
			So(record.Importance, ShouldEqual, DefaultImportance)
		})

		Convey("Out of range importance should be rejected", func() {
			So(Prepare(&Record{Scope: testScope, Role: RoleUser, Content: "hi", Importance: 11}), ShouldNotBeNil)
		})
	})
}

func TestInMemoryStoreAppendAndQuery(t *testing.T) {
	Convey("Given an in-memory store with a few records", t, func() {
		ctx := context.Background()
		store := NewInMemoryStore(WithInMemoryClock(fixedNow(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))))

		low := &Record{Scope: testScope, Role: RoleUser, Content: "I like hiking in the Alps", Importance: 3, Tags: []string{"travel"}}
		high := &Record{Scope: testScope, Role: RoleUser, Content: "The project codename is Aurora-7", Importance: 9, Domain: "work"}
		other := &Record{Scope: Scope{User: "u2", Persona: "p1"}, Role: RoleUser, Content: "codename for u2"}

		for _, r := range []*Record{low, high, other} {
			_, err := store.Append(ctx, r)
			So(err, ShouldBeNil)
		}

		Convey("Ids and strictly increasing timestamps should be assigned", func() {
			So(low.ID, ShouldNotBeEmpty)
			So(high.CreatedAt.After(low.CreatedAt), ShouldBeTrue)
		})

		Convey("Keyword queries should OR substrings case-insensitively within scope", func() {
			out, err := store.Query(ctx, testScope, Filter{Keywords: []string{"CODENAME", "alps"}})
			So(err, ShouldBeNil)
			So(len(out), ShouldEqual, 2)
			So(out[0].ID, ShouldEqual, high.ID)
		})

		Convey("Domain and tag filters should narrow results", func() {
			out, _ := store.Query(ctx, testScope, Filter{Domain: "work"})
			So(len(out), ShouldEqual, 1)

			out, _ = store.Query(ctx, testScope, Filter{Tags: []string{"TRAVEL"}})
			So(len(out), ShouldEqual, 1)
			So(out[0].ID, ShouldEqual, low.ID)
		})

		Convey("Recent ordering should ignore importance", func() {
			out, _ := store.Query(ctx, testScope, Filter{Order: OrderRecent, Limit: 1})
			So(out[0].ID, ShouldEqual, high.ID)

			out, _ = store.Query(ctx, testScope, Filter{Order: OrderRanked})
			So(out[0].ID, ShouldEqual, high.ID)
			So(out[1].ID, ShouldEqual, low.ID)
		})

		Convey("Returned records should be copies", func() {
			out, _ := store.Query(ctx, testScope, Filter{Limit: 1})
			out[0].Content = "mutated"
			again, _ := store.Get(ctx, out[0].ID)
			So(again.Content, ShouldNotEqual, "mutated")
		})
	})
}

func TestInMemoryStoreVectors(t *testing.T) {
	Convey("Given embedded and unembedded records", t, func() {
		ctx := context.Background()
		store := NewInMemoryStore()

		embedded := &Record{Scope: testScope, Role: RoleUser, Content: "embedded"}
		plain := &Record{Scope: testScope, Role: RoleUser, Content: "plain"}
		store.Append(ctx, embedded)
		store.Append(ctx, plain)

		vector := []float32{0.3, 0.4, 0.5}
		So(store.AttachEmbedding(ctx, embedded.ID, vector), ShouldBeNil)

		Convey("Querying with the attached vector at threshold 0 should return it with similarity 1", func() {
			out, err := store.VectorQuery(ctx, testScope, VectorQuery{Vector: vector, Threshold: 0, Limit: 5})
			So(err, ShouldBeNil)
			So(len(out), ShouldEqual, 1)
			So(out[0].Record.ID, ShouldEqual, embedded.ID)
			So(out[0].Similarity, ShouldAlmostEqual, 1.0, 1e-6)
		})

		Convey("Unembedded records should be listed for backfill", func() {
			out, _ := store.Unembedded(ctx, 10)
			So(len(out), ShouldEqual, 1)
			So(out[0].ID, ShouldEqual, plain.ID)
		})

		Convey("A custom scorer should drive ordering", func() {
			other := &Record{Scope: testScope, Role: RoleUser, Content: "other", Importance: 10}
			store.Append(ctx, other)
			store.AttachEmbedding(ctx, other.ID, []float32{0.3, 0.4, 0.45})

			out, _ := store.VectorQuery(ctx, testScope, VectorQuery{
				Vector: vector,
				Score:  func(r *Record, sim float64) float64 { return sim * float64(r.Importance) },
			})
			So(out[0].Record.ID, ShouldEqual, other.ID)
		})

		Convey("Attaching to an unknown id should be not found", func() {
			So(errors.Is(store.AttachEmbedding(ctx, "missing", vector), errors.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestInMemoryStoreEpisodes(t *testing.T) {
	Convey("Given episodes in the store", t, func() {
		ctx := context.Background()
		store := NewInMemoryStore()
		start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

		episode := &Episode{Scope: testScope, StartTime: start, EndTime: start}
		So(store.CreateEpisode(ctx, episode), ShouldBeNil)

		Convey("Touch should only ever advance EndTime", func() {
			out, err := store.TouchEpisode(ctx, episode.ID, start.Add(time.Hour))
			So(err, ShouldBeNil)
			So(out.EndTime, ShouldEqual, start.Add(time.Hour))

			out, _ = store.TouchEpisode(ctx, episode.ID, start.Add(time.Minute))
			So(out.EndTime, ShouldEqual, start.Add(time.Hour))
		})

		Convey("Latest should resolve by most recent EndTime", func() {
			newer := &Episode{Scope: testScope, StartTime: start.Add(5 * time.Hour), EndTime: start.Add(5 * time.Hour)}
			store.CreateEpisode(ctx, newer)

			latest, err := store.LatestEpisode(ctx, testScope)
			So(err, ShouldBeNil)
			So(latest.ID, ShouldEqual, newer.ID)
		})

		Convey("An episode should be assignable to a record only once", func() {
			record := &Record{Scope: testScope, Role: RoleUser, Content: "hello"}
			store.Append(ctx, record)

			So(store.AssignEpisode(ctx, record.ID, episode.ID), ShouldBeNil)
			So(store.AssignEpisode(ctx, record.ID, episode.ID), ShouldBeNil)
			So(errors.Is(store.AssignEpisode(ctx, record.ID, "other"), errors.ErrEpisodeAssigned), ShouldBeTrue)
		})

		Convey("Latest for an unknown scope should be nil without error", func() {
			latest, err := store.LatestEpisode(ctx, Scope{User: "x", Persona: "y"})
			So(err, ShouldBeNil)
			So(latest, ShouldBeNil)
		})
	})
}

func TestVectorHelpers(t *testing.T) {
	Convey("Given vector helpers", t, func() {
		Convey("Encoding should round-trip", func() {
			in := []float32{1.5, -2.25, 0}
			out, err := DecodeVector(EncodeVector(in))
			So(err, ShouldBeNil)
			So(out, ShouldResemble, in)
		})

		Convey("Corrupt blobs should error", func() {
			_, err := DecodeVector([]byte{1, 2, 3})
			So(err, ShouldNotBeNil)
		})

		Convey("Mismatched dimensions should score zero", func() {
			So(CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}), ShouldEqual, 0)
		})
	})
}
