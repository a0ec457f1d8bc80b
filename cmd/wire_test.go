package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/mnemo/pkg/memory"
	"github.com/theapemachine/mnemo/pkg/stores/chromem"
)

func closeAll(closers []io.Closer) {
	for _, closer := range closers {
		closer.Close()
	}
}

func TestOpenStore(t *testing.T) {
	Convey("Given a sqlite store with the embedded chromem index", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		scope := memory.Scope{User: "u1", Persona: "p1"}
		vector := []float32{0.3, 0.4, 0.5}

		cfg := &Config{Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dir, "mnemo.db"),
			Index:  "chromem",
		}}

		store, closers, err := openStore(ctx, cfg)
		So(err, ShouldBeNil)

		id, err := store.Append(ctx, &memory.Record{
			Scope: scope, Role: memory.RoleUser, Content: "I moved to Lisbon last spring", Embedding: vector,
		})
		So(err, ShouldBeNil)
		closeAll(closers)

		So(cfg.Store.VectorPath(), ShouldEqual, filepath.Join(dir, "vectors"))

		Convey("The index should be written next to the database", func() {
			index, err := chromem.Open(cfg.Store.VectorPath())
			So(err, ShouldBeNil)
			So(index.Empty(), ShouldBeFalse)
		})

		Convey("Semantic recall should work again after a restart", func() {
			store, closers, err := openStore(ctx, cfg)
			So(err, ShouldBeNil)
			defer closeAll(closers)

			hits, err := store.VectorQuery(ctx, scope, memory.VectorQuery{Vector: vector, Limit: 5})
			So(err, ShouldBeNil)
			So(len(hits), ShouldEqual, 1)
			So(hits[0].Record.ID, ShouldEqual, id)
		})

		Convey("A deleted index directory should be rebuilt on startup", func() {
			So(os.RemoveAll(cfg.Store.VectorPath()), ShouldBeNil)

			store, closers, err := openStore(ctx, cfg)
			So(err, ShouldBeNil)
			defer closeAll(closers)

			hits, err := store.VectorQuery(ctx, scope, memory.VectorQuery{Vector: vector, Limit: 5})
			So(err, ShouldBeNil)
			So(len(hits), ShouldEqual, 1)
			So(hits[0].Record.ID, ShouldEqual, id)

			index, err := chromem.Open(cfg.Store.VectorPath())
			So(err, ShouldBeNil)
			So(index.Empty(), ShouldBeFalse)
		})
	})

	Convey("Given the in-memory driver", t, func() {
		store, closers, err := openStore(context.Background(), &Config{Store: StoreConfig{Driver: "memory", Index: "chromem"}})

		Convey("The index should stay in-process with nothing to close", func() {
			So(err, ShouldBeNil)
			So(store, ShouldNotBeNil)
			So(closers, ShouldBeEmpty)
		})
	})

	Convey("Given an unknown index", t, func() {
		_, closers, err := openStore(context.Background(), &Config{Store: StoreConfig{Driver: "memory", Index: "faiss"}})
		defer closeAll(closers)

		So(err, ShouldNotBeNil)
	})
}
