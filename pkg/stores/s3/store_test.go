package s3

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/mnemo/pkg/memory"
)

type fakeWriter struct {
	bucket string
	key    string
	body   []byte
}

func (writer *fakeWriter) Put(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	buf, err := io.ReadAll(body)
	writer.bucket, writer.key, writer.body = bucket, key, buf
	return err
}

func TestExporter(t *testing.T) {
	Convey("Given a store with records and an exporter", t, func() {
		ctx := context.Background()
		scope := memory.Scope{User: "u1", Persona: "p1"}
		store := memory.NewInMemoryStore()

		store.Append(ctx, &memory.Record{Scope: scope, Role: memory.RoleUser, Content: "first"})
		store.Append(ctx, &memory.Record{Scope: scope, Role: memory.RoleAssistant, Content: "second"})

		writer := &fakeWriter{}
		exporter := NewExporter(writer, store, "mnemo")
		exporter.now = func() time.Time { return time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC) }

		key, count, err := exporter.Export(ctx, scope)

		Convey("It should write one JSON line per record, oldest first", func() {
			So(err, ShouldBeNil)
			So(count, ShouldEqual, 2)
			So(key, ShouldEqual, "snapshots/u1/p1/20250506T070809Z.jsonl")
			So(writer.bucket, ShouldEqual, "mnemo")

			var lines []memory.Record
			scanner := bufio.NewScanner(bytes.NewReader(writer.body))

			for scanner.Scan() {
				var record memory.Record
				So(json.Unmarshal(scanner.Bytes(), &record), ShouldBeNil)
				lines = append(lines, record)
			}

			So(len(lines), ShouldEqual, 2)
			So(lines[0].Content, ShouldEqual, "first")
		})
	})
}
