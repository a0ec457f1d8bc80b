package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/mnemo/pkg/memory"
)

type ObjectWriter interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64) error
}

type Source interface {
	Query(ctx context.Context, scope memory.Scope, filter memory.Filter) ([]*memory.Record, error)
}

/*
Exporter writes point-in-time JSONL snapshots of a scope's records to object
storage. One line per record, oldest first, embeddings included.
*/
type Exporter struct {
	writer ObjectWriter
	source Source
	bucket string
	now    func() time.Time
}

func NewExporter(writer ObjectWriter, source Source, bucket string) *Exporter {
	return &Exporter{
		writer: writer,
		source: source,
		bucket: bucket,
		now:    time.Now,
	}
}

/*
Export snapshots one scope and returns the object key it was written to.
*/
func (exporter *Exporter) Export(ctx context.Context, scope memory.Scope) (string, int, error) {
	records, err := exporter.source.Query(ctx, scope, memory.Filter{Order: memory.OrderRecent})

	if err != nil {
		return "", 0, err
	}

	buf := bytes.NewBuffer(nil)
	encoder := json.NewEncoder(buf)

	for i := len(records) - 1; i >= 0; i-- {
		if err := encoder.Encode(records[i]); err != nil {
			return "", 0, err
		}
	}

	key := SnapshotKey(scope, exporter.now())

	if err := exporter.writer.Put(ctx, exporter.bucket, key, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		log.Error("failed to write snapshot", "key", key, "error", err)
		return "", 0, err
	}

	log.Info("exported scope", "key", key, "records", len(records))
	return key, len(records), nil
}

func SnapshotKey(scope memory.Scope, at time.Time) string {
	return fmt.Sprintf("snapshots/%s/%s/%s.jsonl", scope.User, scope.Persona, at.UTC().Format("20060102T150405Z"))
}
