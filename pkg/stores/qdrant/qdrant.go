package qdrant

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	qd "github.com/qdrant/go-client/qdrant"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/memory"
)

type Config struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"apiKey"`
	UseTLS     bool   `mapstructure:"useTLS"`
	Collection string `mapstructure:"collection"`
}

/*
Points is the part of the Qdrant client the index talks to.
*/
type Points interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, request *qd.CreateCollection) error
	Upsert(ctx context.Context, request *qd.UpsertPoints) (*qd.UpdateResult, error)
	Query(ctx context.Context, request *qd.QueryPoints) ([]*qd.ScoredPoint, error)
}

/*
Client is a memory.VectorIndex over a single Qdrant collection. Points carry
the scope in their payload and every search filters on it.
*/
type Client struct {
	points     Points
	collection string
	closer     func() error
	mu         sync.Mutex
	ensured    bool
}

/*
New dials Qdrant over gRPC. The connection is lazy, so an unreachable server
surfaces on the first upsert or search rather than here.
*/
func New(cfg Config) (*Client, error) {
	conn, err := qd.NewClient(&qd.Config{
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 cfg.UseTLS,
		SkipCompatibilityCheck: true,
	})

	if err != nil {
		return nil, errors.Wrap(errors.KindFatalConfig, err, "qdrant client")
	}

	client := NewWithPoints(conn, cfg.Collection)
	client.closer = conn.Close

	return client, nil
}

func NewWithPoints(points Points, collection string) *Client {
	if collection == "" {
		collection = "mnemo"
	}

	return &Client{points: points, collection: collection}
}

func (client *Client) Close() error {
	if client.closer == nil {
		return nil
	}

	return client.closer()
}

/*
PointID maps a record id to the UUID form Qdrant requires. ULIDs are 128
bits, so the mapping is lossless. Other ids are hashed.
*/
func PointID(id string) string {
	if parsed, err := ulid.ParseStrict(id); err == nil {
		return uuid.UUID(parsed).String()
	}

	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (client *Client) Upsert(ctx context.Context, record *memory.Record) error {
	if len(record.Embedding) == 0 {
		return nil
	}

	if err := client.ensure(ctx, len(record.Embedding)); err != nil {
		return err
	}

	_, err := client.points.Upsert(ctx, &qd.UpsertPoints{
		CollectionName: client.collection,
		Wait:           qd.PtrOf(true),
		Points: []*qd.PointStruct{{
			Id:      qd.NewID(PointID(record.ID)),
			Vectors: qd.NewVectorsDense(record.Embedding),
			Payload: qd.NewValueMap(map[string]any{
				"record_id":  record.ID,
				"user":       record.Scope.User,
				"persona":    record.Scope.Persona,
				"domain":     record.Domain,
				"importance": record.Importance,
			}),
		}},
	})

	if err != nil {
		return errors.Wrap(errors.KindTransient, err, "qdrant upsert")
	}

	return nil
}

/*
ensure creates the collection with cosine distance the first time a vector
of known size arrives.
*/
func (client *Client) ensure(ctx context.Context, dimension int) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	if client.ensured {
		return nil
	}

	exists, err := client.points.CollectionExists(ctx, client.collection)

	if err != nil {
		return errors.Wrap(errors.KindTransient, err, "qdrant collection check")
	}

	if !exists {
		err = client.points.CreateCollection(ctx, &qd.CreateCollection{
			CollectionName: client.collection,
			VectorsConfig: qd.NewVectorsConfig(&qd.VectorParams{
				Size:     uint64(dimension),
				Distance: qd.Distance_Cosine,
			}),
		})

		if err != nil {
			return errors.Wrap(errors.KindTransient, err, "qdrant create collection")
		}
	}

	client.ensured = true
	return nil
}

func (client *Client) exists(ctx context.Context) (bool, error) {
	client.mu.Lock()
	defer client.mu.Unlock()

	if client.ensured {
		return true, nil
	}

	exists, err := client.points.CollectionExists(ctx, client.collection)

	if err != nil {
		return false, errors.Wrap(errors.KindTransient, err, "qdrant collection check")
	}

	client.ensured = exists
	return exists, nil
}

func (client *Client) Search(ctx context.Context, scope memory.Scope, query memory.IndexQuery) ([]memory.IndexHit, error) {
	if query.Limit <= 0 {
		return nil, nil
	}

	exists, err := client.exists(ctx)

	if err != nil {
		return nil, err
	}

	if !exists {
		// Nothing has been indexed yet.
		return nil, nil
	}

	must := []*qd.Condition{
		qd.NewMatch("user", scope.User),
		qd.NewMatch("persona", scope.Persona),
	}

	if query.Domain != "" {
		must = append(must, qd.NewMatch("domain", query.Domain))
	}

	points, err := client.points.Query(ctx, &qd.QueryPoints{
		CollectionName: client.collection,
		Query:          qd.NewQuery(query.Vector...),
		Filter:         &qd.Filter{Must: must},
		Limit:          qd.PtrOf(uint64(query.Limit)),
		WithPayload:    qd.NewWithPayloadInclude("record_id"),
	})

	if err != nil {
		return nil, errors.Wrap(errors.KindTransient, err, "qdrant search")
	}

	hits := make([]memory.IndexHit, 0, len(points))

	for _, point := range points {
		id := point.GetPayload()["record_id"].GetStringValue()

		if id == "" {
			continue
		}

		hits = append(hits, memory.IndexHit{ID: id, Similarity: float64(point.GetScore())})
	}

	return hits, nil
}
