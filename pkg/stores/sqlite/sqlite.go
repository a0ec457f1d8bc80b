package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/memory"
	msqlite "modernc.org/sqlite"
)

/*
fold lowercases with Go's Unicode rules, the same as memory.Filter. The
builtin lower() folds ASCII only.
*/
func init() {
	msqlite.MustRegisterDeterministicScalarFunction("fold", 1, func(ctx *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		switch value := args[0].(type) {
		case string:
			return strings.ToLower(value), nil
		case []byte:
			return strings.ToLower(string(value)), nil
		default:
			return value, nil
		}
	})
}

/*
Store is the durable memory.Backend. Timestamps are unix nanoseconds and
embeddings little-endian float32 blobs, vector search is a brute-force scan
of the scope.
*/
type Store struct {
	db    *sql.DB
	clock *memory.Clock
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(store *Store) {
		store.clock = memory.NewClock(now)
	}
}

/*
Open creates or opens the database at path. ":memory:" is accepted for tests.
*/
func Open(path string, options ...Option) (*Store, error) {
	dsn := path

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(errors.KindFatalConfig, err, "create db dir")
		}

		dsn = path + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)

	if err != nil {
		return nil, errors.Wrap(errors.KindFatalConfig, err, "open db")
	}

	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, clock: memory.NewClock(time.Now)}

	for _, option := range options {
		option(store)
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.KindFatalConfig, err, "migrate")
	}

	var last sql.NullInt64

	if err := db.QueryRow(`SELECT MAX(created_at) FROM memories`).Scan(&last); err == nil && last.Valid {
		store.clock.Observe(time.Unix(0, last.Int64))
	}

	return store, nil
}

func (store *Store) Close() error {
	return store.db.Close()
}

func (store *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS episodes (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		persona_id    TEXT NOT NULL,
		topic_summary TEXT NOT NULL DEFAULT '',
		start_time    INTEGER NOT NULL,
		end_time      INTEGER NOT NULL,
		metadata      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_scope ON episodes(user_id, persona_id, end_time DESC);

	CREATE TABLE IF NOT EXISTS memories (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		persona_id  TEXT NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL,
		embedding   BLOB,
		importance  INTEGER NOT NULL DEFAULT 5,
		emotion     TEXT NOT NULL DEFAULT '',
		domain      TEXT NOT NULL DEFAULT '',
		tags        TEXT,
		episode_id  TEXT REFERENCES episodes(id),
		incomplete  INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(user_id, persona_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_episode ON memories(episode_id);
	CREATE INDEX IF NOT EXISTS idx_memories_unembedded ON memories(created_at) WHERE embedding IS NULL;
	`

	_, err := store.db.Exec(schema)
	return err
}

const recordColumns = `id, user_id, persona_id, role, content, embedding, importance, emotion, domain, tags, episode_id, incomplete, created_at`

func (store *Store) Append(ctx context.Context, record *memory.Record) (string, error) {
	if err := memory.Prepare(record); err != nil {
		return "", err
	}

	id := ulid.Make().String()
	createdAt := store.clock.Next()

	tags, err := encodeTags(record.Tags)

	if err != nil {
		return "", errors.Wrap(errors.KindValidation, err, "encode tags")
	}

	var episodeID any

	if record.EpisodeID != "" {
		episodeID = record.EpisodeID
	}

	_, err = store.db.ExecContext(ctx,
		`INSERT INTO memories (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, record.Scope.User, record.Scope.Persona, string(record.Role), record.Content,
		vectorArg(record.Embedding), record.Importance, record.Emotion, record.Domain,
		tags, episodeID, record.Incomplete, createdAt.UnixNano(),
	)

	if err != nil {
		return "", errors.Wrap(errors.KindTransient, err, "insert memory")
	}

	record.ID = id
	record.CreatedAt = createdAt

	return id, nil
}

func (store *Store) Get(ctx context.Context, id string) (*memory.Record, error) {
	row := store.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM memories WHERE id = ?`, id)
	record, err := scanRecord(row)

	if err == sql.ErrNoRows {
		return nil, errors.NewError(errors.ErrNotFound, "record "+id)
	}

	if err != nil {
		return nil, errors.Wrap(errors.KindTransient, err, "get memory")
	}

	return record, nil
}

func (store *Store) Query(ctx context.Context, scope memory.Scope, filter memory.Filter) ([]*memory.Record, error) {
	clauses := []string{"user_id = ?", "persona_id = ?"}
	args := []any{scope.User, scope.Persona}

	if filter.EpisodeID != "" {
		clauses = append(clauses, "episode_id = ?")
		args = append(args, filter.EpisodeID)
	}

	if filter.Domain != "" {
		clauses = append(clauses, "domain = ?")
		args = append(args, filter.Domain)
	}

	if len(filter.Tags) > 0 {
		placeholders := make([]string, 0, len(filter.Tags))

		for _, tag := range filter.Tags {
			placeholders = append(placeholders, "?")
			args = append(args, strings.ToLower(tag))
		}

		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM json_each(memories.tags) WHERE fold(json_each.value) IN (%s))",
			strings.Join(placeholders, ", "),
		))
	}

	if keywords := nonEmpty(filter.Keywords); len(keywords) > 0 {
		ors := make([]string, 0, len(keywords))

		for _, keyword := range keywords {
			ors = append(ors, "instr(fold(content), ?) > 0")
			args = append(args, strings.ToLower(keyword))
		}

		clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
	}

	query := `SELECT ` + recordColumns + ` FROM memories WHERE ` + strings.Join(clauses, " AND ")

	switch filter.Order {
	case memory.OrderRecent:
		query += ` ORDER BY created_at DESC`
	default:
		query += ` ORDER BY importance DESC, created_at DESC`
	}

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	return store.queryRecords(ctx, query, args...)
}

func (store *Store) VectorQuery(ctx context.Context, scope memory.Scope, query memory.VectorQuery) ([]memory.Scored, error) {
	sqlQuery := `SELECT ` + recordColumns + ` FROM memories WHERE user_id = ? AND persona_id = ? AND embedding IS NOT NULL`
	args := []any{scope.User, scope.Persona}

	if query.Domain != "" {
		sqlQuery += ` AND domain = ?`
		args = append(args, query.Domain)
	}

	candidates, err := store.queryRecords(ctx, sqlQuery, args...)

	if err != nil {
		return nil, err
	}

	return memory.RankVector(candidates, query), nil
}

func (store *Store) AttachEmbedding(ctx context.Context, id string, vector []float32) error {
	result, err := store.db.ExecContext(ctx,
		`UPDATE memories SET embedding = ? WHERE id = ?`, vectorArg(vector), id,
	)

	if err != nil {
		return errors.Wrap(errors.KindTransient, err, "attach embedding")
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NewError(errors.ErrNotFound, "record "+id)
	}

	return nil
}

func (store *Store) AssignEpisode(ctx context.Context, id, episodeID string) error {
	result, err := store.db.ExecContext(ctx,
		`UPDATE memories SET episode_id = ? WHERE id = ? AND (episode_id IS NULL OR episode_id = ?)`,
		episodeID, id, episodeID,
	)

	if err != nil {
		return errors.Wrap(errors.KindTransient, err, "assign episode")
	}

	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}

	if _, err := store.Get(ctx, id); err != nil {
		return err
	}

	return errors.NewError(errors.ErrEpisodeAssigned, "record "+id)
}

func (store *Store) Unembedded(ctx context.Context, limit int) ([]*memory.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM memories WHERE embedding IS NULL ORDER BY created_at ASC`
	args := []any{}

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return store.queryRecords(ctx, query, args...)
}

func (store *Store) LatestEpisode(ctx context.Context, scope memory.Scope) (*memory.Episode, error) {
	row := store.db.QueryRowContext(ctx,
		`SELECT id, user_id, persona_id, topic_summary, start_time, end_time, metadata
		 FROM episodes WHERE user_id = ? AND persona_id = ?
		 ORDER BY end_time DESC, id DESC LIMIT 1`,
		scope.User, scope.Persona,
	)

	episode, err := scanEpisode(row)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrap(errors.KindTransient, err, "latest episode")
	}

	return episode, nil
}

func (store *Store) CreateEpisode(ctx context.Context, episode *memory.Episode) error {
	if episode == nil || !episode.Scope.Valid() {
		return errors.Wrap(errors.KindValidation, errors.ErrInvalidRecord, "episode scope is required")
	}

	if episode.ID == "" {
		episode.ID = ulid.Make().String()
	}

	var metadata any

	if len(episode.Metadata) > 0 {
		buf, err := json.Marshal(episode.Metadata)

		if err != nil {
			return errors.Wrap(errors.KindValidation, err, "encode episode metadata")
		}

		metadata = string(buf)
	}

	_, err := store.db.ExecContext(ctx,
		`INSERT INTO episodes (id, user_id, persona_id, topic_summary, start_time, end_time, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		episode.ID, episode.Scope.User, episode.Scope.Persona, episode.TopicSummary,
		episode.StartTime.UnixNano(), episode.EndTime.UnixNano(), metadata,
	)

	if err != nil {
		return errors.Wrap(errors.KindTransient, err, "insert episode")
	}

	return nil
}

func (store *Store) GetEpisode(ctx context.Context, id string) (*memory.Episode, error) {
	row := store.db.QueryRowContext(ctx,
		`SELECT id, user_id, persona_id, topic_summary, start_time, end_time, metadata FROM episodes WHERE id = ?`, id,
	)

	episode, err := scanEpisode(row)

	if err == sql.ErrNoRows {
		return nil, errors.NewError(errors.ErrNotFound, "episode "+id)
	}

	if err != nil {
		return nil, errors.Wrap(errors.KindTransient, err, "get episode")
	}

	return episode, nil
}

/*
TouchEpisode is a single conditional update, so concurrent turns can only
ever move EndTime forward.
*/
func (store *Store) TouchEpisode(ctx context.Context, id string, at time.Time) (*memory.Episode, error) {
	if _, err := store.db.ExecContext(ctx,
		`UPDATE episodes SET end_time = ? WHERE id = ? AND end_time < ?`,
		at.UnixNano(), id, at.UnixNano(),
	); err != nil {
		return nil, errors.Wrap(errors.KindTransient, err, "touch episode")
	}

	return store.GetEpisode(ctx, id)
}

/*
Scopes lists every user/persona pair that owns at least one record.
*/
func (store *Store) Scopes(ctx context.Context) ([]memory.Scope, error) {
	rows, err := store.db.QueryContext(ctx, `SELECT DISTINCT user_id, persona_id FROM memories ORDER BY user_id, persona_id`)

	if err != nil {
		return nil, errors.Wrap(errors.KindTransient, err, "list scopes")
	}

	defer rows.Close()

	var out []memory.Scope

	for rows.Next() {
		var scope memory.Scope

		if err := rows.Scan(&scope.User, &scope.Persona); err != nil {
			return nil, err
		}

		out = append(out, scope)
	}

	return out, rows.Err()
}

func (store *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*memory.Record, error) {
	rows, err := store.db.QueryContext(ctx, query, args...)

	if err != nil {
		return nil, errors.Wrap(errors.KindTransient, err, "query memories")
	}

	defer rows.Close()

	out := make([]*memory.Record, 0)

	for rows.Next() {
		record, err := scanRecord(rows)

		if err != nil {
			// One corrupt row should not hide the rest of the scope.
			log.Warn("skipping unreadable memory row", "error", err)
			continue
		}

		out = append(out, record)
	}

	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*memory.Record, error) {
	var (
		record     memory.Record
		role       string
		embedding  []byte
		tags       sql.NullString
		episodeID  sql.NullString
		incomplete bool
		createdAt  int64
	)

	if err := row.Scan(
		&record.ID, &record.Scope.User, &record.Scope.Persona, &role, &record.Content,
		&embedding, &record.Importance, &record.Emotion, &record.Domain, &tags,
		&episodeID, &incomplete, &createdAt,
	); err != nil {
		return nil, err
	}

	vector, err := memory.DecodeVector(embedding)

	if err != nil {
		return nil, err
	}

	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &record.Tags); err != nil {
			return nil, err
		}
	}

	record.Role = memory.Role(role)
	record.Embedding = vector
	record.EpisodeID = episodeID.String
	record.Incomplete = incomplete
	record.CreatedAt = time.Unix(0, createdAt).UTC()

	return &record, nil
}

func scanEpisode(row scanner) (*memory.Episode, error) {
	var (
		episode    memory.Episode
		start, end int64
		metadata   sql.NullString
	)

	if err := row.Scan(
		&episode.ID, &episode.Scope.User, &episode.Scope.Persona, &episode.TopicSummary,
		&start, &end, &metadata,
	); err != nil {
		return nil, err
	}

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &episode.Metadata); err != nil {
			return nil, err
		}
	}

	episode.StartTime = time.Unix(0, start).UTC()
	episode.EndTime = time.Unix(0, end).UTC()

	return &episode, nil
}

func encodeTags(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	buf, err := json.Marshal(tags)

	if err != nil {
		return nil, err
	}

	return string(buf), nil
}

/*
vectorArg keeps an empty embedding as NULL, the marker for backfill.
*/
func vectorArg(vector []float32) any {
	if len(vector) == 0 {
		return nil
	}

	return memory.EncodeVector(vector)
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))

	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}

	return out
}
