package memory

import (
	"strings"
	"time"

	"github.com/theapemachine/mnemo/pkg/errors"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	DefaultImportance = 5
	MinImportance     = 1
	MaxImportance     = 10
)

/*
Scope partitions every read and write. Both fields are required.
*/
type Scope struct {
	User    string `json:"user"`
	Persona string `json:"persona"`
}

func (scope Scope) Valid() bool {
	return strings.TrimSpace(scope.User) != "" && strings.TrimSpace(scope.Persona) != ""
}

func (scope Scope) Key() string {
	return scope.User + "|" + scope.Persona
}

/*
Record is one persisted conversational turn or extracted fact. Only Embedding
and EpisodeID change after creation, and EpisodeID only once.
*/
type Record struct {
	ID         string    `json:"id"`
	Scope      Scope     `json:"scope"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Importance int       `json:"importance"`
	Emotion    string    `json:"emotion,omitempty"`
	Domain     string    `json:"domain,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	EpisodeID  string    `json:"episode_id,omitempty"`
	Incomplete bool      `json:"incomplete,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

/*
Episode is a contiguous block of conversation for one scope.
*/
type Episode struct {
	ID           string            `json:"id"`
	Scope        Scope             `json:"scope"`
	TopicSummary string            `json:"topic_summary,omitempty"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type Order int

const (
	// OrderRanked sorts by importance desc, then createdAt desc.
	OrderRanked Order = iota
	// OrderRecent sorts by createdAt desc.
	OrderRecent
)

/*
Filter narrows Query. Keywords are OR-ed case-insensitive substring matches
over Content and Tags matches any tag. Limit 0 means no limit.
*/
type Filter struct {
	EpisodeID string
	Domain    string
	Tags      []string
	Keywords  []string
	Order     Order
	Limit     int
}

/*
Scorer ranks a vector match. The store passes the cosine similarity of the
candidate, the caller decides how recency and importance weigh in.
*/
type Scorer func(record *Record, similarity float64) float64

/*
VectorQuery selects embedded records whose similarity strictly exceeds
Threshold, ordered by Score (similarity when nil).
*/
type VectorQuery struct {
	Vector    []float32
	Threshold float64
	Limit     int
	Domain    string
	Score     Scorer
}

/*
Scored pairs a record with its similarity and ranking score.
*/
type Scored struct {
	Record     *Record
	Similarity float64
	Score      float64
}

/*
Prepare validates a record for insertion and fills defaults. It never
assigns identity or time, that belongs to the store.
*/
func Prepare(record *Record) error {
	if record == nil {
		return errors.Wrap(errors.KindValidation, errors.ErrInvalidRecord, "nil record")
	}

	if strings.TrimSpace(record.Content) == "" {
		return errors.Wrap(errors.KindValidation, errors.ErrInvalidRecord, "content is required")
	}

	if !record.Scope.Valid() {
		return errors.Wrap(errors.KindValidation, errors.ErrInvalidRecord, "user and persona scope are required")
	}

	if record.Role != RoleUser && record.Role != RoleAssistant {
		return errors.Wrap(errors.KindValidation, errors.ErrInvalidRecord, "role must be user or assistant")
	}

	if record.Importance == 0 {
		record.Importance = DefaultImportance
	}

	if record.Importance < MinImportance || record.Importance > MaxImportance {
		return errors.Wrap(errors.KindValidation, errors.ErrInvalidRecord, "importance must be between 1 and 10")
	}

	return nil
}

/*
Clone returns a deep copy so callers can never mutate stored state.
*/
func (record *Record) Clone() *Record {
	if record == nil {
		return nil
	}

	out := *record

	if record.Embedding != nil {
		out.Embedding = append([]float32(nil), record.Embedding...)
	}

	if record.Tags != nil {
		out.Tags = append([]string(nil), record.Tags...)
	}

	return &out
}

func (episode *Episode) Clone() *Episode {
	if episode == nil {
		return nil
	}

	out := *episode

	if episode.Metadata != nil {
		out.Metadata = make(map[string]string, len(episode.Metadata))

		for k, v := range episode.Metadata {
			out.Metadata[k] = v
		}
	}

	return &out
}

/*
Matches applies the non-ordering parts of a Filter to a record.
*/
func (filter Filter) Matches(record *Record) bool {
	if filter.EpisodeID != "" && record.EpisodeID != filter.EpisodeID {
		return false
	}

	if filter.Domain != "" && record.Domain != filter.Domain {
		return false
	}

	if len(filter.Tags) > 0 && !hasAnyTag(record.Tags, filter.Tags) {
		return false
	}

	if len(filter.Keywords) > 0 {
		content := strings.ToLower(record.Content)

		for _, keyword := range filter.Keywords {
			if keyword != "" && strings.Contains(content, strings.ToLower(keyword)) {
				return true
			}
		}

		return false
	}

	return true
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}

	return false
}
