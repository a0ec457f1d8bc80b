package episode

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/memory"
)

const (
	DefaultWindow     = 4 * time.Hour
	topicSummaryRunes = 80
)

/*
Manager groups turns into episodes. An episode stays current while its last
activity is less than the window ago. There is no lock around get-or-create,
two turns racing past a lapsed window may both create one and the next turn
settles on the most recent.
*/
type Manager struct {
	store  memory.EpisodeStore
	window time.Duration
	now    func() time.Time
}

type Option func(*Manager)

func NewManager(store memory.EpisodeStore, options ...Option) *Manager {
	manager := &Manager{
		store:  store,
		window: DefaultWindow,
		now:    time.Now,
	}

	for _, option := range options {
		option(manager)
	}

	return manager
}

func WithWindow(window time.Duration) Option {
	return func(manager *Manager) {
		if window > 0 {
			manager.window = window
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(manager *Manager) {
		manager.now = now
	}
}

/*
Active reports whether an episode is still open at the given time.
*/
func (manager *Manager) Active(episode *memory.Episode, at time.Time) bool {
	return episode != nil && at.Sub(episode.EndTime) < manager.window
}

func (manager *Manager) GetOrCreateCurrent(ctx context.Context, scope memory.Scope, seed string) (*memory.Episode, error) {
	if !scope.Valid() {
		return nil, errors.Wrap(errors.KindValidation, errors.ErrInvalidRecord, "episode scope is required")
	}

	now := manager.now().UTC()
	latest, err := manager.store.LatestEpisode(ctx, scope)

	if err != nil {
		return nil, err
	}

	if manager.Active(latest, now) {
		return latest, nil
	}

	episode := &memory.Episode{
		Scope:        scope,
		TopicSummary: Summarize(seed),
		StartTime:    now,
		EndTime:      now,
	}

	if err := manager.store.CreateEpisode(ctx, episode); err != nil {
		return nil, err
	}

	log.Debug("opened episode", "id", episode.ID, "user", scope.User, "persona", scope.Persona)
	return episode, nil
}

/*
Touch advances EndTime. Earlier times are a no-op.
*/
func (manager *Manager) Touch(ctx context.Context, episodeID string, at time.Time) (*memory.Episode, error) {
	return manager.store.TouchEpisode(ctx, episodeID, at.UTC())
}

/*
Current returns the active episode without creating one, or nil.
*/
func (manager *Manager) Current(ctx context.Context, scope memory.Scope) (*memory.Episode, error) {
	latest, err := manager.store.LatestEpisode(ctx, scope)

	if err != nil || !manager.Active(latest, manager.now().UTC()) {
		return nil, err
	}

	return latest, nil
}

/*
Summarize derives a topic summary from the first message of an episode.
*/
func Summarize(seed string) string {
	text := strings.Join(strings.Fields(seed), " ")

	if utf8.RuneCountInString(text) <= topicSummaryRunes {
		return text
	}

	runes := []rune(text)
	cut := string(runes[:topicSummaryRunes])

	if i := strings.LastIndex(cut, " "); i > topicSummaryRunes/2 {
		cut = cut[:i]
	}

	return cut + "…"
}
