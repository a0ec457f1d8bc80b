package orchestrator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/memory"
)

const (
	userImportance      = 5
	assistantImportance = 3
	factImportance      = 7
	persistRetryDelay   = 100 * time.Millisecond
)

/*
persistContext outlives the caller so a disconnect never loses a turn that
has already been answered.
*/
func (orchestrator *Orchestrator) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), orchestrator.cfg.PersistTimeout)
}

/*
complete stores the exchange in order: the user message, the cleaned reply,
then any facts the model flagged. Facts belong to no episode so they never
show up as conversation history.
*/
func (orchestrator *Orchestrator) complete(ctx context.Context, state *turnState, reply string) {
	persistCtx, cancel := orchestrator.persistContext(ctx)
	defer cancel()

	orchestrator.persistUser(persistCtx, state)

	cleaned, facts := ExtractFacts(reply)

	if cleaned != "" {
		if id, ok := orchestrator.persist(persistCtx, state, &memory.Record{
			Role:       memory.RoleAssistant,
			Content:    cleaned,
			Importance: assistantImportance,
			Domain:     turnDomain,
			EpisodeID:  state.summary.EpisodeID,
		}); ok {
			state.summary.AssistantRecord = id
		}
	}

	for _, fact := range facts {
		if _, ok := orchestrator.persist(persistCtx, state, &memory.Record{
			Role:       memory.RoleUser,
			Content:    fact.Content,
			Importance: factImportance,
			Domain:     factDomain,
			Tags:       []string{fact.Type},
		}); ok {
			state.summary.Facts++
		}
	}

	orchestrator.metrics.RecordFacts(state.summary.Facts)
	orchestrator.touch(persistCtx, state)
}

/*
abandon runs when the caller went away mid-turn. Whatever was streamed so
far is kept and marked incomplete.
*/
func (orchestrator *Orchestrator) abandon(ctx context.Context, state *turnState) {
	persistCtx, cancel := orchestrator.persistContext(ctx)
	defer cancel()

	log.Info("turn cancelled, keeping partial exchange", "user", state.turn.Scope.User, "chars", state.reply.Len())

	orchestrator.persistUser(persistCtx, state)

	if partial, _ := ExtractFacts(state.reply.String()); partial != "" {
		orchestrator.persist(persistCtx, state, &memory.Record{
			Role:       memory.RoleAssistant,
			Content:    partial,
			Importance: assistantImportance,
			Domain:     turnDomain,
			EpisodeID:  state.summary.EpisodeID,
			Incomplete: true,
		})
	}

	orchestrator.touch(persistCtx, state)
}

/*
unanswered keeps the user message of a turn no provider could serve, and
still advances the episode.
*/
func (orchestrator *Orchestrator) unanswered(ctx context.Context, state *turnState) {
	persistCtx, cancel := orchestrator.persistContext(ctx)
	defer cancel()

	orchestrator.persistUser(persistCtx, state)
	orchestrator.touch(persistCtx, state)
}

func (orchestrator *Orchestrator) persistUser(ctx context.Context, state *turnState) {
	if state.summary.UserRecord != "" {
		return
	}

	if id, ok := orchestrator.persist(ctx, state, &memory.Record{
		Role:       memory.RoleUser,
		Content:    state.turn.Message,
		Importance: userImportance,
		Domain:     turnDomain,
		EpisodeID:  state.summary.EpisodeID,
	}); ok {
		state.summary.UserRecord = id
	}
}

/*
persist appends one record with a single retry. Failures are counted and
logged, they never fail the turn.
*/
func (orchestrator *Orchestrator) persist(ctx context.Context, state *turnState, record *memory.Record) (string, bool) {
	record.Scope = state.turn.Scope

	var id string

	err := backoff.Retry(func() error {
		var err error

		if id, err = orchestrator.store.Append(ctx, record); err != nil {
			if errors.KindOf(err) == errors.KindValidation {
				return backoff.Permanent(err)
			}

			return err
		}

		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(persistRetryDelay), 1), ctx))

	if err != nil {
		orchestrator.metrics.RecordPersistFailure()
		log.Error("record not persisted", "role", record.Role, "user", record.Scope.User, "error", err)
		return "", false
	}

	if orchestrator.backfill != nil && len(record.Embedding) == 0 {
		orchestrator.backfill.Enqueue(id, record.Content)
	}

	return id, true
}

func (orchestrator *Orchestrator) touch(ctx context.Context, state *turnState) {
	if state.episode == nil {
		return
	}

	if _, err := orchestrator.episodes.Touch(ctx, state.episode.ID, orchestrator.now()); err != nil {
		log.Warn("episode not advanced", "episode", state.episode.ID, "error", err)
	}
}
