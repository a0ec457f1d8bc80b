package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/mnemo/pkg/episode"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/memory"
	"github.com/theapemachine/mnemo/pkg/metrics"
	"github.com/theapemachine/mnemo/pkg/provider"
	"github.com/theapemachine/mnemo/pkg/retrieval"
	"github.com/theapemachine/mnemo/pkg/tools"
)

const (
	safeEmptyMessage = "Please enter a message."
	safeExhausted    = "All AI providers are currently unavailable. Please try again in a moment."
	safeFailure      = "Something went wrong while generating a reply."
	factDomain       = "universal"
	turnDomain       = "personal"
)

type Config struct {
	SystemPrompt       string        `mapstructure:"systemPrompt"`
	ContextBudgetChars int           `mapstructure:"contextBudgetChars"`
	HistoryTurns       int           `mapstructure:"historyTurns"`
	PersistTimeout     time.Duration `mapstructure:"persistTimeout"`
	Temperature        float64       `mapstructure:"temperature"`
	MaxTokens          int64         `mapstructure:"maxTokens"`
}

func (cfg Config) withDefaults() Config {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are a warm, attentive companion who remembers past conversations."
	}

	if cfg.ContextBudgetChars <= 0 {
		cfg.ContextBudgetChars = 2000
	}

	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 10
	}

	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}

	return cfg
}

type Retriever interface {
	Retrieve(ctx context.Context, scope memory.Scope, query string, limit int, opts ...retrieval.RetrieveOption) []retrieval.Ranked
}

type Dispatcher interface {
	Dispatch(ctx context.Context, tier provider.Tier, preferred string, fn provider.DispatchFunc) (provider.Candidate, error)
}

/*
Enqueuer receives records that still need an embedding.
*/
type Enqueuer interface {
	Enqueue(id, text string) bool
}

/*
Orchestrator answers one turn end to end: episode, retrieval, provider
dispatch with tools, then persistence. Every turn runs on its own goroutine
and reports back over a channel.
*/
type Orchestrator struct {
	store     memory.Store
	episodes  *episode.Manager
	retriever Retriever
	providers Dispatcher
	bridge    *tools.Bridge
	backfill  Enqueuer
	metrics   *metrics.TurnMetrics
	cfg       Config
	now       func() time.Time
}

type Option func(*Orchestrator)

func New(
	store memory.Store,
	episodes *episode.Manager,
	retriever Retriever,
	providers Dispatcher,
	bridge *tools.Bridge,
	cfg Config,
	opts ...Option,
) *Orchestrator {
	orchestrator := &Orchestrator{
		store:     store,
		episodes:  episodes,
		retriever: retriever,
		providers: providers,
		bridge:    bridge,
		metrics:   metrics.NewTurnMetrics(),
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(orchestrator)
	}

	return orchestrator
}

func WithBackfill(backfill Enqueuer) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.backfill = backfill
	}
}

func WithMetrics(turnMetrics *metrics.TurnMetrics) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.metrics = turnMetrics
	}
}

func WithNow(now func() time.Time) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.now = now
	}
}

func (orchestrator *Orchestrator) Metrics() *metrics.TurnMetrics {
	return orchestrator.metrics
}

/*
HandleTurn streams the events of one turn. The channel closes once the turn
has been persisted, or abandoned.
*/
func (orchestrator *Orchestrator) HandleTurn(ctx context.Context, turn Turn) <-chan Event {
	ch := make(chan Event, 32)

	go func() {
		defer close(ch)

		started := orchestrator.now()
		state := &turnState{turn: turn, out: ch, ctx: ctx}
		success := orchestrator.run(ctx, state)

		orchestrator.metrics.RecordTurn(success, ctx.Err() != nil, time.Since(started))
	}()

	return ch
}

type turnState struct {
	ctx     context.Context
	turn    Turn
	out     chan<- Event
	episode *memory.Episode
	reply   strings.Builder
	summary Summary
}

func (state *turnState) send(event Event) bool {
	select {
	case state.out <- event:
		return true
	case <-state.ctx.Done():
		return false
	}
}

func (state *turnState) fail(kind errors.Kind, message string) {
	state.send(Event{Kind: EventError, Error: &TerminalError{Kind: kind.String(), Message: message}})
}

func (orchestrator *Orchestrator) run(ctx context.Context, state *turnState) bool {
	turn := state.turn

	if strings.TrimSpace(turn.Message) == "" {
		state.fail(errors.KindValidation, safeEmptyMessage)
		return false
	}

	if !turn.Scope.Valid() {
		state.fail(errors.KindValidation, "A user and persona are required.")
		return false
	}

	current, err := orchestrator.episodes.GetOrCreateCurrent(ctx, turn.Scope, turn.Message)

	if err != nil {
		log.Warn("episode unavailable, turn proceeds ungrouped", "user", turn.Scope.User, "error", err)
	} else {
		state.episode = current
		state.summary.EpisodeID = current.ID
	}

	params := orchestrator.prepare(ctx, state)
	toolCtx := tools.WithScope(ctx, turn.Scope)

	var outcome tools.Result

	candidate, err := orchestrator.providers.Dispatch(toolCtx, turn.Tier, turn.Provider, func(ctx context.Context, attempt provider.Attempt) error {
		if attempt.Index > 0 {
			orchestrator.metrics.RecordFallback()
		}

		state.send(Event{Kind: EventStatus, Status: &StatusEvent{
			Provider: attempt.ID,
			Model:    attempt.Model,
			Attempt:  attempt.Index,
			Reset:    attempt.Index > 0,
		}})

		state.reply.Reset()

		request := params
		request.Model = attempt.Model

		result, err := orchestrator.bridge.Run(ctx, attempt.Backend, request, orchestrator.hooks(state))

		if err == nil {
			outcome = result
		}

		return err
	})

	switch {
	case ctx.Err() != nil:
		orchestrator.abandon(ctx, state)
		return false
	case err != nil:
		log.Error("turn failed", "user", turn.Scope.User, "persona", turn.Scope.Persona, "error", err)
		orchestrator.unanswered(ctx, state)

		if errors.KindOf(err) == errors.KindExhaustion {
			state.fail(errors.KindExhaustion, safeExhausted)
		} else {
			state.fail(errors.KindOf(err), safeFailure)
		}

		return false
	}

	orchestrator.metrics.RecordProvider(candidate.ID)

	if outcome.Degraded {
		orchestrator.metrics.RecordDegraded()
	}

	state.summary.Provider = candidate.ID
	state.summary.Model = candidate.Model
	state.summary.RoundTrips = outcome.RoundTrips
	state.summary.Degraded = outcome.Degraded

	orchestrator.complete(ctx, state, outcome.Text)
	state.send(Event{Kind: EventDone, Done: &state.summary})

	return true
}

/*
prepare assembles the system instructions with retrieved memories and the
recent history of the current episode.
*/
func (orchestrator *Orchestrator) prepare(ctx context.Context, state *turnState) provider.Params {
	turn := state.turn
	ranked := orchestrator.retriever.Retrieve(ctx, turn.Scope, turn.Message, 0)
	state.summary.Memories = len(ranked)

	system := orchestrator.cfg.SystemPrompt + "\n\n" + factInstruction

	if block := FormatContext(ranked, orchestrator.cfg.ContextBudgetChars); block != "" {
		system += "\n\n" + block
	}

	messages := orchestrator.history(ctx, state)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: turn.Message})

	return provider.Params{
		System:      system,
		Messages:    messages,
		Temperature: orchestrator.cfg.Temperature,
		MaxTokens:   orchestrator.cfg.MaxTokens,
	}
}

func (orchestrator *Orchestrator) history(ctx context.Context, state *turnState) []provider.Message {
	if state.episode == nil {
		return nil
	}

	records, err := orchestrator.store.Query(ctx, state.turn.Scope, memory.Filter{
		EpisodeID: state.episode.ID,
		Order:     memory.OrderRecent,
		Limit:     orchestrator.cfg.HistoryTurns * 2,
	})

	if err != nil {
		log.Warn("history unavailable", "episode", state.episode.ID, "error", err)
		return nil
	}

	out := make([]provider.Message, 0, len(records))

	for i := len(records) - 1; i >= 0; i-- {
		role := provider.RoleUser

		if records[i].Role == memory.RoleAssistant {
			role = provider.RoleAssistant
		}

		out = append(out, provider.Message{Role: role, Content: records[i].Content})
	}

	return out
}

func (orchestrator *Orchestrator) hooks(state *turnState) tools.Hooks {
	return tools.Hooks{
		OnText: func(text string) {
			state.reply.WriteString(text)
			orchestrator.metrics.RecordChunk(len(text))
			state.send(Event{Kind: EventText, Text: text})
		},
		OnToolCall: func(call provider.ToolCall) {
			state.send(Event{Kind: EventTool, Tool: &ToolEvent{
				Phase: ToolPhaseCall, ID: call.ID, Name: call.Name, Arguments: call.Arguments,
			}})
		},
		OnToolResult: func(call provider.ToolCall, result string, failed bool) {
			orchestrator.metrics.RecordToolCall(failed)
			state.send(Event{Kind: EventTool, Tool: &ToolEvent{
				Phase: ToolPhaseResult, ID: call.ID, Name: call.Name, Result: result, Failed: failed,
			}})
		},
	}
}
