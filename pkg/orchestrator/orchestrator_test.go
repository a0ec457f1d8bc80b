package orchestrator

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/mnemo/pkg/embedding"
	"github.com/theapemachine/mnemo/pkg/episode"
	"github.com/theapemachine/mnemo/pkg/memory"
	"github.com/theapemachine/mnemo/pkg/provider"
	"github.com/theapemachine/mnemo/pkg/retrieval"
	"github.com/theapemachine/mnemo/pkg/tools"
)

var scope = memory.Scope{User: "u1", Persona: "p1"}

/*
replyBackend answers every invocation with the same text, or the same error.
When block is set it streams the text and then waits for cancellation.
*/
type replyBackend struct {
	text  string
	err   error
	block bool

	mu     sync.Mutex
	params []provider.Params
}

func (backend *replyBackend) Name() string    { return "reply" }
func (backend *replyBackend) Available() bool { return true }

func (backend *replyBackend) Generate(ctx context.Context, params *provider.Params) <-chan provider.Event {
	backend.mu.Lock()
	backend.params = append(backend.params, *params)
	backend.mu.Unlock()

	ch := make(chan provider.Event, 4)

	go func() {
		defer close(ch)

		if backend.err != nil {
			ch <- provider.Event{Kind: provider.EventError, Err: backend.err}
			return
		}

		ch <- provider.Event{Kind: provider.EventDelta, Text: backend.text}

		if backend.block {
			<-ctx.Done()
			ch <- provider.Event{Kind: provider.EventError, Err: ctx.Err()}
			return
		}

		ch <- provider.Event{Kind: provider.EventDone}
	}()

	return ch
}

func (backend *replyBackend) last() provider.Params {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	return backend.params[len(backend.params)-1]
}

type fixture struct {
	store        *memory.InMemoryStore
	orchestrator *Orchestrator
	manager      *provider.Manager
}

func newFixture(backends ...provider.Backend) fixture {
	store := memory.NewInMemoryStore()
	embedder := embedding.NewAdapter(embedding.NewHashBackend(), embedding.WithDimensions(64))
	engine := retrieval.NewEngine(store, embedder, retrieval.Config{})

	providers := make([]provider.Provider, 0, len(backends))

	for i, backend := range backends {
		providers = append(providers, provider.Provider{
			Config: provider.Config{
				ID:       "p" + string(rune('a'+i)),
				Model:    "model",
				Priority: 100 - i,
				Enabled:  true,
			},
			Backend: backend,
		})
	}

	manager, err := provider.NewManager(providers, provider.ManagerConfig{})
	So(err, ShouldBeNil)

	registry := tools.NewRegistry()
	tools.NewSearchMemories(engine, 0.35).Register(registry)

	return fixture{
		store:   store,
		manager: manager,
		orchestrator: New(
			store,
			episode.NewManager(store),
			engine,
			manager,
			tools.NewBridge(registry, tools.BridgeConfig{}),
			Config{SystemPrompt: "You are kind."},
		),
	}
}

func collect(ch <-chan Event) []Event {
	var out []Event

	for event := range ch {
		out = append(out, event)
	}

	return out
}

func terminal(events []Event) Event {
	return events[len(events)-1]
}

func TestHandleTurn(t *testing.T) {
	Convey("Given an orchestrator with a working provider", t, func() {
		ctx := context.Background()
		backend := &replyBackend{text: "Nice to meet you! [SAVE_FACT: allergy | allergic to peanuts]"}
		fx := newFixture(backend)
		defer fx.manager.Close()

		Convey("An empty message should end with a validation error", func() {
			events := collect(fx.orchestrator.HandleTurn(ctx, Turn{Scope: scope, Message: "  "}))
			So(len(events), ShouldEqual, 1)
			So(events[0].Kind, ShouldEqual, EventError)
			So(events[0].Error.Kind, ShouldEqual, "validation")
		})

		Convey("A missing scope should end with a validation error", func() {
			events := collect(fx.orchestrator.HandleTurn(ctx, Turn{Message: "hi"}))
			So(terminal(events).Kind, ShouldEqual, EventError)
		})

		Convey("A normal turn should stream and persist the exchange", func() {
			events := collect(fx.orchestrator.HandleTurn(ctx, Turn{Scope: scope, Message: "Hi, I am allergic to peanuts"}))
			done := terminal(events)

			So(events[0].Kind, ShouldEqual, EventStatus)
			So(events[0].Status.Reset, ShouldBeFalse)
			So(events[1].Kind, ShouldEqual, EventText)
			So(done.Kind, ShouldEqual, EventDone)
			So(done.Done.Provider, ShouldEqual, "pa")
			So(done.Done.Facts, ShouldEqual, 1)
			So(done.Done.EpisodeID, ShouldNotBeEmpty)

			user, err := fx.store.Get(ctx, done.Done.UserRecord)
			So(err, ShouldBeNil)
			So(user.Importance, ShouldEqual, 5)
			So(user.EpisodeID, ShouldEqual, done.Done.EpisodeID)

			assistant, err := fx.store.Get(ctx, done.Done.AssistantRecord)
			So(err, ShouldBeNil)
			So(assistant.Importance, ShouldEqual, 3)
			So(assistant.Content, ShouldEqual, "Nice to meet you!")
			So(assistant.CreatedAt.After(user.CreatedAt), ShouldBeTrue)

			facts, _ := fx.store.Query(ctx, scope, memory.Filter{Tags: []string{"ALLERGY"}})
			So(len(facts), ShouldEqual, 1)
			So(facts[0].Content, ShouldEqual, "allergic to peanuts")
			So(facts[0].Importance, ShouldEqual, 7)
			So(facts[0].Domain, ShouldEqual, "universal")
		})

		Convey("The system instructions should carry the fact instruction", func() {
			collect(fx.orchestrator.HandleTurn(ctx, Turn{Scope: scope, Message: "hello"}))
			So(backend.last().System, ShouldStartWith, "You are kind.")
			So(backend.last().System, ShouldContainSubstring, "[SAVE_FACT: type | content]")
		})

		Convey("A second turn should see the first as history and memory", func() {
			collect(fx.orchestrator.HandleTurn(ctx, Turn{Scope: scope, Message: "my codename is aurora"}))
			collect(fx.orchestrator.HandleTurn(ctx, Turn{Scope: scope, Message: "what is my codename aurora?"}))

			params := backend.last()
			So(len(params.Messages), ShouldEqual, 3)
			So(params.Messages[0].Content, ShouldEqual, "my codename is aurora")
			So(params.Messages[0].Role, ShouldEqual, provider.RoleUser)
			So(params.Messages[1].Role, ShouldEqual, provider.RoleAssistant)
			So(params.System, ShouldContainSubstring, memoryHeader)
		})
	})

	Convey("Given a failing primary provider", t, func() {
		ctx := context.Background()
		fx := newFixture(&replyBackend{err: stderrors.New("503")}, &replyBackend{text: "fallback reply"})
		defer fx.manager.Close()

		events := collect(fx.orchestrator.HandleTurn(ctx, Turn{Scope: scope, Message: "hello there"}))

		Convey("The fallback should be announced with a reset", func() {
			var statuses []*StatusEvent

			for _, event := range events {
				if event.Kind == EventStatus {
					statuses = append(statuses, event.Status)
				}
			}

			So(len(statuses), ShouldEqual, 2)
			So(statuses[1].Provider, ShouldEqual, "pb")
			So(statuses[1].Reset, ShouldBeTrue)
			So(terminal(events).Done.Provider, ShouldEqual, "pb")
			So(fx.orchestrator.Metrics().GetMetrics()["fallbacks"], ShouldEqual, int64(1))
		})
	})

	Convey("Given a turn naming a preferred provider", t, func() {
		ctx := context.Background()
		fx := newFixture(&replyBackend{text: "from a"}, &replyBackend{text: "from b"})
		defer fx.manager.Close()

		events := collect(fx.orchestrator.HandleTurn(ctx, Turn{Scope: scope, Message: "hello there", Provider: "pb"}))

		Convey("That provider should answer ahead of the higher priority one", func() {
			So(events[0].Kind, ShouldEqual, EventStatus)
			So(events[0].Status.Provider, ShouldEqual, "pb")
			So(events[0].Status.Reset, ShouldBeFalse)
			So(terminal(events).Done.Provider, ShouldEqual, "pb")
		})
	})

	Convey("Given only failing providers", t, func() {
		ctx := context.Background()
		fx := newFixture(&replyBackend{err: stderrors.New("503")})
		defer fx.manager.Close()

		later := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		fx.orchestrator.now = func() time.Time { return later }

		events := collect(fx.orchestrator.HandleTurn(ctx, Turn{Scope: scope, Message: "is anyone there"}))

		Convey("The turn should end in exhaustion with the user message kept", func() {
			last := terminal(events)
			So(last.Kind, ShouldEqual, EventError)
			So(last.Error.Kind, ShouldEqual, "exhaustion")
			So(last.Error.Message, ShouldNotContainSubstring, "503")

			records, _ := fx.store.Query(ctx, scope, memory.Filter{})
			So(len(records), ShouldEqual, 1)
			So(records[0].Role, ShouldEqual, memory.RoleUser)
		})

		Convey("The episode should still advance to the time of the turn", func() {
			latest, err := fx.store.LatestEpisode(ctx, scope)
			So(err, ShouldBeNil)
			So(latest.EndTime.Equal(later), ShouldBeTrue)
		})
	})

	Convey("Given a caller that disconnects mid-reply", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		fx := newFixture(&replyBackend{text: "partial answ", block: true})
		defer fx.manager.Close()

		ch := fx.orchestrator.HandleTurn(ctx, Turn{Scope: scope, Message: "tell me a story"})

		for event := range ch {
			if event.Kind == EventText {
				cancel()
				break
			}
		}

		collect(ch)

		Convey("The partial reply should be stored as incomplete", func() {
			records, _ := fx.store.Query(context.Background(), scope, memory.Filter{Order: memory.OrderRecent})
			So(len(records), ShouldEqual, 2)
			So(records[0].Role, ShouldEqual, memory.RoleAssistant)
			So(records[0].Incomplete, ShouldBeTrue)
			So(records[0].Content, ShouldEqual, "partial answ")
			So(records[1].Incomplete, ShouldBeFalse)
		})
	})
}

func TestFormatContext(t *testing.T) {
	Convey("Given ranked memories", t, func() {
		at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		ranked := []retrieval.Ranked{
			{Record: &memory.Record{Role: memory.RoleUser, Content: "I love hiking", CreatedAt: at}, Score: 0.9},
			{Record: &memory.Record{Role: memory.RoleAssistant, Content: strings.Repeat("x", 300), CreatedAt: at}, Score: 0.1},
		}

		Convey("Nothing retrieved should produce no block", func() {
			So(FormatContext(nil, 2000), ShouldBeEmpty)
		})

		Convey("Both memories should render with speakers and snippets", func() {
			block := FormatContext(ranked, 2000)
			So(block, ShouldStartWith, memoryHeader)
			So(block, ShouldContainSubstring, `User said: "I love hiking"`)
			So(block, ShouldContainSubstring, "You said:")
			So(block, ShouldContainSubstring, strings.Repeat("x", 200)+"...")
			So(block, ShouldNotContainSubstring, strings.Repeat("x", 201))
		})

		Convey("A tight budget should drop the lowest score first", func() {
			block := FormatContext(ranked, 250)
			So(block, ShouldContainSubstring, "I love hiking")
			So(block, ShouldNotContainSubstring, "You said:")
		})

		Convey("A budget nothing fits in should produce no block", func() {
			So(FormatContext(ranked, 10), ShouldBeEmpty)
		})
	})
}

func TestExtractFacts(t *testing.T) {
	Convey("Given a reply with fact markers", t, func() {
		cleaned, facts := ExtractFacts("Noted. [SAVE_FACT: medical | takes insulin daily] Anything else? [SAVE_FACT:name|Sam]")

		Convey("Markers should be removed and facts returned in order", func() {
			So(cleaned, ShouldEqual, "Noted.  Anything else?")
			So(len(facts), ShouldEqual, 2)
			So(facts[0], ShouldResemble, Fact{Type: "MEDICAL", Content: "takes insulin daily"})
			So(facts[1], ShouldResemble, Fact{Type: "NAME", Content: "Sam"})
		})

		Convey("A reply without markers should be untouched", func() {
			cleaned, facts := ExtractFacts("just chatting")
			So(cleaned, ShouldEqual, "just chatting")
			So(facts, ShouldBeEmpty)
		})
	})
}
