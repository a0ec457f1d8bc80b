package tools

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/mnemo/pkg/memory"
	"github.com/theapemachine/mnemo/pkg/provider"
	"github.com/theapemachine/mnemo/pkg/retrieval"
	"github.com/theapemachine/mnemo/pkg/search"
)

type fakeRetriever struct {
	scope memory.Scope
	query string
	limit int
	opts  int
}

func (retriever *fakeRetriever) Retrieve(
	ctx context.Context, scope memory.Scope, query string, limit int, opts ...retrieval.RetrieveOption,
) []retrieval.Ranked {
	retriever.scope, retriever.query, retriever.limit, retriever.opts = scope, query, limit, len(opts)

	return []retrieval.Ranked{{
		Record: &memory.Record{ID: "r1", Role: memory.RoleUser, Content: "The project codename is Aurora-7", Importance: 8,
			CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		Score:  retrieval.KeywordOnlyScore,
		Source: retrieval.SourceKeyword,
	}}
}

type fakeSearcher struct {
	err error
}

func (searcher fakeSearcher) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	if searcher.err != nil {
		return nil, searcher.err
	}

	return []search.Result{{Title: "Go", URL: "https://go.dev", Snippet: "The Go language"}}, nil
}

func decode(t *testing.T, payload string) map[string]any {
	out := map[string]any{}

	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		t.Fatalf("not JSON: %s", payload)
	}

	return out
}

func errorCode(t *testing.T, payload string) int {
	body, _ := decode(t, payload)["error"].(map[string]any)
	code, _ := body["code"].(float64)
	return int(code)
}

func newRegistry(retriever Retriever, searcher search.Searcher) *Registry {
	registry := NewRegistry()
	NewSearchMemories(retriever, 0.35).Register(registry)
	NewWebSearch(searcher).Register(registry)

	return registry
}

func TestRegistry(t *testing.T) {
	Convey("Given a registry with both tools", t, func() {
		retriever := &fakeRetriever{}
		registry := newRegistry(retriever, fakeSearcher{})
		scope := memory.Scope{User: "u1", Persona: "p1"}
		ctx := WithScope(context.Background(), scope)

		Convey("It should expose both schemas in registration order", func() {
			tools := registry.Tools()
			So(len(tools), ShouldEqual, 2)
			So(tools[0].Name, ShouldEqual, "search_memories")
			So(tools[0].InputSchema.Required, ShouldResemble, []string{"query"})
			So(tools[1].Name, ShouldEqual, "web_search")
		})

		Convey("search_memories should delegate with the tool threshold and scope", func() {
			out, failed := registry.Call(ctx, provider.ToolCall{Name: "search_memories", Arguments: `{"query":"codename"}`})
			So(failed, ShouldBeFalse)
			So(retriever.scope, ShouldResemble, scope)
			So(retriever.limit, ShouldEqual, 5)
			So(retriever.opts, ShouldEqual, 1)

			body := decode(t, out)
			So(body["count"], ShouldEqual, 1.0)
			So(out, ShouldContainSubstring, "Aurora-7")
			So(out, ShouldContainSubstring, "2025-03-01")
		})

		Convey("A domain should add a retrieval option", func() {
			registry.Call(ctx, provider.ToolCall{Name: "search_memories", Arguments: `{"query":"x","domain":"work","limit":3}`})
			So(retriever.opts, ShouldEqual, 2)
			So(retriever.limit, ShouldEqual, 3)
		})

		Convey("An out-of-range limit should be rejected as invalid params", func() {
			out, failed := registry.Call(ctx, provider.ToolCall{Name: "search_memories", Arguments: `{"query":"x","limit":50}`})
			So(failed, ShouldBeTrue)
			So(errorCode(t, out), ShouldEqual, -32602)
			So(retriever.query, ShouldEqual, "")
		})

		Convey("A blank query should be rejected", func() {
			out, failed := registry.Call(ctx, provider.ToolCall{Name: "web_search", Arguments: `{"query":"   "}`})
			So(failed, ShouldBeTrue)
			So(errorCode(t, out), ShouldEqual, -32602)
		})

		Convey("A wrongly typed argument should be rejected", func() {
			out, _ := registry.Call(ctx, provider.ToolCall{Name: "web_search", Arguments: `{"query":"go","max_results":"many"}`})
			So(errorCode(t, out), ShouldEqual, -32602)
		})

		Convey("Arguments that are not JSON should be rejected", func() {
			out, failed := registry.Call(ctx, provider.ToolCall{Name: "web_search", Arguments: `query=go`})
			So(failed, ShouldBeTrue)
			So(errorCode(t, out), ShouldEqual, -32602)
		})

		Convey("An unknown tool should answer method not found", func() {
			out, failed := registry.Call(ctx, provider.ToolCall{Name: "launch_rockets"})
			So(failed, ShouldBeTrue)
			So(errorCode(t, out), ShouldEqual, -32601)
		})

		Convey("web_search should return results", func() {
			out, failed := registry.Call(ctx, provider.ToolCall{Name: "web_search", Arguments: `{"query":"golang","max_results":2}`})
			So(failed, ShouldBeFalse)
			So(out, ShouldContainSubstring, "https://go.dev")
		})

		Convey("web_search failures should become tool errors", func() {
			failing := newRegistry(retriever, fakeSearcher{err: stderrors.New("offline")})
			out, failed := failing.Call(ctx, provider.ToolCall{Name: "web_search", Arguments: `{"query":"golang"}`})
			So(failed, ShouldBeTrue)
			So(errorCode(t, out), ShouldEqual, -32603)
		})

		Convey("search_memories without a scope should fail cleanly", func() {
			out, failed := registry.Call(context.Background(), provider.ToolCall{Name: "search_memories", Arguments: `{"query":"x"}`})
			So(failed, ShouldBeTrue)
			So(errorCode(t, out), ShouldEqual, -32603)
		})
	})
}

/*
scriptedBackend plays back one scripted turn per invocation. When the script
runs out, the last entry repeats.
*/
type scriptedBackend struct {
	turns  []scriptedTurn
	calls  atomic.Int64
	params []provider.Params
}

type scriptedTurn struct {
	text  string
	calls []provider.ToolCall
	err   error
}

func (backend *scriptedBackend) Name() string    { return "scripted" }
func (backend *scriptedBackend) Available() bool { return true }

func (backend *scriptedBackend) Generate(ctx context.Context, params *provider.Params) <-chan provider.Event {
	n := int(backend.calls.Add(1)) - 1
	backend.params = append(backend.params, *params)

	turn := backend.turns[len(backend.turns)-1]

	if n < len(backend.turns) {
		turn = backend.turns[n]
	}

	ch := make(chan provider.Event, 4)

	go func() {
		defer close(ch)

		if turn.err != nil {
			ch <- provider.Event{Kind: provider.EventError, Err: turn.err}
			return
		}

		if turn.text != "" {
			ch <- provider.Event{Kind: provider.EventDelta, Text: turn.text}
		}

		if len(turn.calls) > 0 {
			ch <- provider.Event{Kind: provider.EventToolCall, ToolCalls: turn.calls}
		}

		ch <- provider.Event{Kind: provider.EventDone}
	}()

	return ch
}

func TestBridge(t *testing.T) {
	Convey("Given a bridge over the memory and web tools", t, func() {
		ctx := WithScope(context.Background(), memory.Scope{User: "u", Persona: "p"})
		registry := newRegistry(&fakeRetriever{}, fakeSearcher{})
		lookup := provider.ToolCall{ID: "c1", Name: "search_memories", Arguments: `{"query":"aurora"}`}

		Convey("A plain answer should pass straight through", func() {
			backend := &scriptedBackend{turns: []scriptedTurn{{text: "hello"}}}
			result, err := NewBridge(registry, BridgeConfig{}).Run(ctx, backend, provider.Params{}, Hooks{})

			So(err, ShouldBeNil)
			So(result.Text, ShouldEqual, "hello")
			So(result.RoundTrips, ShouldEqual, 0)
			So(len(backend.params[0].Tools), ShouldEqual, 2)
		})

		Convey("A tool round-trip should feed results back to the model", func() {
			backend := &scriptedBackend{turns: []scriptedTurn{{calls: []provider.ToolCall{lookup}}, {text: "It is Aurora-7."}}}
			var results []string

			result, err := NewBridge(registry, BridgeConfig{}).Run(ctx, backend, provider.Params{
				Messages: []provider.Message{{Role: provider.RoleUser, Content: "what is the codename?"}},
			}, Hooks{OnToolResult: func(call provider.ToolCall, out string, failed bool) { results = append(results, out) }})

			So(err, ShouldBeNil)
			So(result.Text, ShouldEqual, "It is Aurora-7.")
			So(result.RoundTrips, ShouldEqual, 1)
			So(len(results), ShouldEqual, 1)

			second := backend.params[1].Messages
			So(len(second), ShouldEqual, 3)
			So(second[1].ToolCalls[0].ID, ShouldEqual, "c1")
			So(second[2].Role, ShouldEqual, provider.RoleTool)
			So(second[2].ToolCallID, ShouldEqual, "c1")
		})

		Convey("A model that never stops calling tools should be cut off", func() {
			backend := &scriptedBackend{turns: []scriptedTurn{{calls: []provider.ToolCall{lookup}}}}
			executed := 0

			result, err := NewBridge(registry, BridgeConfig{MaxRoundTrips: 5}).Run(ctx, backend, provider.Params{},
				Hooks{OnToolCall: func(provider.ToolCall) { executed++ }})

			So(err, ShouldBeNil)
			So(result.RoundTrips, ShouldEqual, 5)
			So(result.Degraded, ShouldBeTrue)
			So(executed, ShouldEqual, 5)
			So(backend.calls.Load(), ShouldEqual, 6)

			final := backend.params[5]
			So(final.Tools, ShouldBeEmpty)
			So(final.Messages[len(final.Messages)-1].Content, ShouldEqual, degradedInstruction)
		})

		Convey("An exhausted tool budget should force the degraded answer", func() {
			slow := NewRegistry()
			slow.Register(mcp.NewTool("slow"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				time.Sleep(30 * time.Millisecond)
				return mcp.NewToolResultText("done"), nil
			})

			backend := &scriptedBackend{turns: []scriptedTurn{{calls: []provider.ToolCall{{ID: "s", Name: "slow"}}}}}
			result, err := NewBridge(slow, BridgeConfig{Budget: 10 * time.Millisecond}).Run(ctx, backend, provider.Params{}, Hooks{})

			So(err, ShouldBeNil)
			So(result.Degraded, ShouldBeTrue)
			So(result.RoundTrips, ShouldEqual, 1)
			So(backend.calls.Load(), ShouldEqual, 2)
		})

		Convey("Calls beyond the budget should be answered with a budget error", func() {
			out := NewBridge(registry, BridgeConfig{}).execute(ctx, []provider.ToolCall{lookup}, time.Now().Add(-time.Second), Hooks{})
			So(errorCode(t, out[0].Content), ShouldEqual, -32004)
		})

		Convey("Backend errors should surface to the caller", func() {
			backend := &scriptedBackend{turns: []scriptedTurn{{err: stderrors.New("502")}}}
			_, err := NewBridge(registry, BridgeConfig{}).Run(ctx, backend, provider.Params{}, Hooks{})
			So(err, ShouldNotBeNil)
		})
	})
}
