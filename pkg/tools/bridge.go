package tools

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/provider"
)

const degradedInstruction = "Tool use is no longer available for this reply. " +
	"Answer the user now, using only what you already know and what the tools returned so far."

type BridgeConfig struct {
	MaxRoundTrips int           `mapstructure:"maxRoundTrips"`
	Budget        time.Duration `mapstructure:"budget"`
}

func (cfg BridgeConfig) withDefaults() BridgeConfig {
	if cfg.MaxRoundTrips <= 0 {
		cfg.MaxRoundTrips = 5
	}

	if cfg.Budget <= 0 {
		cfg.Budget = 30 * time.Second
	}

	return cfg
}

/*
Hooks let the caller observe a bridged turn as it happens.
*/
type Hooks struct {
	OnText       func(text string)
	OnToolCall   func(call provider.ToolCall)
	OnToolResult func(call provider.ToolCall, result string, failed bool)
}

type Result struct {
	Text       string
	RoundTrips int
	Degraded   bool
}

/*
Bridge drives the model/tool loop for one reply. Every tool round-trip feeds
the assistant's calls and their results back to the backend. Once the round
trip bound or the wall-clock tool budget is used up, the backend gets one
last invocation without tools, and whatever it says is the answer.
*/
type Bridge struct {
	registry *Registry
	cfg      BridgeConfig
}

func NewBridge(registry *Registry, cfg BridgeConfig) *Bridge {
	return &Bridge{registry: registry, cfg: cfg.withDefaults()}
}

func (bridge *Bridge) Registry() *Registry {
	return bridge.registry
}

func (bridge *Bridge) Run(
	ctx context.Context, backend provider.Backend, params provider.Params, hooks Hooks,
) (Result, error) {
	result := Result{}
	messages := append([]provider.Message(nil), params.Messages...)
	deadline := time.Now().Add(bridge.cfg.Budget)

	for {
		offer := result.RoundTrips < bridge.cfg.MaxRoundTrips && time.Now().Before(deadline)
		turn := params
		turn.Messages = messages

		if offer {
			turn.Tools = bridge.registry.Tools()
		} else {
			turn.Tools = nil

			if result.RoundTrips > 0 {
				result.Degraded = true
				turn.Messages = append(append([]provider.Message(nil), messages...), provider.Message{
					Role: provider.RoleUser, Content: degradedInstruction,
				})
			}
		}

		text, calls, err := bridge.invoke(ctx, backend, &turn, hooks)
		result.Text += text

		if err != nil {
			return result, err
		}

		if len(calls) == 0 {
			return result, nil
		}

		if !offer {
			log.Warn("model requested tools after they were withdrawn", "provider", backend.Name(), "calls", len(calls))
			return result, nil
		}

		result.RoundTrips++
		messages = append(messages, provider.Message{Role: provider.RoleAssistant, Content: text, ToolCalls: calls})
		messages = append(messages, bridge.execute(ctx, calls, deadline, hooks)...)
	}
}

/*
invoke consumes one backend turn, forwarding text as it streams.
*/
func (bridge *Bridge) invoke(
	ctx context.Context, backend provider.Backend, params *provider.Params, hooks Hooks,
) (string, []provider.ToolCall, error) {
	var (
		builder strings.Builder
		calls   []provider.ToolCall
		done    bool
	)

	for event := range backend.Generate(ctx, params) {
		switch event.Kind {
		case provider.EventDelta:
			builder.WriteString(event.Text)

			if hooks.OnText != nil {
				hooks.OnText(event.Text)
			}
		case provider.EventToolCall:
			calls = append(calls, event.ToolCalls...)
		case provider.EventError:
			return builder.String(), nil, event.Err
		case provider.EventDone:
			done = true
		}
	}

	if err := ctx.Err(); err != nil {
		return builder.String(), nil, err
	}

	if !done {
		return builder.String(), nil, errors.NewError(errors.ErrMalformedResponse, "stream ended without completion")
	}

	return builder.String(), calls, nil
}

/*
execute runs the calls of one round-trip in order. Calls that no longer fit
the budget are answered with a budget error instead of running.
*/
func (bridge *Bridge) execute(
	ctx context.Context, calls []provider.ToolCall, deadline time.Time, hooks Hooks,
) []provider.Message {
	out := make([]provider.Message, 0, len(calls))

	for _, call := range calls {
		if hooks.OnToolCall != nil {
			hooks.OnToolCall(call)
		}

		var (
			content string
			failed  bool
		)

		if remaining := time.Until(deadline); remaining <= 0 || ctx.Err() != nil {
			content, failed = errors.ErrToolBudget.JSON(), true
		} else {
			toolCtx, cancel := context.WithTimeout(ctx, remaining)
			content, failed = bridge.registry.Call(toolCtx, call)
			cancel()
		}

		if hooks.OnToolResult != nil {
			hooks.OnToolResult(call, content, failed)
		}

		out = append(out, provider.Message{
			Role:       provider.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
			Name:       call.Name,
		})
	}

	return out
}
