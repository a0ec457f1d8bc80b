package orchestrator

import (
	"github.com/theapemachine/mnemo/pkg/memory"
	"github.com/theapemachine/mnemo/pkg/provider"
)

type EventKind string

const (
	EventText   EventKind = "text"
	EventTool   EventKind = "tool"
	EventStatus EventKind = "status"
	EventError  EventKind = "error"
	EventDone   EventKind = "done"
)

/*
Turn is one user message to answer. Provider optionally names the provider
to try first.
*/
type Turn struct {
	Scope    memory.Scope  `json:"scope"`
	Message  string        `json:"message"`
	Tier     provider.Tier `json:"tier"`
	Provider string        `json:"provider,omitempty"`
}

/*
Event is streamed to the caller of HandleTurn. Exactly one payload field is
set, matching Kind.
*/
type Event struct {
	Kind   EventKind      `json:"kind"`
	Text   string         `json:"text,omitempty"`
	Tool   *ToolEvent     `json:"tool,omitempty"`
	Status *StatusEvent   `json:"status,omitempty"`
	Error  *TerminalError `json:"error,omitempty"`
	Done   *Summary       `json:"done,omitempty"`
}

type ToolPhase string

const (
	ToolPhaseCall   ToolPhase = "call"
	ToolPhaseResult ToolPhase = "result"
)

type ToolEvent struct {
	Phase     ToolPhase `json:"phase"`
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Arguments string    `json:"arguments,omitempty"`
	Result    string    `json:"result,omitempty"`
	Failed    bool      `json:"failed,omitempty"`
}

/*
StatusEvent announces the provider serving an attempt. Reset tells the
client to discard text streamed by the previous, failed attempt.
*/
type StatusEvent struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Attempt  int    `json:"attempt"`
	Reset    bool   `json:"reset"`
}

/*
TerminalError ends a turn. Message is safe to show to the user.
*/
type TerminalError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type Summary struct {
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	EpisodeID       string `json:"episode_id,omitempty"`
	UserRecord      string `json:"user_record,omitempty"`
	AssistantRecord string `json:"assistant_record,omitempty"`
	Facts           int    `json:"facts"`
	RoundTrips      int    `json:"round_trips"`
	Degraded        bool   `json:"degraded"`
	Memories        int    `json:"memories"`
}
