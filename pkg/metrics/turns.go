package metrics

import (
	"sync"
	"time"
)

// TurnMetrics tracks counters for conversational turns
type TurnMetrics struct {
	mu sync.RWMutex

	// Turn metrics
	TotalTurns    int64
	FailedTurns   int64
	AbortedTurns  int64
	TurnDuration  time.Duration
	StreamedBytes int64

	// Provider metrics
	Fallbacks int64
	Providers map[string]int64

	// Tool metrics
	ToolCalls       int64
	ToolFailures    int64
	DegradedReplies int64

	// Persistence metrics
	PersistFailures int64
	FactsSaved      int64
}

// NewTurnMetrics creates a new TurnMetrics instance
func NewTurnMetrics() *TurnMetrics {
	return &TurnMetrics{Providers: map[string]int64{}}
}

// RecordTurn records a finished turn; aborted turns were cancelled by the client
func (m *TurnMetrics) RecordTurn(success, aborted bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalTurns++

	switch {
	case aborted:
		m.AbortedTurns++
	case !success:
		m.FailedTurns++
	}

	m.TurnDuration += duration
}

// RecordProvider records which provider answered a turn
func (m *TurnMetrics) RecordProvider(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Providers[id]++
}

// RecordFallback records a failover to the next provider
func (m *TurnMetrics) RecordFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fallbacks++
}

// RecordChunk records streamed text
func (m *TurnMetrics) RecordChunk(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamedBytes += int64(size)
}

// RecordToolCall records a tool invocation
func (m *TurnMetrics) RecordToolCall(failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ToolCalls++
	if failed {
		m.ToolFailures++
	}
}

func (m *TurnMetrics) RecordDegraded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DegradedReplies++
}

func (m *TurnMetrics) RecordPersistFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PersistFailures++
}

func (m *TurnMetrics) RecordFacts(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FactsSaved += int64(count)
}

// GetMetrics returns a snapshot of the current metrics
func (m *TurnMetrics) GetMetrics() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	providers := make(map[string]int64, len(m.Providers))
	for id, count := range m.Providers {
		providers[id] = count
	}

	avg := 0.0
	if m.TotalTurns > 0 {
		avg = m.TurnDuration.Seconds() / float64(m.TotalTurns)
	}

	return map[string]any{
		"total_turns":      m.TotalTurns,
		"failed_turns":     m.FailedTurns,
		"aborted_turns":    m.AbortedTurns,
		"avg_turn_seconds": avg,
		"streamed_bytes":   m.StreamedBytes,
		"fallbacks":        m.Fallbacks,
		"providers":        providers,
		"tool_calls":       m.ToolCalls,
		"tool_failures":    m.ToolFailures,
		"degraded_replies": m.DegradedReplies,
		"persist_failures": m.PersistFailures,
		"facts_saved":      m.FactsSaved,
	}
}

// Reset clears every counter
func (m *TurnMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalTurns, m.FailedTurns, m.AbortedTurns = 0, 0, 0
	m.TurnDuration, m.StreamedBytes = 0, 0
	m.Fallbacks = 0
	m.Providers = map[string]int64{}
	m.ToolCalls, m.ToolFailures, m.DegradedReplies = 0, 0, 0
	m.PersistFailures, m.FactsSaved = 0, 0
}
