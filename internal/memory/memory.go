// Package memory is the agent's append-only event log: the source of
// truth for the history the ChatCompleter sends the LLM.
//
// A plain slice behind a mutex, the same shape this codebase uses
// elsewhere for small shared collections guarded by a single lock.
package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/livekit-examples/kitt-agent/internal/types"
)

// Memory is an ordered, append-only list of MeetingEvents. Safe for
// concurrent use.
type Memory struct {
	mu     sync.Mutex
	events []types.MeetingEvent
}

// New returns an empty conversation memory.
func New() *Memory {
	return &Memory{}
}

// AppendSpeech records a speech turn.
func (m *Memory) AppendSpeech(participant, text string, isBot bool) types.MeetingEvent {
	ev := types.MeetingEvent{
		ID:          uuid.NewString(),
		Kind:        types.EventSpeech,
		At:          time.Now(),
		Participant: participant,
		Text:        text,
		IsBot:       isBot,
	}
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return ev
}

// AppendPresence records a join or leave marker.
func (m *Memory) AppendPresence(participant string, joined bool) types.MeetingEvent {
	ev := types.MeetingEvent{
		ID:          uuid.NewString(),
		Kind:        types.EventPresence,
		At:          time.Now(),
		Participant: participant,
		Joined:      joined,
	}
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return ev
}

// Snapshot returns a copy of the event list as it stands right now —
// used to build LLM history excluding the prompt that triggered the turn.
func (m *Memory) Snapshot() []types.MeetingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.MeetingEvent, len(m.events))
	copy(out, m.events)
	return out
}
