// Package transcript folds streamed text events into an ordered list of
// chat turns.
package transcript

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the conversation.
type Turn struct {
	Role Role
	Text string
}

// Event is emitted whenever the turn list changes. Turns is a snapshot.
type Event struct {
	Turns []Turn
}

// Merger maintains the turn list. Consecutive partial assistant fragments
// coalesce into a single growing turn, which is always the last element;
// the final fragment replaces the accumulated text outright.
type Merger struct {
	mu         sync.RWMutex
	turns      []Turn
	inProgress bool
	eventsCh   chan Event
}

// NewMerger creates a merger with the given event buffer size.
func NewMerger(eventBuffer int) *Merger {
	return &Merger{eventsCh: make(chan Event, eventBuffer)}
}

// AddUser appends one immutable user turn.
func (m *Merger) AddUser(text string) {
	m.mu.Lock()
	m.inProgress = false
	m.turns = append(m.turns, Turn{Role: RoleUser, Text: text})
	m.mu.Unlock()
	m.emit()
}

// ApplyAssistant applies a streamed assistant fragment. Partial fragments
// accumulate into the in-progress turn; a final fragment is authoritative
// and replaces whatever accumulated.
func (m *Merger) ApplyAssistant(fragment string, partial bool) {
	m.mu.Lock()
	if m.inProgress && len(m.turns) > 0 {
		last := &m.turns[len(m.turns)-1]
		if partial {
			last.Text = joinFragment(last.Text, fragment)
		} else {
			last.Text = fragment
		}
	} else {
		m.turns = append(m.turns, Turn{Role: RoleAssistant, Text: fragment})
	}
	m.inProgress = partial
	m.mu.Unlock()
	m.emit()
}

// joinFragment concatenates a streamed fragment onto accumulated text,
// inserting a space unless the fragment opens with punctuation or the
// accumulated text already ends with whitespace.
func joinFragment(acc, fragment string) string {
	if acc == "" || fragment == "" {
		return acc + fragment
	}
	accEnd, _ := utf8.DecodeLastRuneInString(acc)
	fragStart, _ := utf8.DecodeRuneInString(fragment)
	if unicode.IsSpace(accEnd) || unicode.IsSpace(fragStart) || unicode.IsPunct(fragStart) {
		return acc + fragment
	}
	return acc + " " + fragment
}

// Turns returns a snapshot of the current turn list.
func (m *Merger) Turns() []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Text renders the transcript for display.
func (m *Merger) Text() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.ToUpper(string(t.Role)))
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String()
}

// Events returns the channel of transcript updates.
func (m *Merger) Events() <-chan Event {
	return m.eventsCh
}

// emit publishes a snapshot without blocking.
func (m *Merger) emit() {
	select {
	case m.eventsCh <- Event{Turns: m.Turns()}:
	default:
	}
}
