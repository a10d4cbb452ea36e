package carl

import "sync"

// Role identifies the author of a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one committed message of the conversation. Content is immutable
// once the turn has been appended.
type Turn struct {
	Role    Role   `json:"role"    yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Transcript is the ordered, session-scoped conversation history and the
// single source of truth for committed turns. Iteration order is commit
// order. The zero value is usable.
//
// Appends are serialized behind a mutex so the store stays consistent even if
// a caller mutates it from outside the single submit flow.
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds a turn at the end of the transcript.
func (t *Transcript) Append(turn Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, turn)
}

// Clear empties the transcript. Idempotent.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = nil
}

// Len returns the number of committed turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// LastRole returns the role of the most recent turn. The second return is
// false when the transcript is empty.
func (t *Transcript) LastRole() (Role, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.turns) == 0 {
		return "", false
	}
	return t.turns[len(t.turns)-1].Role, true
}

// All returns a copy of the committed turns in commit order.
func (t *Transcript) All() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Messages projects the transcript into the wire message list sent to the
// model server.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, 0, len(t.turns))
	for _, turn := range t.turns {
		out = append(out, Message{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	return out
}
