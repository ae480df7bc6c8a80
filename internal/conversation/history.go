// Package conversation keeps bounded per-partner chat memory.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/companion/internal/types"
)

// PreambleSize is the number of turns every history starts with: the system
// preamble (user role) and its acknowledgement (model role).
const PreambleSize = 2

// TurnHandle identifies one appended user turn so it can be retracted later.
type TurnHandle string

type entry struct {
	id   TurnHandle
	turn types.Turn
}

// History is the ordered turn list for one partner. Indices 0 and 1 always
// hold the preamble pair; real exchanges start at index 2.
type History struct {
	Partner   string
	CreatedAt time.Time

	mu      sync.RWMutex
	entries []entry
}

func newHistory(partner string, preamble, ack string) *History {
	return &History{
		Partner:   partner,
		CreatedAt: time.Now(),
		entries: []entry{
			{turn: types.UserTurn(preamble)},
			{turn: types.ModelTurn(ack)},
		},
	}
}

// NewEphemeral builds a history that is never stored, used for stateless and
// out-of-character calls.
func NewEphemeral(preamble PreambleBuilder) *History {
	p, ack := preamble()
	return newHistory("", p, ack)
}

// AppendUser appends a user turn and returns a handle for rollback.
func (h *History) AppendUser(text string) TurnHandle {
	id := TurnHandle(uuid.NewString())
	h.mu.Lock()
	h.entries = append(h.entries, entry{id: id, turn: types.UserTurn(text)})
	h.mu.Unlock()
	return id
}

// AppendModel appends the assistant's reply.
func (h *History) AppendModel(text string) {
	h.mu.Lock()
	h.entries = append(h.entries, entry{turn: types.ModelTurn(text)})
	h.mu.Unlock()
}

// Remove retracts the turn with the given handle. Missing handles are ignored.
func (h *History) Remove(handle TurnHandle) bool {
	if handle == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.entries) - 1; i >= PreambleSize; i-- {
		if h.entries[i].id == handle {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return true
		}
	}
	return false
}

// TrimToLimit drops the oldest real turns so that at most limit exchanges
// remain (2*limit+2 turns). A limit <= 0 disables trimming.
func (h *History) TrimToLimit(limit int) int {
	if limit <= 0 {
		return 0
	}
	maxLen := 2*limit + PreambleSize

	h.mu.Lock()
	defer h.mu.Unlock()
	excess := len(h.entries) - maxLen
	if excess <= 0 {
		return 0
	}
	kept := make([]entry, 0, maxLen)
	kept = append(kept, h.entries[:PreambleSize]...)
	kept = append(kept, h.entries[PreambleSize+excess:]...)
	h.entries = kept
	return excess
}

// Turns returns a copy of the full history, preamble included.
func (h *History) Turns() []types.Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]types.Turn, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.turn
	}
	return out
}

// Len returns the number of turns, preamble included.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Exchanges returns the number of turns past the preamble.
func (h *History) Exchanges() int {
	return h.Len() - PreambleSize
}
