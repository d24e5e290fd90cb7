package session

import (
	"encoding/json"
	"sync"
)

// Console keeps the shared console history that is replayed to clients at
// handshake. Entries are stored as the raw argument lists of console
// frames so replay is byte-faithful.
type Console struct {
	mu      sync.Mutex
	entries [][]json.RawMessage
}

// NewConsole creates an empty console history.
func NewConsole() *Console {
	return &Console{}
}

// Apply records a console event. The "clear" kind resets the history;
// everything else is appended.
func (c *Console) Apply(kind string, args []json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == "clear" {
		c.entries = nil
		return
	}
	c.entries = append(c.entries, args)
}

// History returns a snapshot of the recorded entries, oldest first.
func (c *Console) History() [][]json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]json.RawMessage, len(c.entries))
	copy(out, c.entries)
	return out
}
