// Package memory holds the agent's two recall surfaces: a bounded
// short-term conversation window and a persistent vector store for
// long-term recall.
package memory

import (
	"sync"
	"time"
)

// Turn is one conversation exchange kept in the short-term window.
type Turn struct {
	Role      string    `json:"role"` // "user", "assistant" or "system"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ShortTerm is a fixed-capacity conversation window. The oldest turns
// fall off as new ones arrive.
type ShortTerm struct {
	mu       sync.Mutex
	turns    []Turn
	capacity int
	now      func() time.Time
}

func NewShortTerm(capacity int) *ShortTerm {
	if capacity <= 0 {
		capacity = 20
	}
	return &ShortTerm{capacity: capacity, now: time.Now}
}

// SetClock replaces the clock (tests).
func (s *ShortTerm) SetClock(now func() time.Time) { s.now = now }

// Add appends a turn, evicting the oldest when over capacity.
func (s *ShortTerm) Add(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{Role: role, Content: content, Timestamp: s.now()})
	if len(s.turns) > s.capacity {
		s.turns = s.turns[len(s.turns)-s.capacity:]
	}
}

// Turns returns a copy of the window, oldest first.
func (s *ShortTerm) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Clear drops the window.
func (s *ShortTerm) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

// Len returns the current number of turns.
func (s *ShortTerm) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}
