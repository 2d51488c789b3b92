package core

import "sync"

// MaxToolRounds is the default cap on tool dispatch rounds per run.
const MaxToolRounds = 10

// RoundBudget enforces a maximum number of tool dispatch rounds per run.
type RoundBudget struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewRoundBudget creates a new budget allowing max rounds.
// If max == 0, unlimited rounds are allowed.
func NewRoundBudget(max int) *RoundBudget {
	return &RoundBudget{max: max}
}

// Take consumes one round and reports whether it was available.
func (b *RoundBudget) Take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 && b.count >= b.max {
		return false
	}
	b.count++

	return true
}

// Exhausted reports whether no further round may be taken.
func (b *RoundBudget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.max > 0 && b.count >= b.max
}

// Count returns the number of rounds taken.
func (b *RoundBudget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

// Remaining returns how many rounds are left before hitting the limit.
func (b *RoundBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max == 0 {
		return -1 // unlimited
	}

	return b.max - b.count
}
