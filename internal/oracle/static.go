package oracle

import (
	"context"
	"sync"
)

// Static is a scripted round feed for simulations and tests. Rounds are
// published by the caller; CurrentRound always returns the latest one.
type Static struct {
	mu    sync.Mutex
	round Round
	set   bool
}

// NewStatic builds a feed with no active round.
func NewStatic() *Static {
	return &Static{}
}

// Publish makes the given round the active one.
func (s *Static) Publish(round Round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round = round
	s.set = true
}

// CurrentRound returns the latest published round.
func (s *Static) CurrentRound(ctx context.Context) (Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return Round{}, ErrNoRound
	}
	return s.round, nil
}

var _ RoundFeed = (*Static)(nil)
