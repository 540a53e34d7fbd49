package oracle

import (
	"context"
	"errors"
)

// ErrNoRound indicates the feed has not published any round yet.
var ErrNoRound = errors.New("oracle: no round published")

// Round is one discrete price update published by the index oracle.
type Round struct {
	// Price is the index value in oracle units.
	Price int64
	// RoundID identifies the round; ids never regress across calls.
	RoundID uint64
	// Timestamp is the unix second the round became active.
	Timestamp int64
}

// RoundFeed exposes the currently active oracle round. The engine treats
// reads as fast synchronous queries and never mutates the feed.
type RoundFeed interface {
	CurrentRound(ctx context.Context) (Round, error)
}
