package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"vol-funding-engine/internal/turbulence"
)

// ErrNotConfigured indicates the backing store was not initialised.
var ErrNotConfigured = errors.New("storage: not configured")

// LedgerRow is one persisted snapshot of the append-only fee ledger.
type LedgerRow struct {
	Timestamp  int64
	Cumulative uint64
	CreatedAt  time.Time
}

// Checkpoint bundles everything a single applied trigger changes: the new
// ledger row plus the engine and turbulence working state. Stores must
// write it in one transaction.
type Checkpoint struct {
	TriggerID         uuid.UUID
	Instrument        string
	Timestamp         int64
	Cumulative        uint64
	PriceAtLastUpdate int64
	LastRoundID       uint64
	Turbulence        turbulence.State
	CreatedAt         time.Time
}

// CheckpointStore persists trigger checkpoints and serves ledger queries.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	LoadLatest(ctx context.Context, instrument string) (*Checkpoint, error)
	ListLedgerBetween(ctx context.Context, instrument string, from, to int64) ([]LedgerRow, error)
	LedgerValueAt(ctx context.Context, instrument string, timestamp int64) (uint64, bool, error)
}
