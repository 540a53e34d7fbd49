package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vol-funding-engine/internal/feemath"
	"vol-funding-engine/internal/ledger"
	"vol-funding-engine/internal/oracle"
	"vol-funding-engine/internal/storage"
	"vol-funding-engine/internal/turbulence"
)

// State is the engine's working state, distinct from the ledger itself.
type State struct {
	Initialized       bool
	LastUpdate        int64
	PriceAtLastUpdate int64
	LastRoundID       uint64
}

// Options wire an engine instance. One engine per traded instrument;
// instances share no state.
type Options struct {
	Instrument string
	// Precision is the fixed-point scale; the first ledger entry equals
	// exactly this value (baseline multiplier of 1.0).
	Precision  uint64
	Feed       oracle.RoundFeed
	Fee        feemath.FeeFunction
	Turbulence turbulence.Config
	// Store, when set, receives an atomic checkpoint per applied trigger.
	Store  storage.CheckpointStore
	Logger zerolog.Logger

	// Resume state from a prior run. PriorEntries seed the in-memory
	// ledger; PriorState/PriorTurbulence restore the working state.
	PriorEntries    []ledger.Entry
	PriorState      *State
	PriorTurbulence *turbulence.State
}

// Engine converts sparse oracle samples into the continuously-accrued
// funding fee ledger. Updates happen only when an external action triggers
// them; between triggers the engine holds O(1) state (the price cached at
// the last trigger plus whatever the oracle currently reports).
type Engine struct {
	mu         sync.RWMutex
	instrument string
	precision  uint64
	feed       oracle.RoundFeed
	fee        feemath.FeeFunction
	ledger     *ledger.Ledger
	turb       *turbulence.Indicator
	store      storage.CheckpointStore
	logger     zerolog.Logger
	state      State
}

// New validates options and constructs the engine.
func New(opts Options) (*Engine, error) {
	if opts.Precision == 0 {
		return nil, fmt.Errorf("engine: precision must be positive")
	}
	if opts.Feed == nil {
		return nil, fmt.Errorf("engine: oracle feed is required")
	}
	if opts.Fee == nil {
		return nil, fmt.Errorf("engine: fee function is required")
	}
	if err := opts.Turbulence.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		instrument: opts.Instrument,
		precision:  opts.Precision,
		feed:       opts.Feed,
		fee:        opts.Fee,
		ledger:     ledger.New(),
		turb:       turbulence.New(opts.Turbulence),
		store:      opts.Store,
		logger:     opts.Logger.With().Str("component", "engine").Str("instrument", opts.Instrument).Logger(),
	}

	for _, entry := range opts.PriorEntries {
		if err := e.ledger.Append(entry.Timestamp, entry.Cumulative); err != nil {
			return nil, fmt.Errorf("engine: restore ledger: %w", err)
		}
	}
	if opts.PriorState != nil {
		e.state = *opts.PriorState
	}
	if opts.PriorTurbulence != nil {
		e.turb.Restore(*opts.PriorTurbulence)
	}

	return e, nil
}

// OnTrigger brings the ledger up to date as of now and returns the new
// cumulative fee-per-unit. All validation happens before any mutation; a
// failed trigger leaves the engine, the indicator, and the ledger untouched.
func (e *Engine) OnTrigger(ctx context.Context, now int64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Initialized && now <= e.state.LastUpdate {
		return 0, fmt.Errorf("%w: now=%d last=%d", ErrStaleTrigger, now, e.state.LastUpdate)
	}

	round, err := e.feed.CurrentRound(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: read oracle: %w", err)
	}
	if round.Timestamp > now {
		return 0, fmt.Errorf("%w: round timestamp %d is after trigger time %d", ErrCorruptOracleState, round.Timestamp, now)
	}
	if e.state.Initialized && round.RoundID < e.state.LastRoundID {
		return 0, fmt.Errorf("%w: round id regressed from %d to %d", ErrCorruptOracleState, e.state.LastRoundID, round.RoundID)
	}

	newValue := e.precision
	if e.state.Initialized {
		added, feeErr := e.accruedFee(round, now)
		if feeErr != nil {
			return 0, feeErr
		}
		latest, _ := e.ledger.Latest()
		if added > math.MaxUint64-latest.Cumulative {
			return 0, fmt.Errorf("%w: cumulative value overflow", ErrArithmeticOverflow)
		}
		newValue = latest.Cumulative + added
	}

	// Validation is done; apply turbulence, durable checkpoint, then the
	// in-memory transition as one unit. A failed checkpoint rolls the
	// indicator back so nothing is observably half-applied.
	savedTurb := e.turb.State()
	pct := e.turb.OnTrigger(now, round.Price, round.Timestamp)

	if e.store != nil {
		cp := storage.Checkpoint{
			TriggerID:         uuid.New(),
			Instrument:        e.instrument,
			Timestamp:         now,
			Cumulative:        newValue,
			PriceAtLastUpdate: round.Price,
			LastRoundID:       round.RoundID,
			Turbulence:        e.turb.State(),
			CreatedAt:         time.Now().UTC(),
		}
		if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
			e.turb.Restore(savedTurb)
			return 0, fmt.Errorf("engine: persist checkpoint: %w", err)
		}
	}

	if err := e.ledger.Append(now, newValue); err != nil {
		// unreachable after the precondition checks above
		e.turb.Restore(savedTurb)
		return 0, fmt.Errorf("engine: ledger append: %w", err)
	}

	e.state = State{
		Initialized:       true,
		LastUpdate:        now,
		PriceAtLastUpdate: round.Price,
		LastRoundID:       round.RoundID,
	}

	e.logger.Info().
		Int64("now", now).
		Uint64("cumulative", newValue).
		Uint64("turbulence_pct", pct).
		Int64("price", round.Price).
		Uint64("round_id", round.RoundID).
		Msg("trigger applied")

	return newValue, nil
}

// accruedFee computes the fee added since the last trigger using the
// two-segment time split. Any oracle rounds strictly between the last
// trigger and the start of the currently active round are deliberately
// ignored: the engine keeps no round history.
func (e *Engine) accruedFee(round oracle.Round, now int64) (uint64, error) {
	t0 := e.state.LastUpdate
	t1 := round.Timestamp
	t2 := now

	if t1 <= t0 {
		// The active round predates the last trigger: one segment at the
		// current price for the whole elapsed interval.
		fee, err := e.fee.FeeForInterval(round.Price, uint64(t2-t0))
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
		}
		return fee, nil
	}

	// A round changed during the interval: the cached price covers up to
	// the latest round's start, the current price covers the remainder.
	first, err := e.fee.FeeForInterval(e.state.PriceAtLastUpdate, uint64(t1-t0))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
	}
	second, err := e.fee.FeeForInterval(round.Price, uint64(t2-t1))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
	}
	if first > math.MaxUint64-second {
		return 0, fmt.Errorf("%w: segment sum overflow", ErrArithmeticOverflow)
	}
	return first + second, nil
}

// LedgerValueAt returns the cumulative value stored at exactly the given
// trigger timestamp; no interpolation is offered.
func (e *Engine) LedgerValueAt(timestamp int64) (uint64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.ValueAt(timestamp)
}

// TurbulencePercent returns the current turbulence percentage.
func (e *Engine) TurbulencePercent() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.turb.Percent()
}

// Latest returns the most recent ledger entry.
func (e *Engine) Latest() (ledger.Entry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Latest()
}

// LedgerEntries returns a copy of the full snapshot log.
func (e *Engine) LedgerEntries() []ledger.Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Entries()
}

// State returns a copy of the engine's working state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// TurbulenceState returns a copy of the indicator's working state.
func (e *Engine) TurbulenceState() turbulence.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.turb.State()
}

// Instrument names the instrument this engine accrues fees for.
func (e *Engine) Instrument() string {
	return e.instrument
}
