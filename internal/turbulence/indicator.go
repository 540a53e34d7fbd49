package turbulence

import (
	"fmt"
)

// Config fixes the indicator constants at construction time.
type Config struct {
	HeartbeatSeconds int64  `mapstructure:"heartbeat_seconds"`
	GrowthStep       uint64 `mapstructure:"growth_step"`
	DecayStep        uint64 `mapstructure:"decay_step"`
	MaxPercent       uint64 `mapstructure:"max_percent"`
	FloorPercent     uint64 `mapstructure:"floor_percent"`
}

// Validate rejects out-of-range constants. Invalid configuration is a
// startup error; runtime operations on a validated indicator cannot fail.
func (c Config) Validate() error {
	if c.HeartbeatSeconds <= 0 {
		return fmt.Errorf("turbulence: heartbeat_seconds must be positive, got %d", c.HeartbeatSeconds)
	}
	if c.GrowthStep == 0 {
		return fmt.Errorf("turbulence: growth_step must be positive")
	}
	if c.DecayStep == 0 {
		return fmt.Errorf("turbulence: decay_step must be positive")
	}
	if c.MaxPercent == 0 {
		return fmt.Errorf("turbulence: max_percent must be positive")
	}
	if c.FloorPercent > c.MaxPercent {
		return fmt.Errorf("turbulence: floor_percent %d exceeds max_percent %d", c.FloorPercent, c.MaxPercent)
	}
	return nil
}

// State is the indicator's persistable working state.
type State struct {
	Percent            uint64
	LastCVI            int64
	PreviousCVI        int64
	LastUpdate         int64
	LastRoundTimestamp int64
}

// Indicator tracks how erratically the oracle has been updating: rapid
// successive rounds push the percentage up, quiet periods decay it back
// toward zero. The value is bounded to [0, MaxPercent].
type Indicator struct {
	cfg   Config
	state State
}

// New constructs an indicator from a validated config.
func New(cfg Config) *Indicator {
	return &Indicator{cfg: cfg}
}

// Restore resumes from persisted state.
func (i *Indicator) Restore(state State) {
	i.state = state
}

// OnTrigger advances the indicator to now. Decay is applied strictly before
// growth: a trigger that both closes a long silence and observes a fresh
// rapid round first relaxes toward zero, then accumulates the new burst.
func (i *Indicator) OnTrigger(now int64, currentPrice int64, latestRoundTimestamp int64) uint64 {
	if i.state.LastUpdate > 0 {
		elapsed := now - i.state.LastUpdate
		if elapsed > 0 {
			heartbeats := uint64(elapsed / i.cfg.HeartbeatSeconds)
			i.decay(heartbeats)
		}
	}

	if i.isRapidRound(latestRoundTimestamp) {
		i.grow()
	}

	i.state.PreviousCVI = i.state.LastCVI
	i.state.LastCVI = currentPrice
	if latestRoundTimestamp > i.state.LastRoundTimestamp {
		i.state.LastRoundTimestamp = latestRoundTimestamp
	}
	i.state.LastUpdate = now

	return i.state.Percent
}

func (i *Indicator) decay(heartbeats uint64) {
	step := heartbeats * i.cfg.DecayStep
	if step >= i.state.Percent {
		i.state.Percent = 0
		return
	}
	i.state.Percent -= step
	if i.state.Percent < i.cfg.FloorPercent {
		// no positive residual below the floor survives
		i.state.Percent = 0
	}
}

func (i *Indicator) grow() {
	i.state.Percent += i.cfg.GrowthStep
	if i.state.Percent > i.cfg.MaxPercent {
		i.state.Percent = i.cfg.MaxPercent
	}
}

// isRapidRound reports whether a newly observed round started within one
// heartbeat of the previously observed one. The very first observed round
// has no predecessor and never counts as rapid.
func (i *Indicator) isRapidRound(latestRoundTimestamp int64) bool {
	if latestRoundTimestamp <= i.state.LastRoundTimestamp {
		return false
	}
	if i.state.LastRoundTimestamp == 0 {
		return false
	}
	return latestRoundTimestamp-i.state.LastRoundTimestamp < i.cfg.HeartbeatSeconds
}

// Percent returns the current turbulence percentage.
func (i *Indicator) Percent() uint64 {
	return i.state.Percent
}

// State returns a copy of the working state for checkpointing.
func (i *Indicator) State() State {
	return i.state
}
