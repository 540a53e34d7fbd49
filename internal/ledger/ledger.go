package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNonIncreasingTimestamp indicates an append at or before the latest entry.
	ErrNonIncreasingTimestamp = errors.New("ledger: timestamp not after latest entry")
	// ErrDecreasingValue indicates an append that would break monotonicity.
	ErrDecreasingValue = errors.New("ledger: cumulative value below latest entry")
)

// Entry is a single snapshot: the cumulative fee-per-unit as of a trigger time.
type Entry struct {
	Timestamp  int64
	Cumulative uint64
}

// Ledger is an append-only log of cumulative fee-per-unit snapshots.
// Entries exist only at timestamps where a trigger occurred; no interpolation
// is stored or offered. The engine is the sole writer.
type Ledger struct {
	entries []Entry
	byTime  map[int64]uint64
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{byTime: make(map[int64]uint64)}
}

// Append records a new snapshot. Timestamps must strictly increase and
// cumulative values must never decrease.
func (l *Ledger) Append(timestamp int64, cumulative uint64) error {
	if last, ok := l.Latest(); ok {
		if timestamp <= last.Timestamp {
			return fmt.Errorf("%w: %d <= %d", ErrNonIncreasingTimestamp, timestamp, last.Timestamp)
		}
		if cumulative < last.Cumulative {
			return fmt.Errorf("%w: %d < %d", ErrDecreasingValue, cumulative, last.Cumulative)
		}
	}
	l.entries = append(l.entries, Entry{Timestamp: timestamp, Cumulative: cumulative})
	l.byTime[timestamp] = cumulative
	return nil
}

// ValueAt returns the cumulative value stored at exactly the given timestamp.
func (l *Ledger) ValueAt(timestamp int64) (uint64, bool) {
	v, ok := l.byTime[timestamp]
	return v, ok
}

// Latest returns the most recent entry.
func (l *Ledger) Latest() (Entry, bool) {
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Len reports the number of stored snapshots.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the log in insertion order.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
