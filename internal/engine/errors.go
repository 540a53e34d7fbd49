package engine

import "errors"

var (
	// ErrStaleTrigger rejects a trigger at or before the previous one.
	// The caller supplied a bad timestamp; no state was changed.
	ErrStaleTrigger = errors.New("engine: trigger timestamp not after last update")

	// ErrCorruptOracleState flags oracle data that violates its contract:
	// a round timestamp in the future or a regressing round id. Fatal,
	// never retried here.
	ErrCorruptOracleState = errors.New("engine: corrupt oracle state")

	// ErrArithmeticOverflow flags a fee or ledger value that exceeds the
	// representable range. A correctly configured deployment never hits it.
	ErrArithmeticOverflow = errors.New("engine: arithmetic overflow")
)
