package feemath

import (
	"errors"
	"fmt"
	"math"
	"math/big"
)

// ErrOverflow indicates a fee that exceeds the representable range.
var ErrOverflow = errors.New("feemath: fee exceeds uint64 range")

// FeeFunction maps an index price held for a duration to a fee amount in
// ledger precision units. Implementations must be pure, deterministic, and
// monotonic non-decreasing in both arguments.
type FeeFunction interface {
	FeeForInterval(price int64, durationSeconds uint64) (uint64, error)
}

// LinearPremium charges a funding premium proportional to the index level:
// a full day at MaxIndexValue costs DailyRatePPM parts-per-million of the
// ledger precision. Intermediate math runs in big.Int so the overflow check
// is exact.
type LinearPremium struct {
	precision     uint64
	maxIndexValue int64
	dailyRatePPM  uint64
}

const secondsPerDay = 86_400

// NewLinearPremium validates parameters and builds the fee function.
func NewLinearPremium(precision uint64, maxIndexValue int64, dailyRatePPM uint64) (*LinearPremium, error) {
	if precision == 0 {
		return nil, fmt.Errorf("feemath: precision must be positive")
	}
	if maxIndexValue <= 0 {
		return nil, fmt.Errorf("feemath: max index value must be positive, got %d", maxIndexValue)
	}
	if dailyRatePPM == 0 {
		return nil, fmt.Errorf("feemath: daily rate must be positive")
	}
	return &LinearPremium{
		precision:     precision,
		maxIndexValue: maxIndexValue,
		dailyRatePPM:  dailyRatePPM,
	}, nil
}

// FeeForInterval computes precision * price * rate * duration,
// normalised by maxIndexValue * 1e6 * 86400.
func (f *LinearPremium) FeeForInterval(price int64, durationSeconds uint64) (uint64, error) {
	if price < 0 {
		return 0, fmt.Errorf("feemath: negative price %d", price)
	}
	if price == 0 || durationSeconds == 0 {
		return 0, nil
	}

	num := new(big.Int).SetUint64(f.precision)
	num.Mul(num, big.NewInt(price))
	num.Mul(num, new(big.Int).SetUint64(f.dailyRatePPM))
	num.Mul(num, new(big.Int).SetUint64(durationSeconds))

	den := big.NewInt(f.maxIndexValue)
	den.Mul(den, big.NewInt(1_000_000))
	den.Mul(den, big.NewInt(secondsPerDay))

	num.Quo(num, den)
	if !num.IsUint64() {
		return 0, fmt.Errorf("%w: price=%d duration=%ds", ErrOverflow, price, durationSeconds)
	}
	return num.Uint64(), nil
}

// MaxSafeDuration reports the longest interval at the given price that still
// fits the representable range. Used by callers for sanity checks only.
func (f *LinearPremium) MaxSafeDuration(price int64) uint64 {
	if price <= 0 {
		return math.MaxUint64
	}
	limit := new(big.Int).SetUint64(math.MaxUint64)
	den := big.NewInt(f.maxIndexValue)
	den.Mul(den, big.NewInt(1_000_000))
	den.Mul(den, big.NewInt(secondsPerDay))
	limit.Mul(limit, den)

	num := new(big.Int).SetUint64(f.precision)
	num.Mul(num, big.NewInt(price))
	num.Mul(num, new(big.Int).SetUint64(f.dailyRatePPM))

	limit.Quo(limit, num)
	if !limit.IsUint64() {
		return math.MaxUint64
	}
	return limit.Uint64()
}

var _ FeeFunction = (*LinearPremium)(nil)
