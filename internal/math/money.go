package math

import (
	"math/big"
)

// Monetary amounts are fixed-point int64 values in the engine's smallest unit.
// Percentage arithmetic truncates toward zero (floor for non-negative inputs),
// matching the integer semantics of the settlement rules: a 5% minimum raise on
// a leader of 100 is exactly 5, and commission on 99 at 2% is 1.

const maxInt64 = int64(^uint64(0) >> 1)

// PercentOf returns amount * pct / 100, truncated. Intermediate math is done
// in big.Int when amount is large enough for amount*pct to overflow int64.
func PercentOf(amount, pct int64) int64 {
	if amount >= 0 && pct >= 0 && (amount == 0 || pct <= maxInt64/amount) {
		return amount * pct / 100
	}
	return MulDiv(amount, pct, 100)
}

// MulDiv returns a * b / den, truncated, with 128-bit intermediate precision.
func MulDiv(a, b, den int64) int64 {
	prod := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	prod.Quo(prod, big.NewInt(den))
	return prod.Int64()
}

// AddChecked returns a + b, or false when the sum overflows int64.
func AddChecked(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}
