package math_test

import (
	"testing"

	fpmath "AuctionLedger/internal/math"
)

func TestPercentOf(t *testing.T) {
	tests := []struct {
		amount, pct, want int64
	}{
		{100, 5, 5},
		{106, 5, 5},  // floor(5.3)
		{112, 2, 2},  // floor(2.24)
		{99, 2, 1},   // floor(1.98)
		{1, 5, 0},    // below one unit
		{0, 5, 0},
		{1_000_000_000_000, 5, 50_000_000_000},
		// Large enough that amount*pct overflows int64; big.Int path.
		{int64(^uint64(0) >> 1), 2, int64(^uint64(0)>>1) / 100 * 2},
	}

	for _, tt := range tests {
		got := fpmath.PercentOf(tt.amount, tt.pct)
		if got != tt.want {
			t.Errorf("PercentOf(%d, %d): got %d, want %d", tt.amount, tt.pct, got, tt.want)
		}
	}
}

func TestMulDiv(t *testing.T) {
	if got := fpmath.MulDiv(7, 3, 2); got != 10 {
		t.Errorf("MulDiv(7,3,2): got %d, want 10 (truncated)", got)
	}
	if got := fpmath.MulDiv(-7, 3, 2); got != -10 {
		t.Errorf("MulDiv(-7,3,2): got %d, want -10 (truncated toward zero)", got)
	}
}

func TestAddChecked(t *testing.T) {
	maxI64 := int64(^uint64(0) >> 1)

	if sum, ok := fpmath.AddChecked(1, 2); !ok || sum != 3 {
		t.Errorf("AddChecked(1,2): got %d %v", sum, ok)
	}
	if _, ok := fpmath.AddChecked(maxI64, 1); ok {
		t.Error("AddChecked overflow not detected")
	}
	if _, ok := fpmath.AddChecked(-maxI64-1, -1); ok {
		t.Error("AddChecked underflow not detected")
	}
	if sum, ok := fpmath.AddChecked(maxI64, 0); !ok || sum != maxI64 {
		t.Errorf("AddChecked(max,0): got %d %v", sum, ok)
	}
}
