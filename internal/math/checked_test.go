package math_test

import (
	"math"
	"testing"

	lmath "LendLedger/internal/math"
)

func TestCheckedAdd(t *testing.T) {
	tests := []struct {
		name   string
		a, b   uint64
		want   uint64
		wantOK bool
	}{
		{"normal", 10, 20, 30, true},
		{"zero", 0, 0, 0, true},
		{"boundary", math.MaxUint64 - 1, 1, math.MaxUint64, true},
		{"overflow", math.MaxUint64, 1, 0, false},
		{"overflow both halves", math.MaxUint64/2 + 1, math.MaxUint64/2 + 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := lmath.CheckedAdd(tt.a, tt.b)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("sum: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCheckedMul(t *testing.T) {
	tests := []struct {
		name   string
		a, b   uint64
		want   uint64
		wantOK bool
	}{
		{"normal", 5, 6, 30, true},
		{"zero left", 0, math.MaxUint64, 0, true},
		{"zero right", math.MaxUint64, 0, 0, true},
		{"boundary", math.MaxUint64 / 2, 2, math.MaxUint64 - 1, true},
		{"overflow", math.MaxUint64/2 + 1, 2, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := lmath.CheckedMul(tt.a, tt.b)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("product: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMaxAllowableBorrow(t *testing.T) {
	// 1,000,000 collateral at 120% ratio allows 833,333 (integer division).
	got, ok := lmath.MaxAllowableBorrow(1_000_000, 12000)
	if !ok {
		t.Fatal("expected ok")
	}
	if got != 833_333 {
		t.Errorf("got %d, want 833333", got)
	}
}

func TestMaxAllowableBorrow_MulOverflow(t *testing.T) {
	if _, ok := lmath.MaxAllowableBorrow(math.MaxUint64/10000+1, 12000); ok {
		t.Error("expected overflow")
	}
}

func TestMaxAllowableBorrow_FullRatio(t *testing.T) {
	got, ok := lmath.MaxAllowableBorrow(500, 10000)
	if !ok || got != 500 {
		t.Errorf("got %d ok=%v, want 500 true", got, ok)
	}
}
