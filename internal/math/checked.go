package math

import "math"

// CheckedAdd returns a+b and reports whether the sum fits in uint64.
// Ledger balance fields are uint64; every addition to them must go
// through here so a doomed transition is rejected before any transfer.
func CheckedAdd(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}

// CheckedSub returns a-b and reports whether the subtraction underflows.
func CheckedSub(a, b uint64) (uint64, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}

// CheckedMul returns a*b and reports whether the product fits in uint64.
func CheckedMul(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxUint64/b {
		return 0, false
	}
	return a * b, true
}

// MaxAllowableBorrow computes the solvency bound for a position:
//
//	collateral * 10000 / collateralRatioBps
//
// Integer arithmetic throughout. The bound treats one unit of collateral
// and one unit of loan asset as directly comparable; there is no price
// relationship or decimal adjustment. The multiplication is checked —
// ok is false when collateral * 10000 does not fit in uint64.
func MaxAllowableBorrow(collateral uint64, collateralRatioBps uint16) (uint64, bool) {
	scaled, ok := CheckedMul(collateral, 10000)
	if !ok {
		return 0, false
	}
	return scaled / uint64(collateralRatioBps), true
}
