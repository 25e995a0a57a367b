package token

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Address identifies a principal, asset registry, or custodial account.
// System-owned addresses are derived deterministically from stable seeds
// so the same market always resolves to the same custody locations.
type Address [32]byte

// Seeds for system-derived addresses.
const (
	SeedMarket          = "market"
	SeedCollateralAsset = "collateral-asset"
	SeedLoanAsset       = "loan-asset"
	SeedCollateralVault = "collateral-vault"
	SeedLoanVault       = "loan-vault"
	SeedHolding         = "holding"
)

// Derive computes a system-owned address from a seed and identity parts.
// Parts are length-prefixed so ("ab","c") and ("a","bc") never collide.
func Derive(seed string, parts ...[]byte) Address {
	h := sha256.New()
	h.Write([]byte(seed))
	for _, p := range parts {
		h.Write([]byte{byte(len(p))})
		h.Write(p)
	}
	var addr Address
	copy(addr[:], h.Sum(nil))
	return addr
}

// DeriveHolding returns the deterministic holding-account address for a
// principal and asset pair.
func DeriveHolding(owner Address, asset Address) Address {
	return Derive(SeedHolding, owner[:], asset[:])
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the address is the unset zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress decodes a 64-character hex address.
func ParseAddress(s string) (Address, error) {
	var addr Address
	raw, err := hex.DecodeString(s)
	if err != nil {
		return addr, fmt.Errorf("parse address %q: %w", s, err)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("parse address %q: want %d bytes, got %d", s, len(addr), len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}
