package token_test

import (
	"errors"
	"math"
	"testing"

	"LendLedger/internal/token"
)

func principal(b byte) token.Address {
	var a token.Address
	a[0] = b
	return a
}

func newBookWithAsset(t *testing.T, issuer token.Address) (*token.Book, token.Address) {
	t.Helper()
	book := token.NewBook()
	asset := token.Derive(token.SeedLoanAsset, issuer[:])
	if err := book.CreateAsset(asset, issuer); err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return book, asset
}

func TestDerive_Deterministic(t *testing.T) {
	market := principal(0x01)
	a := token.Derive(token.SeedLoanVault, market[:])
	b := token.Derive(token.SeedLoanVault, market[:])
	if a != b {
		t.Error("same seed and parts must derive the same address")
	}

	c := token.Derive(token.SeedCollateralVault, market[:])
	if a == c {
		t.Error("different seeds must derive different addresses")
	}
}

func TestDerive_LengthPrefixed(t *testing.T) {
	a := token.Derive("s", []byte("ab"), []byte("c"))
	b := token.Derive("s", []byte("a"), []byte("bc"))
	if a == b {
		t.Error("part boundaries must affect the derived address")
	}
}

func TestParseAddress_RoundTrip(t *testing.T) {
	addr := principal(0x42)
	parsed, err := token.ParseAddress(addr.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != addr {
		t.Errorf("round trip mismatch: %s != %s", parsed, addr)
	}
}

func TestParseAddress_Invalid(t *testing.T) {
	if _, err := token.ParseAddress("zz"); err == nil {
		t.Error("expected error for non-hex input")
	}
	if _, err := token.ParseAddress("abcd"); err == nil {
		t.Error("expected error for short input")
	}
}

func TestCreateAsset_Duplicate(t *testing.T) {
	issuer := principal(0x01)
	book, asset := newBookWithAsset(t, issuer)
	if err := book.CreateAsset(asset, issuer); !errors.Is(err, token.ErrAssetExists) {
		t.Errorf("expected ErrAssetExists, got %v", err)
	}
}

func TestCreateAccount_UnknownAsset(t *testing.T) {
	book := token.NewBook()
	err := book.CreateAccount(principal(0x02), principal(0x03), principal(0x04))
	if !errors.Is(err, token.ErrUnknownAsset) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestIssue_RequiresIssuerAuthority(t *testing.T) {
	issuer := principal(0x01)
	book, asset := newBookWithAsset(t, issuer)

	vault := token.Derive(token.SeedLoanVault, issuer[:])
	if err := book.CreateAccount(vault, issuer, asset); err != nil {
		t.Fatalf("create account: %v", err)
	}

	if err := book.Issue(asset, vault, 100, token.AuthorityFor(principal(0x09))); !errors.Is(err, token.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	if err := book.Issue(asset, vault, 100, token.AuthorityFor(issuer)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	bal, err := book.Balance(vault)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 100 {
		t.Errorf("balance: got %d, want 100", bal)
	}
}

func TestIssue_SupplyOverflow(t *testing.T) {
	issuer := principal(0x01)
	book, asset := newBookWithAsset(t, issuer)
	vault := token.Derive(token.SeedLoanVault, issuer[:])
	if err := book.CreateAccount(vault, issuer, asset); err != nil {
		t.Fatalf("create account: %v", err)
	}

	if err := book.Issue(asset, vault, math.MaxUint64, token.AuthorityFor(issuer)); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	if err := book.Issue(asset, vault, 1, token.AuthorityFor(issuer)); !errors.Is(err, token.ErrSupplyOverflow) {
		t.Errorf("expected ErrSupplyOverflow, got %v", err)
	}
}

func TestTransfer_AuthorityAndFunds(t *testing.T) {
	issuer := principal(0x01)
	alice := principal(0x0A)
	bob := principal(0x0B)

	book, asset := newBookWithAsset(t, issuer)

	aliceAcc := token.DeriveHolding(alice, asset)
	bobAcc := token.DeriveHolding(bob, asset)
	for _, c := range []struct{ addr, owner token.Address }{{aliceAcc, alice}, {bobAcc, bob}} {
		if err := book.CreateAccount(c.addr, c.owner, asset); err != nil {
			t.Fatalf("create account: %v", err)
		}
	}
	if err := book.Issue(asset, aliceAcc, 1000, token.AuthorityFor(issuer)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Wrong authority.
	if err := book.Transfer(asset, aliceAcc, bobAcc, 100, token.AuthorityFor(bob)); !errors.Is(err, token.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// Insufficient funds.
	if err := book.Transfer(asset, aliceAcc, bobAcc, 1001, token.AuthorityFor(alice)); !errors.Is(err, token.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Faulted transfers must not move anything.
	if bal, _ := book.Balance(aliceAcc); bal != 1000 {
		t.Fatalf("source balance changed after faulted transfers: %d", bal)
	}
	if bal, _ := book.Balance(bobAcc); bal != 0 {
		t.Fatalf("destination balance changed after faulted transfers: %d", bal)
	}

	if err := book.Transfer(asset, aliceAcc, bobAcc, 400, token.AuthorityFor(alice)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if bal, _ := book.Balance(aliceAcc); bal != 600 {
		t.Errorf("source: got %d, want 600", bal)
	}
	if bal, _ := book.Balance(bobAcc); bal != 400 {
		t.Errorf("destination: got %d, want 400", bal)
	}
}

func TestTransfer_AssetMismatch(t *testing.T) {
	issuer := principal(0x01)
	book, asset := newBookWithAsset(t, issuer)

	other := token.Derive(token.SeedCollateralAsset, issuer[:])
	if err := book.CreateAsset(other, issuer); err != nil {
		t.Fatalf("create asset: %v", err)
	}

	alice := principal(0x0A)
	src := token.DeriveHolding(alice, asset)
	dst := token.DeriveHolding(alice, other)
	if err := book.CreateAccount(src, alice, asset); err != nil {
		t.Fatal(err)
	}
	if err := book.CreateAccount(dst, alice, other); err != nil {
		t.Fatal(err)
	}

	if err := book.Transfer(asset, src, dst, 0, token.AuthorityFor(alice)); !errors.Is(err, token.ErrAssetMismatch) {
		t.Errorf("expected ErrAssetMismatch, got %v", err)
	}
}

func TestTransfer_ZeroAmount(t *testing.T) {
	issuer := principal(0x01)
	book, asset := newBookWithAsset(t, issuer)
	alice := principal(0x0A)
	bob := principal(0x0B)
	src := token.DeriveHolding(alice, asset)
	dst := token.DeriveHolding(bob, asset)
	if err := book.CreateAccount(src, alice, asset); err != nil {
		t.Fatal(err)
	}
	if err := book.CreateAccount(dst, bob, asset); err != nil {
		t.Fatal(err)
	}

	if err := book.Transfer(asset, src, dst, 0, token.AuthorityFor(alice)); err != nil {
		t.Errorf("zero transfer should succeed trivially: %v", err)
	}
}
