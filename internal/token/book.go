package token

import (
	"errors"
	"fmt"

	lmath "LendLedger/internal/math"
)

var (
	ErrAssetExists       = errors.New("token: asset already registered")
	ErrUnknownAsset      = errors.New("token: unknown asset")
	ErrAccountExists     = errors.New("token: account already exists")
	ErrUnknownAccount    = errors.New("token: unknown account")
	ErrAssetMismatch     = errors.New("token: account does not hold the expected asset")
	ErrInsufficientFunds = errors.New("token: insufficient funds")
	ErrUnauthorized      = errors.New("token: authority does not control the source")
	ErrSupplyOverflow    = errors.New("token: asset supply overflow")
	ErrBalanceOverflow   = errors.New("token: destination balance overflow")
)

// Asset is a registered asset type. Only the issuer's authority may
// create new units of it.
type Asset struct {
	Address Address
	Issuer  Address
	Supply  uint64
}

// Account is a single-asset balance holder. Outbound transfers require
// the owner's authority.
type Account struct {
	Address Address
	Owner   Address
	Asset   Address
	Balance uint64
}

// Authority is the capability to move funds out of accounts owned by its
// holder, and to issue assets whose issuer is its holder. It is minted
// inside the process after the caller has been authenticated — never
// parsed from the wire.
type Authority struct {
	holder Address
}

// AuthorityFor returns the authority scoped to one holder address.
func AuthorityFor(holder Address) Authority {
	return Authority{holder: holder}
}

// Holder returns the address this authority acts for.
func (a Authority) Holder() Address {
	return a.holder
}

// Book is the in-memory asset and custodial-account registry. It is the
// transfer/issuance subsystem the lending core delegates value movement
// to: every fault is reported synchronously and leaves balances untouched.
// Not thread-safe — only accessed from the single-threaded lending core.
type Book struct {
	assets   map[Address]*Asset
	accounts map[Address]*Account
}

func NewBook() *Book {
	return &Book{
		assets:   make(map[Address]*Asset),
		accounts: make(map[Address]*Account),
	}
}

// CreateAsset registers a new asset with the given issuer.
func (b *Book) CreateAsset(addr, issuer Address) error {
	if _, exists := b.assets[addr]; exists {
		return fmt.Errorf("%w: %s", ErrAssetExists, addr)
	}
	b.assets[addr] = &Asset{Address: addr, Issuer: issuer}
	return nil
}

// CreateAccount opens a zero-balance account for one asset.
func (b *Book) CreateAccount(addr, owner, asset Address) error {
	if _, exists := b.accounts[addr]; exists {
		return fmt.Errorf("%w: %s", ErrAccountExists, addr)
	}
	if _, known := b.assets[asset]; !known {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	b.accounts[addr] = &Account{Address: addr, Owner: owner, Asset: asset}
	return nil
}

// Asset returns the registered asset at addr.
func (b *Book) Asset(addr Address) (*Asset, error) {
	a, ok := b.assets[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, addr)
	}
	return a, nil
}

// Account returns the account at addr.
func (b *Book) Account(addr Address) (*Account, error) {
	acc, ok := b.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, addr)
	}
	return acc, nil
}

// Balance returns the current balance of the account at addr.
func (b *Book) Balance(addr Address) (uint64, error) {
	acc, err := b.Account(addr)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Transfer moves amount of asset from one account to another. The
// authority must be held by the owner of the source account, and both
// accounts must be denominated in the given asset. On any fault no
// balance changes. A zero amount passes all checks and moves nothing.
func (b *Book) Transfer(asset, from, to Address, amount uint64, auth Authority) error {
	src, err := b.Account(from)
	if err != nil {
		return err
	}
	dst, err := b.Account(to)
	if err != nil {
		return err
	}
	if src.Asset != asset {
		return fmt.Errorf("%w: source %s holds %s, want %s", ErrAssetMismatch, from, src.Asset, asset)
	}
	if dst.Asset != asset {
		return fmt.Errorf("%w: destination %s holds %s, want %s", ErrAssetMismatch, to, dst.Asset, asset)
	}
	if auth.Holder() != src.Owner {
		return fmt.Errorf("%w: source %s", ErrUnauthorized, from)
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, src.Balance, amount)
	}
	newDst, ok := lmath.CheckedAdd(dst.Balance, amount)
	if !ok {
		return fmt.Errorf("%w: account %s", ErrBalanceOverflow, to)
	}
	src.Balance -= amount
	dst.Balance = newDst
	return nil
}

// Issue creates amount new units of asset in the destination account.
// The authority must be held by the asset's issuer.
func (b *Book) Issue(asset, to Address, amount uint64, auth Authority) error {
	a, err := b.Asset(asset)
	if err != nil {
		return err
	}
	dst, err := b.Account(to)
	if err != nil {
		return err
	}
	if dst.Asset != asset {
		return fmt.Errorf("%w: destination %s holds %s, want %s", ErrAssetMismatch, to, dst.Asset, asset)
	}
	if auth.Holder() != a.Issuer {
		return fmt.Errorf("%w: asset %s", ErrUnauthorized, asset)
	}
	newSupply, ok := lmath.CheckedAdd(a.Supply, amount)
	if !ok {
		return fmt.Errorf("%w: asset %s", ErrSupplyOverflow, asset)
	}
	newDst, ok := lmath.CheckedAdd(dst.Balance, amount)
	if !ok {
		return fmt.Errorf("%w: account %s", ErrBalanceOverflow, to)
	}
	a.Supply = newSupply
	dst.Balance = newDst
	return nil
}

// RestoreAsset directly sets an asset record (used for startup reload).
func (b *Book) RestoreAsset(a Asset) {
	cp := a
	b.assets[a.Address] = &cp
}

// RestoreAccount directly sets an account record (used for startup reload).
func (b *Book) RestoreAccount(acc Account) {
	cp := acc
	b.accounts[acc.Address] = &cp
}

// Assets returns a snapshot copy of all registered assets.
func (b *Book) Assets() []Asset {
	out := make([]Asset, 0, len(b.assets))
	for _, a := range b.assets {
		out = append(out, *a)
	}
	return out
}

// Accounts returns a snapshot copy of all accounts.
func (b *Book) Accounts() []Account {
	out := make([]Account, 0, len(b.accounts))
	for _, acc := range b.accounts {
		out = append(out, *acc)
	}
	return out
}
