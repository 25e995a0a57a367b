package state

import "LendLedger/internal/token"

// Protocol constants, fixed at market creation.
const (
	InterestRateBps    uint16 = 500   // stored, never applied to balances in this core
	CollateralRatioBps uint16 = 12000 // 120% required collateralization
)

// Market is the ledger record for one lending pool. CollateralAmount and
// BorrowedAmount are running totals across all positions bound to the
// market and must always equal the per-position sums.
type Market struct {
	ID            string
	Address       token.Address
	Administrator token.Address

	CollateralAsset token.Address
	LoanAsset       token.Address
	CollateralVault token.Address
	LoanVault       token.Address

	InterestRateBps    uint16
	CollateralRatioBps uint16

	CollateralAmount uint64
	BorrowedAmount   uint64

	Version int64
}

// VaultAuthority returns the capability to move funds out of this
// market's custody and to issue its assets. It is scoped to the market's
// derived address — never a general-purpose signing key.
func (m *Market) VaultAuthority() token.Authority {
	return token.AuthorityFor(m.Address)
}

// MarketBook is the in-memory market registry.
// Not thread-safe — only accessed from the single-threaded lending core.
type MarketBook struct {
	markets map[string]*Market
}

func NewMarketBook() *MarketBook {
	return &MarketBook{markets: make(map[string]*Market)}
}

// Get returns the market or ErrMarketNotFound.
func (mb *MarketBook) Get(id string) (*Market, error) {
	m, ok := mb.markets[id]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return m, nil
}

// Contains reports whether a market with this identity exists.
func (mb *MarketBook) Contains(id string) bool {
	_, ok := mb.markets[id]
	return ok
}

// Put inserts a new market. Initializing a market whose identity already
// exists fails — creation is never an overwrite.
func (mb *MarketBook) Put(m *Market) error {
	if _, exists := mb.markets[m.ID]; exists {
		return ErrMarketExists
	}
	mb.markets[m.ID] = m
	return nil
}

// Restore directly sets a market record (used for startup reload).
func (mb *MarketBook) Restore(m *Market) {
	mb.markets[m.ID] = m
}

// All returns all markets (for iteration and state digests).
func (mb *MarketBook) All() []*Market {
	out := make([]*Market, 0, len(mb.markets))
	for _, m := range mb.markets {
		out = append(out, m)
	}
	return out
}
