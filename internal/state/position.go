package state

import "LendLedger/internal/token"

// Position is one principal's ledger entry within one market. MarketID is
// a back-reference for aggregation, immutable after creation — it never
// grants the position authority over market state.
type Position struct {
	Owner    token.Address
	MarketID string

	DepositedCollateral uint64
	Borrowed            uint64

	Version int64
}

// PositionKey identifies a position by (owner, market) pair.
type PositionKey struct {
	Owner    token.Address
	MarketID string
}

// PositionBook is the in-memory position registry.
// Not thread-safe — only accessed from the single-threaded lending core.
type PositionBook struct {
	positions map[PositionKey]*Position
}

func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[PositionKey]*Position)}
}

// Get returns the position for (owner, market) or ErrPositionNotFound.
// Looking up by the acting principal's address doubles as the ownership
// check: a caller can only ever reach a position it owns.
func (pb *PositionBook) Get(owner token.Address, marketID string) (*Position, error) {
	pos, ok := pb.positions[PositionKey{Owner: owner, MarketID: marketID}]
	if !ok {
		return nil, ErrPositionNotFound
	}
	return pos, nil
}

// Put inserts a new zeroed position, failing if one already exists for
// the (owner, market) pair.
func (pb *PositionBook) Put(pos *Position) error {
	key := PositionKey{Owner: pos.Owner, MarketID: pos.MarketID}
	if _, exists := pb.positions[key]; exists {
		return ErrPositionExists
	}
	pb.positions[key] = pos
	return nil
}

// Restore directly sets a position record (used for startup reload).
func (pb *PositionBook) Restore(pos *Position) {
	pb.positions[PositionKey{Owner: pos.Owner, MarketID: pos.MarketID}] = pos
}

// ForMarket returns all positions bound to one market.
func (pb *PositionBook) ForMarket(marketID string) []*Position {
	out := make([]*Position, 0)
	for key, pos := range pb.positions {
		if key.MarketID == marketID {
			out = append(out, pos)
		}
	}
	return out
}

// All returns all positions.
func (pb *PositionBook) All() []*Position {
	out := make([]*Position, 0, len(pb.positions))
	for _, pos := range pb.positions {
		out = append(out, pos)
	}
	return out
}
