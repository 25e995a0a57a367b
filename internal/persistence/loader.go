package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// RecoveryState is the command-log head loaded at startup.
type RecoveryState struct {
	// NextSequence is the sequence the core should assign next.
	NextSequence int64

	// StateHash is the hash-chain tip from the last committed command.
	StateHash []byte

	// IdempotencyKeys are recent "type:key" pairs for LRU warming.
	IdempotencyKeys []string
}

// RecordLoader reloads the authoritative ledger records at startup. The
// record tables always hold the latest value per key, so recovery is a
// straight reload with no event replay.
type RecordLoader struct {
	db *sql.DB
}

func NewRecordLoader(db *sql.DB) *RecordLoader {
	return &RecordLoader{db: db}
}

// LoadRecoveryState reads the command-log head and recent idempotency keys.
func (l *RecordLoader) LoadRecoveryState(ctx context.Context, warmKeyLimit int) (*RecoveryState, error) {
	rs := &RecoveryState{}

	err := l.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash
		FROM lend.command_log
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&rs.NextSequence, &rs.StateHash)
	if err == sql.ErrNoRows {
		return rs, nil // cold start
	}
	if err != nil {
		return nil, fmt.Errorf("load command log head: %w", err)
	}
	rs.NextSequence++

	rows, err := l.db.QueryContext(ctx, `
		SELECT command_type, idempotency_key
		FROM lend.command_log
		ORDER BY sequence DESC
		LIMIT $1
	`, warmKeyLimit)
	if err != nil {
		return nil, fmt.Errorf("load idempotency keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cmdType, key string
		if err := rows.Scan(&cmdType, &key); err != nil {
			return nil, err
		}
		rs.IdempotencyKeys = append(rs.IdempotencyKeys, cmdType+":"+key)
	}
	return rs, rows.Err()
}

// LoadMarkets reads all market records.
func (l *RecordLoader) LoadMarkets(ctx context.Context) ([]MarketRow, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT market_id, address, administrator, collateral_asset, loan_asset,
		       collateral_vault, loan_vault, interest_rate_bps, collateral_ratio_bps,
		       collateral_amount, borrowed_amount, version, updated_sequence
		FROM lend.markets
	`)
	if err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}
	defer rows.Close()

	var out []MarketRow
	for rows.Next() {
		var m MarketRow
		var rateBps, ratioBps int32
		var collateral, borrowed, version string
		if err := rows.Scan(
			&m.MarketID, &m.Address, &m.Administrator, &m.CollateralAsset, &m.LoanAsset,
			&m.CollateralVault, &m.LoanVault, &rateBps, &ratioBps,
			&collateral, &borrowed, &version, &m.UpdatedSequence,
		); err != nil {
			return nil, err
		}
		m.InterestRateBps = uint16(rateBps)
		m.CollateralRatioBps = uint16(ratioBps)
		if m.CollateralAmount, err = parseUint(collateral); err != nil {
			return nil, fmt.Errorf("market %s collateral: %w", m.MarketID, err)
		}
		if m.BorrowedAmount, err = parseUint(borrowed); err != nil {
			return nil, fmt.Errorf("market %s borrowed: %w", m.MarketID, err)
		}
		if m.Version, err = parseUint(version); err != nil {
			return nil, fmt.Errorf("market %s version: %w", m.MarketID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LoadPositions reads all user position records.
func (l *RecordLoader) LoadPositions(ctx context.Context) ([]PositionRow, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT owner, market_id, deposited_collateral, borrowed, version, updated_sequence
		FROM lend.user_positions
	`)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()

	var out []PositionRow
	for rows.Next() {
		var p PositionRow
		var deposited, borrowed, version string
		if err := rows.Scan(&p.Owner, &p.MarketID, &deposited, &borrowed, &version, &p.UpdatedSequence); err != nil {
			return nil, err
		}
		if p.DepositedCollateral, err = parseUint(deposited); err != nil {
			return nil, fmt.Errorf("position %s/%s collateral: %w", p.Owner, p.MarketID, err)
		}
		if p.Borrowed, err = parseUint(borrowed); err != nil {
			return nil, fmt.Errorf("position %s/%s borrowed: %w", p.Owner, p.MarketID, err)
		}
		if p.Version, err = parseUint(version); err != nil {
			return nil, fmt.Errorf("position %s/%s version: %w", p.Owner, p.MarketID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadAssets reads all asset registry entries.
func (l *RecordLoader) LoadAssets(ctx context.Context) ([]AssetRow, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT address, issuer, supply FROM lend.assets`)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	defer rows.Close()

	var out []AssetRow
	for rows.Next() {
		var a AssetRow
		var supply string
		if err := rows.Scan(&a.Address, &a.Issuer, &supply); err != nil {
			return nil, err
		}
		if a.Supply, err = parseUint(supply); err != nil {
			return nil, fmt.Errorf("asset %s supply: %w", a.Address, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LoadAccounts reads all custodial and holding account records.
func (l *RecordLoader) LoadAccounts(ctx context.Context) ([]AccountRow, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT address, owner, asset, balance FROM lend.accounts`)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()

	var out []AccountRow
	for rows.Next() {
		var a AccountRow
		var balance string
		if err := rows.Scan(&a.Address, &a.Owner, &a.Asset, &balance); err != nil {
			return nil, err
		}
		if a.Balance, err = parseUint(balance); err != nil {
			return nil, fmt.Errorf("account %s balance: %w", a.Address, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
