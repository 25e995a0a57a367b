package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

// RecordWriter writes the command log and the authoritative ledger
// records to Postgres using multi-row statements. Balances are uint64
// in memory and NUMERIC(20,0) on disk; they cross the driver as decimal
// strings.
type RecordWriter struct {
	db *sql.DB
}

// CommandRow represents a row in lend.command_log
type CommandRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	MarketID       string
	Payload        []byte // JSON-encoded command payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// MarketRow represents a row in lend.markets
type MarketRow struct {
	MarketID           string
	Address            string
	Administrator      string
	CollateralAsset    string
	LoanAsset          string
	CollateralVault    string
	LoanVault          string
	InterestRateBps    uint16
	CollateralRatioBps uint16
	CollateralAmount   uint64
	BorrowedAmount     uint64
	Version            uint64
	UpdatedSequence    int64
}

// PositionRow represents a row in lend.user_positions
type PositionRow struct {
	Owner               string
	MarketID            string
	DepositedCollateral uint64
	Borrowed            uint64
	Version             uint64
	UpdatedSequence     int64
}

// AssetRow represents a row in lend.assets
type AssetRow struct {
	Address string
	Issuer  string
	Supply  uint64
}

// AccountRow represents a row in lend.accounts
type AccountRow struct {
	Address string
	Owner   string
	Asset   string
	Balance uint64
}

func NewRecordWriter(db *sql.DB) *RecordWriter {
	return &RecordWriter{db: db}
}

// WriteCommandBatch appends committed commands to lend.command_log.
// ON CONFLICT DO NOTHING makes replays of the same sequence idempotent.
func (w *RecordWriter) WriteCommandBatch(ctx context.Context, tx *sql.Tx, commands []CommandRow) error {
	if len(commands) == 0 {
		return nil
	}

	query := `INSERT INTO lend.command_log
		(sequence, command_type, idempotency_key, market_id, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(commands))
	args := make([]interface{}, 0, len(commands)*8)

	for i, c := range commands {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			c.Sequence, c.CommandType, c.IdempotencyKey, c.MarketID,
			c.Payload, c.StateHash, c.PrevHash, c.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertMarkets writes authoritative market records.
func (w *RecordWriter) UpsertMarkets(ctx context.Context, tx *sql.Tx, markets []MarketRow) error {
	if len(markets) == 0 {
		return nil
	}

	query := `INSERT INTO lend.markets
		(market_id, address, administrator, collateral_asset, loan_asset,
		 collateral_vault, loan_vault, interest_rate_bps, collateral_ratio_bps,
		 collateral_amount, borrowed_amount, version, updated_sequence)
		VALUES `

	values := make([]string, 0, len(markets))
	args := make([]interface{}, 0, len(markets)*13)

	for i, m := range markets {
		base := i * 13
		placeholders := make([]string, 13)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			m.MarketID, m.Address, m.Administrator, m.CollateralAsset, m.LoanAsset,
			m.CollateralVault, m.LoanVault, int32(m.InterestRateBps), int32(m.CollateralRatioBps),
			uintArg(m.CollateralAmount), uintArg(m.BorrowedAmount), uintArg(m.Version), m.UpdatedSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (market_id) DO UPDATE SET
		collateral_amount = EXCLUDED.collateral_amount,
		borrowed_amount = EXCLUDED.borrowed_amount,
		version = EXCLUDED.version,
		updated_sequence = EXCLUDED.updated_sequence
		WHERE lend.markets.updated_sequence <= EXCLUDED.updated_sequence`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertPositions writes authoritative user position records.
func (w *RecordWriter) UpsertPositions(ctx context.Context, tx *sql.Tx, positions []PositionRow) error {
	if len(positions) == 0 {
		return nil
	}

	query := `INSERT INTO lend.user_positions
		(owner, market_id, deposited_collateral, borrowed, version, updated_sequence)
		VALUES `

	values := make([]string, 0, len(positions))
	args := make([]interface{}, 0, len(positions)*6)

	for i, p := range positions {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			p.Owner, p.MarketID,
			uintArg(p.DepositedCollateral), uintArg(p.Borrowed), uintArg(p.Version), p.UpdatedSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (owner, market_id) DO UPDATE SET
		deposited_collateral = EXCLUDED.deposited_collateral,
		borrowed = EXCLUDED.borrowed,
		version = EXCLUDED.version,
		updated_sequence = EXCLUDED.updated_sequence
		WHERE lend.user_positions.updated_sequence <= EXCLUDED.updated_sequence`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertAssets writes asset registry entries.
func (w *RecordWriter) UpsertAssets(ctx context.Context, tx *sql.Tx, assets []AssetRow) error {
	if len(assets) == 0 {
		return nil
	}

	query := `INSERT INTO lend.assets (address, issuer, supply) VALUES `

	values := make([]string, 0, len(assets))
	args := make([]interface{}, 0, len(assets)*3)

	for i, a := range assets {
		base := i * 3
		values = append(values, fmt.Sprintf("($%d, $%d, $%d)", base+1, base+2, base+3))
		args = append(args, a.Address, a.Issuer, uintArg(a.Supply))
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (address) DO UPDATE SET supply = EXCLUDED.supply`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertAccounts writes custodial and holding account balances.
func (w *RecordWriter) UpsertAccounts(ctx context.Context, tx *sql.Tx, accounts []AccountRow) error {
	if len(accounts) == 0 {
		return nil
	}

	query := `INSERT INTO lend.accounts (address, owner, asset, balance) VALUES `

	values := make([]string, 0, len(accounts))
	args := make([]interface{}, 0, len(accounts)*4)

	for i, a := range accounts {
		base := i * 4
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4))
		args = append(args, a.Address, a.Owner, a.Asset, uintArg(a.Balance))
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (address) DO UPDATE SET balance = EXCLUDED.balance`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// uintArg renders a uint64 for a NUMERIC(20,0) column. database/sql has
// no unsigned 64-bit path, so values go over the wire as decimal text.
func uintArg(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// MarshalPayload JSON-encodes a command payload for the command log.
func MarshalPayload(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("WARN: failed to marshal payload: %v", err)
		return []byte("{}")
	}
	return data
}
