package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"LendLedger/internal/math"
	"LendLedger/internal/observability"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// QueryService provides read-only access to the record and projection
// tables. All responses carry as_of_sequence: record reads report the
// last persisted sequence, overview reads report the projection
// watermark, which may lag.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// GetMarket returns the authoritative market record.
func (qs *QueryService) GetMarket(ctx context.Context, marketID string) (*MarketResponse, error) {
	defer qs.observe("get_market", time.Now())

	resp := &MarketResponse{}
	var rateBps, ratioBps int32
	var collateral, borrowed, version string
	err := qs.db.QueryRowContext(ctx, `
		SELECT market_id, address, administrator, collateral_asset, loan_asset,
		       collateral_vault, loan_vault, interest_rate_bps, collateral_ratio_bps,
		       collateral_amount, borrowed_amount, version, updated_sequence
		FROM lend.markets
		WHERE market_id = $1
	`, marketID).Scan(
		&resp.MarketID, &resp.Address, &resp.Administrator, &resp.CollateralAsset, &resp.LoanAsset,
		&resp.CollateralVault, &resp.LoanVault, &rateBps, &ratioBps,
		&collateral, &borrowed, &version, &resp.AsOfSequence,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	resp.InterestRateBps = uint16(rateBps)
	resp.CollateralRatioBps = uint16(ratioBps)
	if resp.CollateralAmount, err = parseUint(collateral); err != nil {
		return nil, fmt.Errorf("market collateral: %w", err)
	}
	if resp.BorrowedAmount, err = parseUint(borrowed); err != nil {
		return nil, fmt.Errorf("market borrowed: %w", err)
	}
	if resp.Version, err = parseUint(version); err != nil {
		return nil, fmt.Errorf("market version: %w", err)
	}
	return resp, nil
}

// GetPosition returns the authoritative position record for (owner,
// market), with the current borrowing capacity derived at query time.
func (qs *QueryService) GetPosition(ctx context.Context, owner, marketID string) (*PositionResponse, error) {
	defer qs.observe("get_position", time.Now())

	resp := &PositionResponse{}
	var deposited, borrowed, version string
	var ratioBps int32
	err := qs.db.QueryRowContext(ctx, `
		SELECT p.owner, p.market_id, p.deposited_collateral, p.borrowed, p.version,
		       p.updated_sequence, m.collateral_ratio_bps
		FROM lend.user_positions p
		JOIN lend.markets m ON m.market_id = p.market_id
		WHERE p.owner = $1 AND p.market_id = $2
	`, owner, marketID).Scan(
		&resp.Owner, &resp.MarketID, &deposited, &borrowed, &version,
		&resp.AsOfSequence, &ratioBps,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if resp.DepositedCollateral, err = parseUint(deposited); err != nil {
		return nil, fmt.Errorf("position collateral: %w", err)
	}
	if resp.Borrowed, err = parseUint(borrowed); err != nil {
		return nil, fmt.Errorf("position borrowed: %w", err)
	}
	if resp.Version, err = parseUint(version); err != nil {
		return nil, fmt.Errorf("position version: %w", err)
	}
	if max, ok := math.MaxAllowableBorrow(resp.DepositedCollateral, uint16(ratioBps)); ok {
		resp.MaxAllowableBorrow = max
	}
	return resp, nil
}

// GetVaultBalance returns the persisted balance of any account.
func (qs *QueryService) GetVaultBalance(ctx context.Context, address string) (*VaultBalanceResponse, error) {
	defer qs.observe("get_vault_balance", time.Now())

	asOfSeq, err := qs.lastPersistedSequence(ctx)
	if err != nil {
		return nil, err
	}

	resp := &VaultBalanceResponse{AsOfSequence: asOfSeq}
	var balance string
	err = qs.db.QueryRowContext(ctx, `
		SELECT address, owner, asset, balance
		FROM lend.accounts
		WHERE address = $1
	`, address).Scan(&resp.Address, &resp.Owner, &resp.Asset, &balance)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if resp.Balance, err = parseUint(balance); err != nil {
		return nil, fmt.Errorf("account balance: %w", err)
	}
	return resp, nil
}

// GetMarketOverview returns the projected summary for a market. The
// watermark in as_of_sequence tells the caller how fresh it is.
func (qs *QueryService) GetMarketOverview(ctx context.Context, marketID string) (*MarketOverviewResponse, error) {
	defer qs.observe("get_market_overview", time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &MarketOverviewResponse{AsOfSequence: asOfSeq}
	var collateral, borrowed, vaultBalance string
	err = qs.db.QueryRowContext(ctx, `
		SELECT market_id, collateral_amount, borrowed_amount, loan_vault_balance,
		       position_count, last_sequence, updated_at
		FROM lend.market_overview
		WHERE market_id = $1
	`, marketID).Scan(
		&resp.MarketID, &collateral, &borrowed, &vaultBalance,
		&resp.PositionCount, &resp.LastSequence, &resp.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if resp.CollateralAmount, err = parseUint(collateral); err != nil {
		return nil, fmt.Errorf("overview collateral: %w", err)
	}
	if resp.BorrowedAmount, err = parseUint(borrowed); err != nil {
		return nil, fmt.Errorf("overview borrowed: %w", err)
	}
	if resp.LoanVaultBalance, err = parseUint(vaultBalance); err != nil {
		return nil, fmt.Errorf("overview vault balance: %w", err)
	}
	return resp, nil
}

// VerifyIntegrity checks command-log hash chain continuity.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	defer qs.observe("verify_integrity", time.Now())

	report := &IntegrityReport{}

	head, err := qs.lastPersistedSequence(ctx)
	if err != nil {
		return nil, err
	}
	report.HeadSequence = head

	rows, err := qs.db.QueryContext(ctx, `
		SELECT c1.sequence
		FROM lend.command_log c1
		JOIN lend.command_log c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.prev_hash != c2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM lend.projection_watermark WHERE id = 1
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	return seq, err
}

func (qs *QueryService) lastPersistedSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := qs.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM lend.command_log
	`).Scan(&seq)
	if err != nil {
		return -1, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

func (qs *QueryService) observe(name string, start time.Time) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryRequests.WithLabelValues(name).Inc()
	qs.metrics.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
