package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"time"

	"LendLedger/internal/observability"
)

// MarketUpdate mirrors the data the projection worker needs from one
// committed transition. The orchestrator bridges core.CoreOutput to this.
type MarketUpdate struct {
	Sequence         int64
	CommandType      string
	MarketID         string
	CollateralAmount uint64
	BorrowedAmount   uint64
	LoanVaultBalance uint64
	// HasMarket reports whether this transition touched the market
	// record; funding changes only the vault balance.
	HasMarket bool
	HasVault  bool
	// NewPosition is set when the transition created a position.
	NewPosition bool
}

// ProjectionWorker maintains the per-market overview table from
// committed transitions. The feed channel drops on full; the overview
// lags the record tables and the watermark says by how much.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan MarketUpdate
	metrics   *observability.Metrics
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan MarketUpdate, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case update, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.apply(ctx, update); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", update.Sequence, err)
				// Continue — the overview is eventually consistent and
				// can be rebuilt from the record tables.
				continue
			}

			pw.lastSeq = update.Sequence
			if pw.metrics != nil {
				pw.metrics.ProjectionLastSeq.Set(float64(update.Sequence))
			}
		}
	}
}

func (pw *ProjectionWorker) apply(ctx context.Context, update MarketUpdate) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if update.HasMarket {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lend.market_overview
				(market_id, collateral_amount, borrowed_amount, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (market_id) DO UPDATE SET
				collateral_amount = EXCLUDED.collateral_amount,
				borrowed_amount = EXCLUDED.borrowed_amount,
				last_sequence = EXCLUDED.last_sequence,
				updated_at = NOW()
			WHERE lend.market_overview.last_sequence <= EXCLUDED.last_sequence
		`, update.MarketID, uintArg(update.CollateralAmount), uintArg(update.BorrowedAmount), update.Sequence); err != nil {
			return fmt.Errorf("market overview: %w", err)
		}
	}

	if update.HasVault {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lend.market_overview
				(market_id, loan_vault_balance, last_sequence, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (market_id) DO UPDATE SET
				loan_vault_balance = EXCLUDED.loan_vault_balance,
				last_sequence = GREATEST(lend.market_overview.last_sequence, EXCLUDED.last_sequence),
				updated_at = NOW()
		`, update.MarketID, uintArg(update.LoanVaultBalance), update.Sequence); err != nil {
			return fmt.Errorf("vault balance: %w", err)
		}
	}

	if update.NewPosition {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lend.market_overview (market_id, position_count, last_sequence, updated_at)
			VALUES ($1, 1, $2, NOW())
			ON CONFLICT (market_id) DO UPDATE SET
				position_count = lend.market_overview.position_count + 1,
				last_sequence = GREATEST(lend.market_overview.last_sequence, EXCLUDED.last_sequence),
				updated_at = NOW()
		`, update.MarketID, update.Sequence); err != nil {
			return fmt.Errorf("position count: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE lend.projection_watermark
		SET last_sequence = GREATEST(last_sequence, $1), updated_at = NOW()
		WHERE id = 1
	`, update.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.Observe(time.Since(start).Seconds())
	}
	return nil
}

// Rebuild repopulates the overview from the record tables. Used when
// drops (or a crash between record write and projection update) leave
// the read side behind.
func Rebuild(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `TRUNCATE lend.market_overview`); err != nil {
		return fmt.Errorf("truncate overview: %w", err)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO lend.market_overview
			(market_id, collateral_amount, borrowed_amount, loan_vault_balance, position_count, last_sequence)
		SELECT
			m.market_id,
			m.collateral_amount,
			m.borrowed_amount,
			COALESCE(a.balance, 0),
			(SELECT COUNT(*) FROM lend.user_positions p WHERE p.market_id = m.market_id),
			m.updated_sequence
		FROM lend.markets m
		LEFT JOIN lend.accounts a ON a.address = m.loan_vault
	`)
	if err != nil {
		return fmt.Errorf("rebuild overview: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		UPDATE lend.projection_watermark
		SET last_sequence = COALESCE((SELECT MAX(sequence) FROM lend.command_log), -1),
		    updated_at = NOW()
		WHERE id = 1
	`)
	if err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}

func uintArg(v uint64) string {
	return strconv.FormatUint(v, 10)
}
