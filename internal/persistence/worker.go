package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"LendLedger/internal/observability"
)

// LedgerOutput mirrors core.CoreOutput flattened into row form.
// The orchestrator (cmd/main.go) bridges between core.CoreOutput and this.
type LedgerOutput struct {
	CommandRow CommandRow
	Market     *MarketRow
	Position   *PositionRow
	Assets     []AssetRow
	Accounts   []AccountRow
}

// PersistenceWorker drains the persist channel and batch-writes to
// Postgres. The persist channel uses BLOCKING sends from the core, so
// if this worker falls behind, the core stalls — no committed
// transition is ever lost.
type PersistenceWorker struct {
	writer       *RecordWriter
	inputChan    <-chan LedgerOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan LedgerOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	return &PersistenceWorker{
		writer:       NewRecordWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// batch accumulates outputs between flushes. Record upserts are
// coalesced by key so a batch writes each market, position, and account
// once with its final value.
type batch struct {
	commands  []CommandRow
	markets   map[string]MarketRow
	positions map[string]PositionRow
	assets    map[string]AssetRow
	accounts  map[string]AccountRow
}

func newBatch(capacity int) *batch {
	return &batch{
		commands:  make([]CommandRow, 0, capacity),
		markets:   make(map[string]MarketRow),
		positions: make(map[string]PositionRow),
		assets:    make(map[string]AssetRow),
		accounts:  make(map[string]AccountRow),
	}
}

func (b *batch) add(output LedgerOutput) {
	b.commands = append(b.commands, output.CommandRow)
	if output.Market != nil {
		b.markets[output.Market.MarketID] = *output.Market
	}
	if output.Position != nil {
		b.positions[output.Position.Owner+":"+output.Position.MarketID] = *output.Position
	}
	for _, a := range output.Assets {
		b.assets[a.Address] = a
	}
	for _, a := range output.Accounts {
		b.accounts[a.Address] = a
	}
}

func (b *batch) reset() {
	b.commands = b.commands[:0]
	clear(b.markets)
	clear(b.positions)
	clear(b.assets)
	clear(b.accounts)
}

func (b *batch) empty() bool {
	return len(b.commands) == 0
}

// Run starts the persistence worker loop. It batches incoming outputs
// and flushes either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	pending := newBatch(pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if !pending.empty() {
				if err := pw.flush(context.Background(), pending); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				// Channel closed — flush and exit
				if !pending.empty() {
					if err := pw.flush(context.Background(), pending); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			pending.add(output)

			if len(pending.commands) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, pending); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				pending.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if !pending.empty() {
				if err := pw.flushWithRetry(ctx, pending); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				pending.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The worker
// never drops a batch — it retries until the write succeeds or the
// context is cancelled, then makes one final attempt on shutdown.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, pending *batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, commands=%d)",
				attempt, backoff, len(pending.commands))
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				finalErr := pw.flush(context.Background(), pending)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, pending)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, pending *batch) error {
	start := time.Now()

	// Command log and record upserts commit in one transaction, so the
	// durable log never disagrees with the durable records.
	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteCommandBatch(ctx, tx, pending.commands); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_commands").Inc()
		}
		return err
	}
	if err := pw.writer.UpsertMarkets(ctx, tx, mapValues(pending.markets)); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("upsert_markets").Inc()
		}
		return err
	}
	if err := pw.writer.UpsertPositions(ctx, tx, mapValues(pending.positions)); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("upsert_positions").Inc()
		}
		return err
	}
	if err := pw.writer.UpsertAssets(ctx, tx, mapValues(pending.assets)); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("upsert_assets").Inc()
		}
		return err
	}
	if err := pw.writer.UpsertAccounts(ctx, tx, mapValues(pending.accounts)); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("upsert_accounts").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistCommandsWritten.Add(float64(len(pending.commands)))
		if n := len(pending.commands); n > 0 {
			pw.metrics.PersistLastSequence.Set(float64(pending.commands[n-1].Sequence))
		}
	}

	return nil
}

func mapValues[V any](m map[string]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
