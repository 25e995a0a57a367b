package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"LendLedger/internal/command"
	"LendLedger/internal/config"
	"LendLedger/internal/core"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/observability"
	"LendLedger/internal/persistence"
	"LendLedger/internal/projection"
	"LendLedger/internal/query"
	"LendLedger/internal/server"
	"LendLedger/internal/state"
	"LendLedger/internal/token"
)

func main() {
	logger := observability.NewLogger("main")
	logger.Info().Msg("LendLedger starting")

	configPath := os.Getenv("LEND_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	// --- Run SQL migrations ---
	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	logger.Info().Msg("migrations applied")

	// --- Channels ---
	// Persist channel blocks (backpressure), projection channel drops.
	persistCoreChan := make(chan core.CoreOutput, cfg.Core.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.Core.ProjectionChanSize)

	// Bridge channels for the workers (avoids import cycle)
	persistWorkerChan := make(chan persistence.LedgerOutput, cfg.Core.PersistChanSize)
	projectionWorkerChan := make(chan projection.MarketUpdate, cfg.Core.ProjectionChanSize)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Lending Core ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)

	loader := persistence.NewRecordLoader(db)
	recovery, err := loader.LoadRecoveryState(ctx, 100_000)
	if err != nil {
		logger.Fatal().Err(err).Msg("load recovery state")
	}

	lendingCore := core.NewLendingCore(
		recovery.NextSequence,
		persistCoreChan,
		projectionCoreChan,
		dbChecker,
		metrics,
		cfg.Core.IdempotencyLRUCapacity,
	)

	// --- Record reload ---
	// The record tables hold the latest value per key, so recovery is a
	// straight reload with no replay.
	if err := restoreRecords(ctx, loader, lendingCore, logger); err != nil {
		logger.Fatal().Err(err).Msg("restore records")
	}
	if len(recovery.StateHash) == 32 {
		var tip [32]byte
		copy(tip[:], recovery.StateHash)
		lendingCore.SetStateHash(tip)
	}
	if len(recovery.IdempotencyKeys) > 0 {
		lendingCore.WarmLRU(recovery.IdempotencyKeys)
		logger.Info().Int("keys", len(recovery.IdempotencyKeys)).Msg("warmed idempotency LRU")
	}
	logger.Info().Int64("sequence", recovery.NextSequence).Msg("ledger state restored")

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	logger.Info().Msg("nats connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure nats streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	rawCommandChan := make(chan ingestion.RawCommand, 4096)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawCommandChan)
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}

	publishChan := make(chan ingestion.PublishableEvent, 4096)
	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan)

	// --- Services ---
	queryService := query.NewQueryService(db, metrics)
	httpServer := server.NewHTTPServer(cfg.Server.HTTPAddr, lendingCore, queryService, healthChecker)

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	go func() {
		if err := lendingCore.Run(ctx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("core: %w", err)
		}
	}()

	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.Core.PersistBatchSize, cfg.Core.PersistFlushTimeout, metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, metrics)
	go func() {
		errChan <- projWorker.Run(ctx)
	}()

	go func() {
		errChan <- outboundPublisher.Run(ctx)
	}()

	go func() {
		bridgeCoreOutputs(ctx, persistCoreChan, projectionCoreChan, persistWorkerChan, projectionWorkerChan, publishChan)
	}()

	go func() {
		runIngestionLoop(ctx, rawCommandChan, lendingCore, logger)
	}()

	go func() {
		errChan <- httpServer.Run(ctx)
	}()

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.Server.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		logger.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	logger.Info().
		Int64("sequence", lendingCore.GetSequence()).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("LendLedger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	cancel()
	natsSubscriber.Stop()

	// Workers flush their final batches on ctx.Done; the channels stay
	// open so an in-flight bridge send cannot panic.
	time.Sleep(500 * time.Millisecond)

	logger.Info().Msg("LendLedger shutdown complete")
}

// bridgeCoreOutputs converts core.CoreOutput to the worker row formats
// and feeds the outbound publisher.
func bridgeCoreOutputs(
	ctx context.Context,
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.LedgerOutput,
	projectionOut chan<- projection.MarketUpdate,
	publishOut chan<- ingestion.PublishableEvent,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case output, ok := <-persistIn:
			if !ok {
				return
			}

			persistOut <- toLedgerOutput(output)

			select {
			case publishOut <- ingestion.PublishableEvent{
				Sequence:       output.Envelope.Sequence,
				CommandType:    output.Envelope.CommandType.String(),
				IdempotencyKey: output.Envelope.IdempotencyKey,
				MarketID:       output.Envelope.MarketID,
				Payload:        output.Command,
				StateHash:      output.Envelope.StateHash[:],
				Timestamp:      output.Envelope.Timestamp,
			}:
			default:
				// Drop if publish channel is full
			}

		case output, ok := <-projectionIn:
			if !ok {
				return
			}

			update := projection.MarketUpdate{
				Sequence:    output.Envelope.Sequence,
				CommandType: output.Envelope.CommandType.String(),
				MarketID:    output.Envelope.MarketID,
				NewPosition: output.Envelope.CommandType == command.TypeCreateUserPosition,
			}
			if output.Delta.Market != nil {
				update.HasMarket = true
				update.CollateralAmount = output.Delta.Market.CollateralAmount
				update.BorrowedAmount = output.Delta.Market.BorrowedAmount
			}
			if output.Delta.TouchedLoanVault {
				update.HasVault = true
				update.LoanVaultBalance = output.Delta.LoanVaultBalance
			}

			select {
			case projectionOut <- update:
			default:
				// Drop if projection channel is full
			}
		}
	}
}

func toLedgerOutput(output core.CoreOutput) persistence.LedgerOutput {
	env := output.Envelope
	lo := persistence.LedgerOutput{
		CommandRow: persistence.CommandRow{
			Sequence:       env.Sequence,
			CommandType:    env.CommandType.String(),
			IdempotencyKey: env.IdempotencyKey,
			MarketID:       env.MarketID,
			Payload:        persistence.MarshalPayload(output.Command),
			StateHash:      env.StateHash[:],
			PrevHash:       env.PrevHash[:],
			Timestamp:      env.Timestamp,
		},
	}

	if m := output.Delta.Market; m != nil {
		lo.Market = &persistence.MarketRow{
			MarketID:           m.ID,
			Address:            m.Address.String(),
			Administrator:      m.Administrator.String(),
			CollateralAsset:    m.CollateralAsset.String(),
			LoanAsset:          m.LoanAsset.String(),
			CollateralVault:    m.CollateralVault.String(),
			LoanVault:          m.LoanVault.String(),
			InterestRateBps:    m.InterestRateBps,
			CollateralRatioBps: m.CollateralRatioBps,
			CollateralAmount:   m.CollateralAmount,
			BorrowedAmount:     m.BorrowedAmount,
			Version:            uint64(m.Version),
			UpdatedSequence:    env.Sequence,
		}
	}
	if p := output.Delta.Position; p != nil {
		lo.Position = &persistence.PositionRow{
			Owner:               p.Owner.String(),
			MarketID:            p.MarketID,
			DepositedCollateral: p.DepositedCollateral,
			Borrowed:            p.Borrowed,
			Version:             uint64(p.Version),
			UpdatedSequence:     env.Sequence,
		}
	}
	for _, a := range output.Delta.Assets {
		lo.Assets = append(lo.Assets, persistence.AssetRow{
			Address: a.Address.String(),
			Issuer:  a.Issuer.String(),
			Supply:  a.Supply,
		})
	}
	for _, acc := range output.Delta.Accounts {
		lo.Accounts = append(lo.Accounts, persistence.AccountRow{
			Address: acc.Address.String(),
			Owner:   acc.Owner.String(),
			Asset:   acc.Asset.String(),
			Balance: acc.Balance,
		})
	}
	return lo
}

// runIngestionLoop reads raw commands from NATS, parses them, and
// submits them to the core. Messages are acked once the core has
// decided; rejections are permanent, so they are acked too rather than
// redelivered.
func runIngestionLoop(ctx context.Context, rawChan <-chan ingestion.RawCommand, lendingCore *core.LendingCore, logger zerolog.Logger) {
	subjectToType := make(map[string]string)
	for _, cfg := range ingestion.DefaultSubjects() {
		prefix := strings.TrimSuffix(cfg.Subject, ".>")
		subjectToType[prefix] = cfg.CommandType
	}

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}

			commandType := resolveCommandType(raw.Subject, subjectToType)
			if commandType == "" {
				logger.Warn().Str("subject", raw.Subject).Msg("unknown nats subject")
				raw.AckFunc() // ack to avoid redelivery loop
				continue
			}

			cmd, err := ingestion.ParseRawCommand(raw, commandType)
			if err != nil {
				logger.Warn().Str("subject", raw.Subject).Err(err).Msg("parse command failed")
				raw.AckFunc() // unparseable commands are acked but not forwarded
				continue
			}

			if err := lendingCore.Submit(ctx, cmd); err != nil {
				if ctx.Err() != nil {
					raw.NakFunc()
					return
				}
				logger.Debug().
					Str("command_type", commandType).
					Str("idempotency_key", cmd.IdempotencyKey()).
					Err(err).
					Msg("command rejected")
			}
			raw.AckFunc()
		}
	}
}

// resolveCommandType finds the command type for a NATS subject by
// matching the longest configured prefix.
func resolveCommandType(subject string, prefixMap map[string]string) string {
	bestMatch := ""
	bestType := ""
	for prefix, cmdType := range prefixMap {
		if strings.HasPrefix(subject, prefix) && len(prefix) > len(bestMatch) {
			bestMatch = prefix
			bestType = cmdType
		}
	}
	return bestType
}

// restoreRecords reloads the in-memory books from the record tables.
func restoreRecords(ctx context.Context, loader *persistence.RecordLoader, lendingCore *core.LendingCore, logger zerolog.Logger) error {
	assets, err := loader.LoadAssets(ctx)
	if err != nil {
		return err
	}
	for _, a := range assets {
		address, err := token.ParseAddress(a.Address)
		if err != nil {
			return fmt.Errorf("asset address %q: %w", a.Address, err)
		}
		issuer, err := token.ParseAddress(a.Issuer)
		if err != nil {
			return fmt.Errorf("asset issuer %q: %w", a.Issuer, err)
		}
		lendingCore.RestoreAsset(token.Asset{Address: address, Issuer: issuer, Supply: a.Supply})
	}

	accounts, err := loader.LoadAccounts(ctx)
	if err != nil {
		return err
	}
	for _, acc := range accounts {
		address, err := token.ParseAddress(acc.Address)
		if err != nil {
			return fmt.Errorf("account address %q: %w", acc.Address, err)
		}
		owner, err := token.ParseAddress(acc.Owner)
		if err != nil {
			return fmt.Errorf("account owner %q: %w", acc.Owner, err)
		}
		asset, err := token.ParseAddress(acc.Asset)
		if err != nil {
			return fmt.Errorf("account asset %q: %w", acc.Asset, err)
		}
		lendingCore.RestoreAccount(token.Account{Address: address, Owner: owner, Asset: asset, Balance: acc.Balance})
	}

	markets, err := loader.LoadMarkets(ctx)
	if err != nil {
		return err
	}
	for _, m := range markets {
		restored, err := marketFromRow(m)
		if err != nil {
			return err
		}
		lendingCore.RestoreMarket(restored)
	}

	positions, err := loader.LoadPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		owner, err := token.ParseAddress(p.Owner)
		if err != nil {
			return fmt.Errorf("position owner %q: %w", p.Owner, err)
		}
		lendingCore.RestorePosition(&state.Position{
			Owner:               owner,
			MarketID:            p.MarketID,
			DepositedCollateral: p.DepositedCollateral,
			Borrowed:            p.Borrowed,
			Version:             int64(p.Version),
		})
	}

	logger.Info().
		Int("markets", len(markets)).
		Int("positions", len(positions)).
		Int("assets", len(assets)).
		Int("accounts", len(accounts)).
		Msg("records reloaded")
	return nil
}

func marketFromRow(m persistence.MarketRow) (*state.Market, error) {
	address, err := token.ParseAddress(m.Address)
	if err != nil {
		return nil, fmt.Errorf("market %s address: %w", m.MarketID, err)
	}
	administrator, err := token.ParseAddress(m.Administrator)
	if err != nil {
		return nil, fmt.Errorf("market %s administrator: %w", m.MarketID, err)
	}
	collateralAsset, err := token.ParseAddress(m.CollateralAsset)
	if err != nil {
		return nil, fmt.Errorf("market %s collateral asset: %w", m.MarketID, err)
	}
	loanAsset, err := token.ParseAddress(m.LoanAsset)
	if err != nil {
		return nil, fmt.Errorf("market %s loan asset: %w", m.MarketID, err)
	}
	collateralVault, err := token.ParseAddress(m.CollateralVault)
	if err != nil {
		return nil, fmt.Errorf("market %s collateral vault: %w", m.MarketID, err)
	}
	loanVault, err := token.ParseAddress(m.LoanVault)
	if err != nil {
		return nil, fmt.Errorf("market %s loan vault: %w", m.MarketID, err)
	}
	return &state.Market{
		ID:                 m.MarketID,
		Address:            address,
		Administrator:      administrator,
		CollateralAsset:    collateralAsset,
		LoanAsset:          loanAsset,
		CollateralVault:    collateralVault,
		LoanVault:          loanVault,
		InterestRateBps:    m.InterestRateBps,
		CollateralRatioBps: m.CollateralRatioBps,
		CollateralAmount:   m.CollateralAmount,
		BorrowedAmount:     m.BorrowedAmount,
		Version:            int64(m.Version),
	}, nil
}
