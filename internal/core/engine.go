package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"LendLedger/internal/command"
	lmath "LendLedger/internal/math"
	"LendLedger/internal/observability"
	"LendLedger/internal/state"
	"LendLedger/internal/token"
)

// LendingCore is the single-threaded command processor. Every command is
// an atomic transition: all validation and the external transfer happen
// before any ledger field is written, so a failed command leaves every
// record byte-identical to its pre-call value.
type LendingCore struct {
	sequence    int64
	hasher      *StateHasher
	book        *token.Book
	markets     *state.MarketBook
	positions   *state.PositionBook
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	log         zerolog.Logger

	submitChan     chan submission
	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// RecordDelta carries snapshot copies of every record a committed
// command mutated. Snapshots, not live pointers — the persistence and
// projection workers read them concurrently with the core.
type RecordDelta struct {
	Market   *state.Market
	Position *state.Position
	Assets   []token.Asset
	Accounts []token.Account

	// Loan vault liquidity after the transition, for transitions that
	// touched it (initialize, borrow, fund).
	LoanVault        token.Address
	LoanVaultBalance uint64
	TouchedLoanVault bool
}

// CoreOutput is one committed transition, emitted to the persistence
// worker (blocking) and the projection worker (drop-on-full).
type CoreOutput struct {
	Envelope *command.Envelope
	Command  command.Command
	Delta    RecordDelta
}

type submission struct {
	cmd   command.Command
	reply chan error
}

func NewLendingCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	lruCapacity int,
) *LendingCore {
	return &LendingCore{
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		book:           token.NewBook(),
		markets:        state.NewMarketBook(),
		positions:      state.NewPositionBook(),
		idempotency:    NewIdempotencyChecker(lruCapacity, dbChecker, metrics),
		metrics:        metrics,
		log:            observability.NewLogger("core"),
		submitChan:     make(chan submission),
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// Run drains the submit channel until ctx is cancelled. All state
// mutation happens on this goroutine; concurrent callers are serialized
// here, so no two commands ever observe each other's partial effects.
func (c *LendingCore) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub := <-c.submitChan:
			sub.reply <- c.process(sub.cmd)
		}
	}
}

// Submit hands a command to the core goroutine and waits for the
// outcome. The returned error is one of the named ledger errors (or a
// transfer fault propagated verbatim); nil means the transition
// committed — or was a duplicate of one that already did.
func (c *LendingCore) Submit(ctx context.Context, cmd command.Command) error {
	sub := submission{cmd: cmd, reply: make(chan error, 1)}

	select {
	case c.submitChan <- sub:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-sub.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process is the main pipeline: dedup → dispatch → hash → emit.
func (c *LendingCore) process(cmd command.Command) error {
	start := time.Now()
	cmdType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()

	if c.idempotency.IsDuplicate(cmdType, idempotencyKey) {
		if c.metrics != nil {
			c.metrics.CoreCommandsRejected.WithLabelValues(cmdType, "duplicate").Inc()
		}
		return nil
	}

	delta, err := c.dispatch(cmd)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreCommandsRejected.WithLabelValues(cmdType, rejectReason(err)).Inc()
		}
		c.log.Debug().
			Str("command_type", cmdType).
			Str("idempotency_key", idempotencyKey).
			Str("market_id", cmd.MarketID()).
			Err(err).
			Msg("command rejected")
		return err
	}

	if err := c.reconcileMarket(cmd.MarketID()); err != nil {
		panic(fmt.Sprintf("FATAL: ledger invariant violated: %v", err))
	}

	stateDigest := c.computeStateDigest(delta)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	envelope := &command.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		CommandType:    cmd.CommandType(),
		MarketID:       cmd.MarketID(),
		Timestamp:      commandTimestamp(cmd),
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{Envelope: envelope, Command: cmd, Delta: delta}
	c.sequence++

	// Persistence: blocking send. The core stalls until the worker
	// drains, guaranteeing no committed transition is lost.
	select {
	case c.persistChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.PersistBackpressure.Inc()
		}
		c.persistChan <- output
	}

	// Projections: drop on full, the worker catches up from Postgres.
	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.Inc()
		}
	}

	c.idempotency.MarkProcessed(cmdType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreCommandsApplied.WithLabelValues(cmdType).Inc()
		c.metrics.CoreCommandDuration.WithLabelValues(cmdType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.publishLedgerGauges(cmd.MarketID(), delta)
	}

	return nil
}

func (c *LendingCore) dispatch(cmd command.Command) (RecordDelta, error) {
	switch cc := cmd.(type) {
	case *command.InitializeMarket:
		return c.handleInitializeMarket(cc)
	case *command.CreateUserPosition:
		return c.handleCreateUserPosition(cc)
	case *command.CreateHoldingAccount:
		return c.handleCreateHoldingAccount(cc)
	case *command.DepositCollateral:
		return c.handleDepositCollateral(cc)
	case *command.Borrow:
		return c.handleBorrow(cc)
	case *command.FundLoanVault:
		return c.handleFundLoanVault(cc)
	default:
		return RecordDelta{}, fmt.Errorf("unknown command type: %T", cmd)
	}
}

// handleInitializeMarket creates the market record, its two asset
// registries, and its two custodial vaults at derived addresses. All
// existence checks run before any registry write so a rejected
// initialization creates nothing.
func (c *LendingCore) handleInitializeMarket(cmd *command.InitializeMarket) (RecordDelta, error) {
	if c.markets.Contains(cmd.Market) {
		return RecordDelta{}, state.ErrMarketExists
	}

	marketAddr := token.Derive(token.SeedMarket, []byte(cmd.Market))
	collateralAsset := token.Derive(token.SeedCollateralAsset, marketAddr[:])
	loanAsset := token.Derive(token.SeedLoanAsset, marketAddr[:])
	collateralVault := token.Derive(token.SeedCollateralVault, marketAddr[:])
	loanVault := token.Derive(token.SeedLoanVault, marketAddr[:])

	if collateralAsset == loanAsset {
		return RecordDelta{}, state.ErrIdenticalAssets
	}

	// Pre-validate every derived location so creation below cannot fail
	// halfway and leave a partially initialized market.
	for _, assetAddr := range []token.Address{collateralAsset, loanAsset} {
		if _, err := c.book.Asset(assetAddr); err == nil {
			return RecordDelta{}, fmt.Errorf("asset registry %s occupied: %w", assetAddr, state.ErrMarketExists)
		}
	}
	for _, vaultAddr := range []token.Address{collateralVault, loanVault} {
		if _, err := c.book.Account(vaultAddr); err == nil {
			return RecordDelta{}, fmt.Errorf("custody %s already initialized: %w", vaultAddr, state.ErrMarketExists)
		}
	}

	if err := c.book.CreateAsset(collateralAsset, marketAddr); err != nil {
		return RecordDelta{}, err
	}
	if err := c.book.CreateAsset(loanAsset, marketAddr); err != nil {
		return RecordDelta{}, err
	}
	if err := c.book.CreateAccount(collateralVault, marketAddr, collateralAsset); err != nil {
		return RecordDelta{}, err
	}
	if err := c.book.CreateAccount(loanVault, marketAddr, loanAsset); err != nil {
		return RecordDelta{}, err
	}

	// Verify custody ownership after creation.
	for _, check := range []struct {
		vault token.Address
		asset token.Address
	}{
		{collateralVault, collateralAsset},
		{loanVault, loanAsset},
	} {
		acc, err := c.book.Account(check.vault)
		if err != nil {
			return RecordDelta{}, err
		}
		if acc.Owner != marketAddr {
			return RecordDelta{}, state.ErrVaultOwnerMismatch
		}
		if acc.Asset != check.asset {
			return RecordDelta{}, state.ErrVaultAssetMismatch
		}
	}

	market := &state.Market{
		ID:                 cmd.Market,
		Address:            marketAddr,
		Administrator:      cmd.Administrator,
		CollateralAsset:    collateralAsset,
		LoanAsset:          loanAsset,
		CollateralVault:    collateralVault,
		LoanVault:          loanVault,
		InterestRateBps:    state.InterestRateBps,
		CollateralRatioBps: state.CollateralRatioBps,
	}
	if err := c.markets.Put(market); err != nil {
		return RecordDelta{}, err
	}

	return RecordDelta{
		Market: snapshotMarket(market),
		Assets: []token.Asset{
			{Address: collateralAsset, Issuer: marketAddr},
			{Address: loanAsset, Issuer: marketAddr},
		},
		Accounts: []token.Account{
			{Address: collateralVault, Owner: marketAddr, Asset: collateralAsset},
			{Address: loanVault, Owner: marketAddr, Asset: loanAsset},
		},
		LoanVault:        loanVault,
		TouchedLoanVault: true,
	}, nil
}

func (c *LendingCore) handleCreateUserPosition(cmd *command.CreateUserPosition) (RecordDelta, error) {
	if _, err := c.markets.Get(cmd.Market); err != nil {
		return RecordDelta{}, err
	}

	pos := &state.Position{
		Owner:    cmd.Owner,
		MarketID: cmd.Market,
	}
	if err := c.positions.Put(pos); err != nil {
		return RecordDelta{}, err
	}

	return RecordDelta{Position: snapshotPosition(pos)}, nil
}

func (c *LendingCore) handleCreateHoldingAccount(cmd *command.CreateHoldingAccount) (RecordDelta, error) {
	market, err := c.markets.Get(cmd.Market)
	if err != nil {
		return RecordDelta{}, err
	}

	var asset token.Address
	switch cmd.Asset {
	case command.AssetCollateral:
		asset = market.CollateralAsset
	case command.AssetLoan:
		asset = market.LoanAsset
	default:
		return RecordDelta{}, fmt.Errorf("unknown asset kind: %q", cmd.Asset)
	}

	addr := token.DeriveHolding(cmd.Owner, asset)
	if err := c.book.CreateAccount(addr, cmd.Owner, asset); err != nil {
		return RecordDelta{}, err
	}

	return RecordDelta{
		Accounts: []token.Account{{Address: addr, Owner: cmd.Owner, Asset: asset}},
	}, nil
}

// handleDepositCollateral moves collateral into the market's vault and
// credits the user's and market's totals. Overflow checks precede the
// transfer so a doomed deposit never moves funds; the transfer precedes
// the commit so a failed transfer never corrupts totals.
func (c *LendingCore) handleDepositCollateral(cmd *command.DepositCollateral) (RecordDelta, error) {
	market, err := c.markets.Get(cmd.Market)
	if err != nil {
		return RecordDelta{}, err
	}
	pos, err := c.positions.Get(cmd.Owner, cmd.Market)
	if err != nil {
		return RecordDelta{}, err
	}

	if err := c.verifyVault(cmd.Destination, market.CollateralVault, market.Address, market.CollateralAsset); err != nil {
		return RecordDelta{}, err
	}

	newUserTotal, ok := lmath.CheckedAdd(pos.DepositedCollateral, cmd.Amount)
	if !ok {
		return RecordDelta{}, state.ErrUserCollateralOverflow
	}
	newMarketTotal, ok := lmath.CheckedAdd(market.CollateralAmount, cmd.Amount)
	if !ok {
		return RecordDelta{}, state.ErrMarketCollateralOverflow
	}

	// The transfer faults atomically; any error here means no balance moved.
	if err := c.book.Transfer(market.CollateralAsset, cmd.Source, cmd.Destination, cmd.Amount, token.AuthorityFor(cmd.Owner)); err != nil {
		return RecordDelta{}, err
	}

	pos.DepositedCollateral = newUserTotal
	pos.Version++
	market.CollateralAmount = newMarketTotal
	market.Version++

	return RecordDelta{
		Market:   snapshotMarket(market),
		Position: snapshotPosition(pos),
		Accounts: c.snapshotAccounts(cmd.Source, cmd.Destination),
	}, nil
}

// handleBorrow validates solvency and liquidity, then moves loan assets
// out of the market's custody under the market's own authority — the
// market, not the user, is the source-side signer.
func (c *LendingCore) handleBorrow(cmd *command.Borrow) (RecordDelta, error) {
	market, err := c.markets.Get(cmd.Market)
	if err != nil {
		return RecordDelta{}, err
	}
	pos, err := c.positions.Get(cmd.Owner, cmd.Market)
	if err != nil {
		return RecordDelta{}, err
	}

	if err := c.verifyVault(cmd.Source, market.LoanVault, market.Address, market.LoanAsset); err != nil {
		return RecordDelta{}, err
	}

	maxAllowable, ok := lmath.MaxAllowableBorrow(pos.DepositedCollateral, market.CollateralRatioBps)
	if !ok {
		return RecordDelta{}, state.ErrUserBorrowOverflow
	}

	newUserBorrowed, ok := lmath.CheckedAdd(pos.Borrowed, cmd.Amount)
	if !ok {
		return RecordDelta{}, state.ErrUserBorrowOverflow
	}
	newMarketBorrowed, ok := lmath.CheckedAdd(market.BorrowedAmount, cmd.Amount)
	if !ok {
		return RecordDelta{}, state.ErrMarketBorrowOverflow
	}

	// Liquidity is checked against the real custodial balance, not the
	// ledger total, so vault drift is caught here too.
	vaultBalance, err := c.book.Balance(market.LoanVault)
	if err != nil {
		return RecordDelta{}, err
	}
	if newMarketBorrowed > vaultBalance {
		return RecordDelta{}, state.ErrInsufficientLoanLiquidity
	}
	if newUserBorrowed > maxAllowable {
		return RecordDelta{}, state.ErrMaxBorrowExceeded
	}

	if err := c.book.Transfer(market.LoanAsset, cmd.Source, cmd.Destination, cmd.Amount, market.VaultAuthority()); err != nil {
		return RecordDelta{}, err
	}

	pos.Borrowed = newUserBorrowed
	pos.Version++
	market.BorrowedAmount = newMarketBorrowed
	market.Version++

	remaining, _ := c.book.Balance(market.LoanVault)
	return RecordDelta{
		Market:           snapshotMarket(market),
		Position:         snapshotPosition(pos),
		Accounts:         c.snapshotAccounts(cmd.Source, cmd.Destination),
		LoanVault:        market.LoanVault,
		LoanVaultBalance: remaining,
		TouchedLoanVault: true,
	}, nil
}

// handleFundLoanVault issues loan assets into the market's custody.
// Administrator only. No ledger record changes — later Borrow calls
// observe the new liquidity through the real vault balance.
func (c *LendingCore) handleFundLoanVault(cmd *command.FundLoanVault) (RecordDelta, error) {
	market, err := c.markets.Get(cmd.Market)
	if err != nil {
		return RecordDelta{}, err
	}

	if cmd.Authority != market.Administrator {
		return RecordDelta{}, state.ErrNotAdministrator
	}

	if err := c.verifyVault(cmd.Vault, market.LoanVault, market.Address, market.LoanAsset); err != nil {
		return RecordDelta{}, err
	}

	if err := c.book.Issue(market.LoanAsset, cmd.Vault, cmd.Amount, market.VaultAuthority()); err != nil {
		return RecordDelta{}, err
	}

	delta := RecordDelta{Accounts: c.snapshotAccounts(cmd.Vault)}
	if asset, err := c.book.Asset(market.LoanAsset); err == nil {
		delta.Assets = []token.Asset{*asset}
	}
	delta.LoanVault = market.LoanVault
	delta.LoanVaultBalance, _ = c.book.Balance(market.LoanVault)
	delta.TouchedLoanVault = true
	return delta, nil
}

// verifyVault checks that a caller-supplied custody location is the
// market's registered vault, owned by the market, and denominated in the
// market's registered asset. Evaluated eagerly before any mutation.
func (c *LendingCore) verifyVault(supplied, registered, marketAddr, asset token.Address) error {
	if supplied != registered {
		return state.ErrVaultMismatch
	}
	acc, err := c.book.Account(supplied)
	if err != nil {
		return err
	}
	if acc.Owner != marketAddr {
		return state.ErrVaultOwnerMismatch
	}
	if acc.Asset != asset {
		return state.ErrVaultAssetMismatch
	}
	return nil
}

// reconcileMarket asserts the aggregate invariant for one market:
// ledger totals must equal the sum over its positions. Runs after every
// committed transition touching the market.
func (c *LendingCore) reconcileMarket(marketID string) error {
	market, err := c.markets.Get(marketID)
	if err != nil {
		// Commands can target a market that was never created.
		return nil
	}

	var collateralSum, borrowedSum uint64
	for _, pos := range c.positions.ForMarket(marketID) {
		collateralSum += pos.DepositedCollateral
		borrowedSum += pos.Borrowed
	}

	if market.CollateralAmount != collateralSum {
		return fmt.Errorf("market %s collateral total %d != position sum %d",
			marketID, market.CollateralAmount, collateralSum)
	}
	if market.BorrowedAmount != borrowedSum {
		return fmt.Errorf("market %s borrowed total %d != position sum %d",
			marketID, market.BorrowedAmount, borrowedSum)
	}
	return nil
}

// computeStateDigest builds canonical bytes over the mutated records.
func (c *LendingCore) computeStateDigest(delta RecordDelta) []byte {
	type entry struct {
		path  string
		words []uint64
	}

	entries := make([]entry, 0, 4)
	if delta.Market != nil {
		entries = append(entries, entry{
			path:  "market:" + delta.Market.ID,
			words: []uint64{delta.Market.CollateralAmount, delta.Market.BorrowedAmount},
		})
	}
	if delta.Position != nil {
		entries = append(entries, entry{
			path:  "position:" + delta.Position.Owner.String() + ":" + delta.Position.MarketID,
			words: []uint64{delta.Position.DepositedCollateral, delta.Position.Borrowed},
		})
	}
	for _, a := range delta.Assets {
		entries = append(entries, entry{path: "asset:" + a.Address.String(), words: []uint64{a.Supply}})
	}
	for _, acc := range delta.Accounts {
		entries = append(entries, entry{path: "account:" + acc.Address.String(), words: []uint64{acc.Balance}})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	digest := make([]byte, 0, len(entries)*48)
	for _, e := range entries {
		digest = append(digest, byte(len(e.path)))
		digest = append(digest, []byte(e.path)...)
		for _, w := range e.words {
			digest = appendUint64LE(digest, w)
		}
	}
	return digest
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (c *LendingCore) publishLedgerGauges(marketID string, delta RecordDelta) {
	if delta.Market != nil {
		c.metrics.MarketCollateral.WithLabelValues(delta.Market.ID).Set(float64(delta.Market.CollateralAmount))
		c.metrics.MarketBorrowed.WithLabelValues(delta.Market.ID).Set(float64(delta.Market.BorrowedAmount))
	}
	if delta.TouchedLoanVault {
		c.metrics.VaultBalance.WithLabelValues(marketID, delta.LoanVault.String()).Set(float64(delta.LoanVaultBalance))
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, state.ErrMarketExists),
		errors.Is(err, state.ErrIdenticalAssets):
		return "configuration"
	case errors.Is(err, state.ErrPositionExists),
		errors.Is(err, token.ErrAccountExists):
		return "duplicate"
	case errors.Is(err, state.ErrMarketNotFound),
		errors.Is(err, state.ErrPositionNotFound),
		errors.Is(err, token.ErrUnknownAccount),
		errors.Is(err, token.ErrUnknownAsset):
		return "not_found"
	case errors.Is(err, state.ErrNotAdministrator),
		errors.Is(err, state.ErrVaultMismatch),
		errors.Is(err, state.ErrVaultOwnerMismatch),
		errors.Is(err, state.ErrVaultAssetMismatch),
		errors.Is(err, token.ErrUnauthorized),
		errors.Is(err, token.ErrAssetMismatch):
		return "authorization"
	case errors.Is(err, state.ErrUserCollateralOverflow),
		errors.Is(err, state.ErrMarketCollateralOverflow),
		errors.Is(err, state.ErrUserBorrowOverflow),
		errors.Is(err, state.ErrMarketBorrowOverflow):
		return "overflow"
	case errors.Is(err, state.ErrMaxBorrowExceeded):
		return "solvency"
	case errors.Is(err, state.ErrInsufficientLoanLiquidity):
		return "liquidity"
	case errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, token.ErrBalanceOverflow),
		errors.Is(err, token.ErrSupplyOverflow):
		return "transfer_fault"
	default:
		return "internal"
	}
}

func commandTimestamp(cmd command.Command) time.Time {
	switch cc := cmd.(type) {
	case *command.InitializeMarket:
		return cc.Timestamp
	case *command.CreateUserPosition:
		return cc.Timestamp
	case *command.CreateHoldingAccount:
		return cc.Timestamp
	case *command.DepositCollateral:
		return cc.Timestamp
	case *command.Borrow:
		return cc.Timestamp
	case *command.FundLoanVault:
		return cc.Timestamp
	default:
		return time.Time{}
	}
}

func snapshotMarket(m *state.Market) *state.Market {
	cp := *m
	return &cp
}

func snapshotPosition(p *state.Position) *state.Position {
	cp := *p
	return &cp
}

func (c *LendingCore) snapshotAccounts(addrs ...token.Address) []token.Account {
	out := make([]token.Account, 0, len(addrs))
	for _, addr := range addrs {
		if acc, err := c.book.Account(addr); err == nil {
			out = append(out, *acc)
		}
	}
	return out
}

// --- Startup reload & accessors ---

// RestoreMarket loads a persisted market record during startup recovery.
func (c *LendingCore) RestoreMarket(m *state.Market) {
	c.markets.Restore(m)
}

// RestorePosition loads a persisted position record during startup recovery.
func (c *LendingCore) RestorePosition(p *state.Position) {
	c.positions.Restore(p)
}

// RestoreAsset loads a persisted asset registry entry during startup recovery.
func (c *LendingCore) RestoreAsset(a token.Asset) {
	c.book.RestoreAsset(a)
}

// RestoreAccount loads a persisted custodial account during startup recovery.
func (c *LendingCore) RestoreAccount(acc token.Account) {
	c.book.RestoreAccount(acc)
}

// SetSequence restores the next sequence to assign.
func (c *LendingCore) SetSequence(seq int64) {
	c.sequence = seq
}

// SetStateHash restores the hash chain tip.
func (c *LendingCore) SetStateHash(hash [32]byte) {
	c.hasher.SetPrevHash(hash)
}

// WarmLRU loads recent idempotency keys so a warm restart does not pay
// cold-path DB lookups.
func (c *LendingCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *LendingCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *LendingCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// Market returns the live market record. Read-only access for the shell
// during startup and for tests; never mutate outside the core goroutine.
func (c *LendingCore) Market(id string) (*state.Market, error) {
	return c.markets.Get(id)
}

// Position returns the live position record for (owner, market).
func (c *LendingCore) Position(owner token.Address, marketID string) (*state.Position, error) {
	return c.positions.Get(owner, marketID)
}

// VaultBalance returns the real custodial balance at addr.
func (c *LendingCore) VaultBalance(addr token.Address) (uint64, error) {
	return c.book.Balance(addr)
}
