package command

import (
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/token"
)

// Type discriminator for command payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeInitializeMarket
	TypeCreateUserPosition
	TypeCreateHoldingAccount
	TypeDepositCollateral
	TypeBorrow
	TypeFundLoanVault
)

func (t Type) String() string {
	switch t {
	case TypeInitializeMarket:
		return "InitializeMarket"
	case TypeCreateUserPosition:
		return "CreateUserPosition"
	case TypeCreateHoldingAccount:
		return "CreateHoldingAccount"
	case TypeDepositCollateral:
		return "DepositCollateral"
	case TypeBorrow:
		return "Borrow"
	case TypeFundLoanVault:
		return "FundLoanVault"
	default:
		return "Unknown"
	}
}

// Command is the interface all ledger commands implement. The acting
// principal on each command is authenticated by the shell before the
// command reaches the core; the core only performs capability checks.
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() Type

	// MarketID returns the market the command targets
	MarketID() string
}

// Envelope wraps every committed command in the log
type Envelope struct {
	// Global monotonic sequence assigned by the core
	Sequence int64

	// Stable idempotency key from the caller
	IdempotencyKey string

	// Command type discriminator
	CommandType Type

	// Market context
	MarketID string

	// Submission timestamp from the shell (not read by the core)
	Timestamp time.Time

	// SHA-256 of mutated records AFTER applying this command
	StateHash [32]byte

	// Previous envelope's state hash (chain integrity)
	PrevHash [32]byte
}

// InitializeMarket creates a market, its two asset registries, and its
// two custodial vaults.
type InitializeMarket struct {
	CommandID     uuid.UUID
	Market        string
	Administrator token.Address
	Timestamp     time.Time
}

func (c *InitializeMarket) IdempotencyKey() string { return c.CommandID.String() }
func (c *InitializeMarket) CommandType() Type      { return TypeInitializeMarket }
func (c *InitializeMarket) MarketID() string       { return c.Market }

// CreateUserPosition creates a zeroed position for (owner, market).
type CreateUserPosition struct {
	CommandID uuid.UUID
	Market    string
	Owner     token.Address
	Timestamp time.Time
}

func (c *CreateUserPosition) IdempotencyKey() string { return c.CommandID.String() }
func (c *CreateUserPosition) CommandType() Type      { return TypeCreateUserPosition }
func (c *CreateUserPosition) MarketID() string       { return c.Market }

// AssetKind selects which of a market's two assets a holding account is
// denominated in.
type AssetKind string

const (
	AssetCollateral AssetKind = "collateral"
	AssetLoan       AssetKind = "loan"
)

// CreateHoldingAccount opens a caller-owned account for one of the
// market's assets at its derived address. Deposit sources and borrow
// destinations are holding accounts.
type CreateHoldingAccount struct {
	CommandID uuid.UUID
	Market    string
	Owner     token.Address
	Asset     AssetKind
	Timestamp time.Time
}

func (c *CreateHoldingAccount) IdempotencyKey() string { return c.CommandID.String() }
func (c *CreateHoldingAccount) CommandType() Type      { return TypeCreateHoldingAccount }
func (c *CreateHoldingAccount) MarketID() string       { return c.Market }

// DepositCollateral moves collateral from the owner's source account
// into the market's collateral vault and credits both ledgers.
type DepositCollateral struct {
	CommandID uuid.UUID
	Market    string
	Owner     token.Address
	Amount    uint64

	// Source is a collateral-asset account under the owner's control.
	Source token.Address
	// Destination must be the market's registered collateral vault.
	Destination token.Address

	Timestamp time.Time
}

func (c *DepositCollateral) IdempotencyKey() string { return c.CommandID.String() }
func (c *DepositCollateral) CommandType() Type      { return TypeDepositCollateral }
func (c *DepositCollateral) MarketID() string       { return c.Market }

// Borrow moves loan assets from the market's loan vault to the owner's
// destination account after solvency and liquidity checks.
type Borrow struct {
	CommandID uuid.UUID
	Market    string
	Owner     token.Address
	Amount    uint64

	// Source must be the market's registered loan vault.
	Source token.Address
	// Destination is a loan-asset account under the owner's control.
	Destination token.Address

	Timestamp time.Time
}

func (c *Borrow) IdempotencyKey() string { return c.CommandID.String() }
func (c *Borrow) CommandType() Type      { return TypeBorrow }
func (c *Borrow) MarketID() string       { return c.Market }

// FundLoanVault issues loan assets directly into the market's loan
// vault. Administrator only; touches no ledger record.
type FundLoanVault struct {
	CommandID uuid.UUID
	Market    string
	Authority token.Address
	Amount    uint64

	// Vault must be the market's registered loan vault.
	Vault token.Address

	Timestamp time.Time
}

func (c *FundLoanVault) IdempotencyKey() string { return c.CommandID.String() }
func (c *FundLoanVault) CommandType() Type      { return TypeFundLoanVault }
func (c *FundLoanVault) MarketID() string       { return c.Market }
