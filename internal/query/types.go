package query

import "time"

// MarketResponse represents a market record for API queries.
type MarketResponse struct {
	MarketID           string `json:"market_id"`
	Address            string `json:"address"`
	Administrator      string `json:"administrator"`
	CollateralAsset    string `json:"collateral_asset"`
	LoanAsset          string `json:"loan_asset"`
	CollateralVault    string `json:"collateral_vault"`
	LoanVault          string `json:"loan_vault"`
	InterestRateBps    uint16 `json:"interest_rate_bps"`
	CollateralRatioBps uint16 `json:"collateral_ratio_bps"`
	CollateralAmount   uint64 `json:"collateral_amount,string"`
	BorrowedAmount     uint64 `json:"borrowed_amount,string"`
	Version            uint64 `json:"version,string"`
	AsOfSequence       int64  `json:"as_of_sequence"`
}

// PositionResponse represents a user position for API queries.
type PositionResponse struct {
	Owner               string `json:"owner"`
	MarketID            string `json:"market_id"`
	DepositedCollateral uint64 `json:"deposited_collateral,string"`
	Borrowed            uint64 `json:"borrowed,string"`
	MaxAllowableBorrow  uint64 `json:"max_allowable_borrow,string"`
	Version             uint64 `json:"version,string"`
	AsOfSequence        int64  `json:"as_of_sequence"`
}

// VaultBalanceResponse represents a custodial account balance.
type VaultBalanceResponse struct {
	Address      string `json:"address"`
	Owner        string `json:"owner"`
	Asset        string `json:"asset"`
	Balance      uint64 `json:"balance,string"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// MarketOverviewResponse is the projected per-market summary.
type MarketOverviewResponse struct {
	MarketID         string    `json:"market_id"`
	CollateralAmount uint64    `json:"collateral_amount,string"`
	BorrowedAmount   uint64    `json:"borrowed_amount,string"`
	LoanVaultBalance uint64    `json:"loan_vault_balance,string"`
	PositionCount    int64     `json:"position_count"`
	LastSequence     int64     `json:"last_sequence"`
	UpdatedAt        time.Time `json:"updated_at"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// IntegrityReport summarizes command-log hash chain verification.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	HeadSequence    int64   `json:"head_sequence"`
}
