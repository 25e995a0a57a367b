package state

import "errors"

// Ledger error kinds. Every validation in the lending core resolves to one
// of these sentinels so callers can map failures without string matching.
var (
	// Configuration
	ErrIdenticalAssets = errors.New("lending: collateral and loan assets must differ")
	ErrMarketExists    = errors.New("lending: market already initialized")
	ErrMarketNotFound  = errors.New("lending: market not found")

	// Duplicate / missing records
	ErrPositionExists   = errors.New("lending: user position already exists")
	ErrPositionNotFound = errors.New("lending: user position not found")

	// Authorization
	ErrNotAdministrator   = errors.New("lending: caller is not the market administrator")
	ErrVaultMismatch      = errors.New("lending: custody does not match the market's registered vault")
	ErrVaultOwnerMismatch = errors.New("lending: market does not own the provided vault")
	ErrVaultAssetMismatch = errors.New("lending: vault asset does not match the market's registered asset")

	// Overflow, one sentinel per ledger field for diagnostic precision
	ErrUserCollateralOverflow   = errors.New("lending: user collateral amount overflow")
	ErrMarketCollateralOverflow = errors.New("lending: market collateral amount overflow")
	ErrUserBorrowOverflow       = errors.New("lending: user borrow amount overflow")
	ErrMarketBorrowOverflow     = errors.New("lending: market borrow amount overflow")

	// Solvency and liquidity
	ErrMaxBorrowExceeded         = errors.New("lending: total borrow would exceed the maximum allowable borrow")
	ErrInsufficientLoanLiquidity = errors.New("lending: loan vault does not hold enough liquidity")
)
