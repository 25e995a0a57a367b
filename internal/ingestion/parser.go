package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/command"
	"LendLedger/internal/token"
)

// ParseRawCommand converts a RawCommand (JSON bytes + command type
// string) into a typed command.Command. The ingestion shell validates
// and parses before submission; the core never sees raw bytes.
func ParseRawCommand(raw RawCommand, commandType string) (command.Command, error) {
	switch commandType {
	case "InitializeMarket":
		return parseInitializeMarket(raw.Data, raw.Timestamp)
	case "CreateUserPosition":
		return parseCreateUserPosition(raw.Data, raw.Timestamp)
	case "CreateHoldingAccount":
		return parseCreateHoldingAccount(raw.Data, raw.Timestamp)
	case "DepositCollateral":
		return parseDepositCollateral(raw.Data, raw.Timestamp)
	case "Borrow":
		return parseBorrow(raw.Data, raw.Timestamp)
	case "FundLoanVault":
		return parseFundLoanVault(raw.Data, raw.Timestamp)
	default:
		return nil, fmt.Errorf("unknown command type: %s", commandType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts are
// string-encoded uint64 so producers in JSON-number-limited languages
// cannot silently truncate them. Addresses are hex.

type initializeMarketJSON struct {
	CommandID     string `json:"command_id"`
	Market        string `json:"market"`
	Administrator string `json:"administrator"`
}

func parseInitializeMarket(data []byte, ts time.Time) (*command.InitializeMarket, error) {
	var j initializeMarketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse InitializeMarket: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	if j.Market == "" {
		return nil, fmt.Errorf("market is required")
	}
	administrator, err := token.ParseAddress(j.Administrator)
	if err != nil {
		return nil, fmt.Errorf("parse administrator: %w", err)
	}
	return &command.InitializeMarket{
		CommandID:     commandID,
		Market:        j.Market,
		Administrator: administrator,
		Timestamp:     ts,
	}, nil
}

type createUserPositionJSON struct {
	CommandID string `json:"command_id"`
	Market    string `json:"market"`
	Owner     string `json:"owner"`
}

func parseCreateUserPosition(data []byte, ts time.Time) (*command.CreateUserPosition, error) {
	var j createUserPositionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreateUserPosition: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	owner, err := token.ParseAddress(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	return &command.CreateUserPosition{
		CommandID: commandID,
		Market:    j.Market,
		Owner:     owner,
		Timestamp: ts,
	}, nil
}

type createHoldingAccountJSON struct {
	CommandID string `json:"command_id"`
	Market    string `json:"market"`
	Owner     string `json:"owner"`
	Asset     string `json:"asset"` // "collateral" or "loan"
}

func parseCreateHoldingAccount(data []byte, ts time.Time) (*command.CreateHoldingAccount, error) {
	var j createHoldingAccountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreateHoldingAccount: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	owner, err := token.ParseAddress(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	kind := command.AssetKind(j.Asset)
	if kind != command.AssetCollateral && kind != command.AssetLoan {
		return nil, fmt.Errorf("asset must be %q or %q", command.AssetCollateral, command.AssetLoan)
	}
	return &command.CreateHoldingAccount{
		CommandID: commandID,
		Market:    j.Market,
		Owner:     owner,
		Asset:     kind,
		Timestamp: ts,
	}, nil
}

type depositCollateralJSON struct {
	CommandID   string `json:"command_id"`
	Market      string `json:"market"`
	Owner       string `json:"owner"`
	Amount      uint64 `json:"amount,string"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

func parseDepositCollateral(data []byte, ts time.Time) (*command.DepositCollateral, error) {
	var j depositCollateralJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositCollateral: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	owner, err := token.ParseAddress(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	source, err := token.ParseAddress(j.Source)
	if err != nil {
		return nil, fmt.Errorf("parse source: %w", err)
	}
	destination, err := token.ParseAddress(j.Destination)
	if err != nil {
		return nil, fmt.Errorf("parse destination: %w", err)
	}
	return &command.DepositCollateral{
		CommandID:   commandID,
		Market:      j.Market,
		Owner:       owner,
		Amount:      j.Amount,
		Source:      source,
		Destination: destination,
		Timestamp:   ts,
	}, nil
}

type borrowJSON struct {
	CommandID   string `json:"command_id"`
	Market      string `json:"market"`
	Owner       string `json:"owner"`
	Amount      uint64 `json:"amount,string"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

func parseBorrow(data []byte, ts time.Time) (*command.Borrow, error) {
	var j borrowJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Borrow: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	owner, err := token.ParseAddress(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	source, err := token.ParseAddress(j.Source)
	if err != nil {
		return nil, fmt.Errorf("parse source: %w", err)
	}
	destination, err := token.ParseAddress(j.Destination)
	if err != nil {
		return nil, fmt.Errorf("parse destination: %w", err)
	}
	return &command.Borrow{
		CommandID:   commandID,
		Market:      j.Market,
		Owner:       owner,
		Amount:      j.Amount,
		Source:      source,
		Destination: destination,
		Timestamp:   ts,
	}, nil
}

type fundLoanVaultJSON struct {
	CommandID string `json:"command_id"`
	Market    string `json:"market"`
	Authority string `json:"authority"`
	Amount    uint64 `json:"amount,string"`
	Vault     string `json:"vault"`
}

func parseFundLoanVault(data []byte, ts time.Time) (*command.FundLoanVault, error) {
	var j fundLoanVaultJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FundLoanVault: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	authority, err := token.ParseAddress(j.Authority)
	if err != nil {
		return nil, fmt.Errorf("parse authority: %w", err)
	}
	vault, err := token.ParseAddress(j.Vault)
	if err != nil {
		return nil, fmt.Errorf("parse vault: %w", err)
	}
	return &command.FundLoanVault{
		CommandID: commandID,
		Market:    j.Market,
		Authority: authority,
		Amount:    j.Amount,
		Vault:     vault,
		Timestamp: ts,
	}, nil
}
