package ingestion

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"LendLedger/internal/command"
	"LendLedger/internal/token"
)

func hexAddr(name string) string {
	return token.Derive("user", []byte(name)).String()
}

func TestParseDepositCollateral(t *testing.T) {
	owner := hexAddr("alice")
	source := hexAddr("source")
	dest := hexAddr("dest")
	payload := fmt.Sprintf(`{
		"command_id": "7b3e1a9c-1111-4222-8333-444455556666",
		"market": "usdc-sol",
		"owner": %q,
		"amount": "1000000",
		"source": %q,
		"destination": %q
	}`, owner, source, dest)

	now := time.Now()
	cmd, err := ParseRawCommand(RawCommand{Data: []byte(payload), Timestamp: now}, "DepositCollateral")
	if err != nil {
		t.Fatalf("ParseRawCommand: %v", err)
	}

	dep, ok := cmd.(*command.DepositCollateral)
	if !ok {
		t.Fatalf("got %T, want *command.DepositCollateral", cmd)
	}
	if dep.Amount != 1_000_000 {
		t.Errorf("Amount = %d, want 1000000", dep.Amount)
	}
	if dep.Owner.String() != owner {
		t.Errorf("Owner = %s, want %s", dep.Owner, owner)
	}
	if dep.MarketID() != "usdc-sol" {
		t.Errorf("MarketID = %q", dep.MarketID())
	}
	if !dep.Timestamp.Equal(now) {
		t.Errorf("Timestamp not carried from raw command")
	}
}

func TestParseRejectsBadAddress(t *testing.T) {
	payload := `{
		"command_id": "7b3e1a9c-1111-4222-8333-444455556666",
		"market": "usdc-sol",
		"owner": "not-hex"
	}`
	_, err := ParseRawCommand(RawCommand{Data: []byte(payload)}, "CreateUserPosition")
	if err == nil || !strings.Contains(err.Error(), "owner") {
		t.Errorf("want owner parse error, got %v", err)
	}
}

func TestParseRejectsBadAssetKind(t *testing.T) {
	payload := fmt.Sprintf(`{
		"command_id": "7b3e1a9c-1111-4222-8333-444455556666",
		"market": "usdc-sol",
		"owner": %q,
		"asset": "equity"
	}`, hexAddr("alice"))
	_, err := ParseRawCommand(RawCommand{Data: []byte(payload)}, "CreateHoldingAccount")
	if err == nil {
		t.Error("want error for unknown asset kind")
	}
}

func TestParseRejectsMissingMarket(t *testing.T) {
	payload := fmt.Sprintf(`{
		"command_id": "7b3e1a9c-1111-4222-8333-444455556666",
		"administrator": %q
	}`, hexAddr("admin"))
	_, err := ParseRawCommand(RawCommand{Data: []byte(payload)}, "InitializeMarket")
	if err == nil {
		t.Error("want error for missing market")
	}
}

func TestParseUnknownCommandType(t *testing.T) {
	_, err := ParseRawCommand(RawCommand{Data: []byte(`{}`)}, "Repay")
	if err == nil {
		t.Error("want error for unknown command type")
	}
}

func TestParseFundLoanVault(t *testing.T) {
	authority := hexAddr("admin")
	vault := hexAddr("vault")
	payload := fmt.Sprintf(`{
		"command_id": "7b3e1a9c-1111-4222-8333-444455556666",
		"market": "usdc-sol",
		"authority": %q,
		"amount": "18446744073709551615",
		"vault": %q
	}`, authority, vault)

	cmd, err := ParseRawCommand(RawCommand{Data: []byte(payload)}, "FundLoanVault")
	if err != nil {
		t.Fatalf("ParseRawCommand: %v", err)
	}
	fund := cmd.(*command.FundLoanVault)
	if fund.Amount != ^uint64(0) {
		t.Errorf("Amount = %d, want MaxUint64", fund.Amount)
	}
}
