package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"LendLedger/internal/command"
	"LendLedger/internal/observability"
	"LendLedger/internal/state"
	"LendLedger/internal/token"
)

type fakeSubmitter struct {
	got command.Command
	err error
}

func (f *fakeSubmitter) Submit(ctx context.Context, cmd command.Command) error {
	f.got = cmd
	return f.err
}

func newTestServer(sub *fakeSubmitter) http.Handler {
	health := observability.NewHealthChecker()
	health.SetReady(true)
	return NewHTTPServer(":0", sub, nil, health).Router()
}

func hexAddr(name string) string {
	return token.Derive("user", []byte(name)).String()
}

func TestDepositRoute(t *testing.T) {
	sub := &fakeSubmitter{}
	handler := newTestServer(sub)

	body := fmt.Sprintf(`{
		"command_id": "7b3e1a9c-1111-4222-8333-444455556666",
		"owner": %q,
		"amount": "1000000",
		"source": %q,
		"destination": %q
	}`, hexAddr("alice"), hexAddr("src"), hexAddr("dst"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/markets/usdc-sol/deposit", strings.NewReader(body))
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	dep, ok := sub.got.(*command.DepositCollateral)
	require.True(t, ok, "submitted %T", sub.got)
	require.Equal(t, "usdc-sol", dep.Market)
	require.Equal(t, uint64(1_000_000), dep.Amount)
}

func TestDepositRouteRejectsBadAddress(t *testing.T) {
	sub := &fakeSubmitter{}
	handler := newTestServer(sub)

	body := `{
		"command_id": "7b3e1a9c-1111-4222-8333-444455556666",
		"owner": "nope",
		"amount": "5",
		"source": "nope",
		"destination": "nope"
	}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/markets/usdc-sol/deposit", strings.NewReader(body))
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Nil(t, sub.got)
}

func TestSubmitErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{state.ErrMarketNotFound, http.StatusNotFound},
		{state.ErrPositionExists, http.StatusConflict},
		{state.ErrNotAdministrator, http.StatusForbidden},
		{state.ErrVaultMismatch, http.StatusForbidden},
		{state.ErrMaxBorrowExceeded, http.StatusUnprocessableEntity},
		{state.ErrInsufficientLoanLiquidity, http.StatusUnprocessableEntity},
		{state.ErrUserCollateralOverflow, http.StatusUnprocessableEntity},
		{token.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	}

	body := fmt.Sprintf(`{
		"command_id": "7b3e1a9c-1111-4222-8333-444455556666",
		"owner": %q,
		"amount": "10",
		"source": %q,
		"destination": %q
	}`, hexAddr("alice"), hexAddr("src"), hexAddr("dst"))

	for _, tc := range cases {
		handler := newTestServer(&fakeSubmitter{err: tc.err})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/markets/usdc-sol/borrow", strings.NewReader(body))
		handler.ServeHTTP(rec, req)
		require.Equal(t, tc.want, rec.Code, "error %v", tc.err)
	}
}

func TestFundRoute(t *testing.T) {
	sub := &fakeSubmitter{}
	handler := newTestServer(sub)

	body := fmt.Sprintf(`{
		"command_id": "7b3e1a9c-1111-4222-8333-444455556666",
		"authority": %q,
		"amount": "5000",
		"vault": %q
	}`, hexAddr("admin"), hexAddr("vault"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/markets/usdc-sol/fund", strings.NewReader(body))
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	fund, ok := sub.got.(*command.FundLoanVault)
	require.True(t, ok)
	require.Equal(t, uint64(5_000), fund.Amount)
	require.Equal(t, "usdc-sol", fund.Market)
}

func TestHealthRoutes(t *testing.T) {
	handler := newTestServer(&fakeSubmitter{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}
