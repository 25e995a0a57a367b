package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LendLedger/internal/command"
	"LendLedger/internal/observability"
	"LendLedger/internal/query"
	"LendLedger/internal/state"
	"LendLedger/internal/token"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// CommandSubmitter is the write side: the lending core behind its
// submit channel.
type CommandSubmitter interface {
	Submit(ctx context.Context, cmd command.Command) error
}

// HTTPServer serves the HTTP/JSON command and query surface.
type HTTPServer struct {
	addr    string
	core    CommandSubmitter
	queries *query.QueryService
	health  *observability.HealthChecker
	log     zerolog.Logger
	timeout time.Duration
}

func NewHTTPServer(
	addr string,
	core CommandSubmitter,
	queries *query.QueryService,
	health *observability.HealthChecker,
) *HTTPServer {
	return &HTTPServer{
		addr:    addr,
		core:    core,
		queries: queries,
		health:  health,
		log:     observability.NewLogger("http"),
		timeout: 10 * time.Second,
	}
}

// Router builds the chi router with all routes mounted.
func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/markets", s.initializeMarket)
		r.Get("/markets/{market}", s.getMarket)
		r.Get("/markets/{market}/overview", s.getMarketOverview)
		r.Post("/markets/{market}/positions", s.createPosition)
		r.Get("/markets/{market}/positions/{owner}", s.getPosition)
		r.Post("/markets/{market}/accounts", s.createHoldingAccount)
		r.Post("/markets/{market}/deposit", s.depositCollateral)
		r.Post("/markets/{market}/borrow", s.borrow)
		r.Post("/markets/{market}/fund", s.fundLoanVault)
		r.Get("/vaults/{address}", s.getVaultBalance)
		r.Get("/integrity", s.verifyIntegrity)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("http server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- command handlers ---

type initializeMarketRequest struct {
	CommandID     string `json:"command_id"`
	Market        string `json:"market"`
	Administrator string `json:"administrator"`
}

func (s *HTTPServer) initializeMarket(w http.ResponseWriter, r *http.Request) {
	var req initializeMarketRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	commandID, err := uuid.Parse(req.CommandID)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("command_id must be a UUID"))
		return
	}
	if req.Market == "" {
		writeError(w, http.StatusBadRequest, errors.New("market is required"))
		return
	}
	administrator, err := token.ParseAddress(req.Administrator)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("administrator must be a hex address"))
		return
	}

	s.submit(w, r, &command.InitializeMarket{
		CommandID:     commandID,
		Market:        req.Market,
		Administrator: administrator,
		Timestamp:     time.Now(),
	})
}

type createPositionRequest struct {
	CommandID string `json:"command_id"`
	Owner     string `json:"owner"`
}

func (s *HTTPServer) createPosition(w http.ResponseWriter, r *http.Request) {
	var req createPositionRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	commandID, err := uuid.Parse(req.CommandID)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("command_id must be a UUID"))
		return
	}
	owner, err := token.ParseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("owner must be a hex address"))
		return
	}

	s.submit(w, r, &command.CreateUserPosition{
		CommandID: commandID,
		Market:    chi.URLParam(r, "market"),
		Owner:     owner,
		Timestamp: time.Now(),
	})
}

type createHoldingAccountRequest struct {
	CommandID string `json:"command_id"`
	Owner     string `json:"owner"`
	Asset     string `json:"asset"`
}

func (s *HTTPServer) createHoldingAccount(w http.ResponseWriter, r *http.Request) {
	var req createHoldingAccountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	commandID, err := uuid.Parse(req.CommandID)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("command_id must be a UUID"))
		return
	}
	owner, err := token.ParseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("owner must be a hex address"))
		return
	}
	kind := command.AssetKind(req.Asset)
	if kind != command.AssetCollateral && kind != command.AssetLoan {
		writeError(w, http.StatusBadRequest, errors.New(`asset must be "collateral" or "loan"`))
		return
	}

	s.submit(w, r, &command.CreateHoldingAccount{
		CommandID: commandID,
		Market:    chi.URLParam(r, "market"),
		Owner:     owner,
		Asset:     kind,
		Timestamp: time.Now(),
	})
}

type transferRequest struct {
	CommandID   string `json:"command_id"`
	Owner       string `json:"owner"`
	Amount      uint64 `json:"amount,string"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

func (s *HTTPServer) depositCollateral(w http.ResponseWriter, r *http.Request) {
	req, owner, source, destination, ok := s.decodeTransfer(w, r)
	if !ok {
		return
	}

	commandID, _ := uuid.Parse(req.CommandID)
	s.submit(w, r, &command.DepositCollateral{
		CommandID:   commandID,
		Market:      chi.URLParam(r, "market"),
		Owner:       owner,
		Amount:      req.Amount,
		Source:      source,
		Destination: destination,
		Timestamp:   time.Now(),
	})
}

func (s *HTTPServer) borrow(w http.ResponseWriter, r *http.Request) {
	req, owner, source, destination, ok := s.decodeTransfer(w, r)
	if !ok {
		return
	}

	commandID, _ := uuid.Parse(req.CommandID)
	s.submit(w, r, &command.Borrow{
		CommandID:   commandID,
		Market:      chi.URLParam(r, "market"),
		Owner:       owner,
		Amount:      req.Amount,
		Source:      source,
		Destination: destination,
		Timestamp:   time.Now(),
	})
}

func (s *HTTPServer) decodeTransfer(w http.ResponseWriter, r *http.Request) (transferRequest, token.Address, token.Address, token.Address, bool) {
	var req transferRequest
	var zero token.Address
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return req, zero, zero, zero, false
	}
	if _, err := uuid.Parse(req.CommandID); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("command_id must be a UUID"))
		return req, zero, zero, zero, false
	}
	owner, err := token.ParseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("owner must be a hex address"))
		return req, zero, zero, zero, false
	}
	source, err := token.ParseAddress(req.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("source must be a hex address"))
		return req, zero, zero, zero, false
	}
	destination, err := token.ParseAddress(req.Destination)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("destination must be a hex address"))
		return req, zero, zero, zero, false
	}
	return req, owner, source, destination, true
}

type fundRequest struct {
	CommandID string `json:"command_id"`
	Authority string `json:"authority"`
	Amount    uint64 `json:"amount,string"`
	Vault     string `json:"vault"`
}

func (s *HTTPServer) fundLoanVault(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	commandID, err := uuid.Parse(req.CommandID)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("command_id must be a UUID"))
		return
	}
	authority, err := token.ParseAddress(req.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("authority must be a hex address"))
		return
	}
	vault, err := token.ParseAddress(req.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("vault must be a hex address"))
		return
	}

	s.submit(w, r, &command.FundLoanVault{
		CommandID: commandID,
		Market:    chi.URLParam(r, "market"),
		Authority: authority,
		Amount:    req.Amount,
		Vault:     vault,
		Timestamp: time.Now(),
	})
}

// submit hands the command to the core and maps the outcome to an HTTP
// status. A nil error means the transition committed (or already had).
func (s *HTTPServer) submit(w http.ResponseWriter, r *http.Request, cmd command.Command) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if err := s.core.Submit(ctx, cmd); err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			s.log.Error().
				Str("command_type", cmd.CommandType().String()).
				Str("market_id", cmd.MarketID()).
				Err(err).
				Msg("command failed")
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "committed"})
}

// --- query handlers ---

func (s *HTTPServer) getMarket(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.GetMarket(r.Context(), chi.URLParam(r, "market"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) getMarketOverview(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.GetMarketOverview(r.Context(), chi.URLParam(r, "market"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) getPosition(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	if _, err := token.ParseAddress(owner); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("owner must be a hex address"))
		return
	}
	resp, err := s.queries.GetPosition(r.Context(), owner, chi.URLParam(r, "market"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) getVaultBalance(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if _, err := token.ParseAddress(address); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("address must be hex"))
		return
	}
	resp, err := s.queries.GetVaultBalance(r.Context(), address)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) verifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- helpers ---

func decodeRequest(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, requestBodyLimit))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// statusForError maps ledger sentinels to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, state.ErrMarketNotFound),
		errors.Is(err, state.ErrPositionNotFound),
		errors.Is(err, token.ErrUnknownAsset),
		errors.Is(err, token.ErrUnknownAccount),
		errors.Is(err, query.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrMarketExists),
		errors.Is(err, state.ErrPositionExists),
		errors.Is(err, token.ErrAssetExists),
		errors.Is(err, token.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, state.ErrNotAdministrator),
		errors.Is(err, state.ErrVaultMismatch),
		errors.Is(err, state.ErrVaultOwnerMismatch),
		errors.Is(err, state.ErrVaultAssetMismatch),
		errors.Is(err, token.ErrUnauthorized),
		errors.Is(err, token.ErrAssetMismatch):
		return http.StatusForbidden
	case errors.Is(err, state.ErrUserCollateralOverflow),
		errors.Is(err, state.ErrMarketCollateralOverflow),
		errors.Is(err, state.ErrUserBorrowOverflow),
		errors.Is(err, state.ErrMarketBorrowOverflow),
		errors.Is(err, state.ErrMaxBorrowExceeded),
		errors.Is(err, state.ErrInsufficientLoanLiquidity),
		errors.Is(err, state.ErrIdenticalAssets),
		errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, token.ErrSupplyOverflow),
		errors.Is(err, token.ErrBalanceOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
