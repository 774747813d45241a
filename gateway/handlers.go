package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"synthd/native/collateral"
	nativecommon "synthd/native/common"
)

const requestBodyLimit = 1 << 20 // 1 MiB

type server struct {
	engine *collateral.Engine
	prices *collateral.ManualSource
	log    *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	s.log.Warn("gateway request failed", "err", err)
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

// statusFor maps the engine's error taxonomy onto HTTP status codes:
// validation failures are 400, solvency and liquidation preconditions 409,
// external collaborator failures 502.
func statusFor(err error) int {
	var breaks *collateral.BreaksHealthFactorError
	switch {
	case errors.Is(err, collateral.ErrAmountZero),
		errors.Is(err, collateral.ErrTokenNotAllowed):
		return http.StatusBadRequest
	case errors.As(err, &breaks),
		errors.Is(err, collateral.ErrHealthFactorOk),
		errors.Is(err, collateral.ErrHealthFactorNotImproved),
		errors.Is(err, collateral.ErrInsufficientCollateral),
		errors.Is(err, collateral.ErrInsufficientDebt):
		return http.StatusConflict
	case errors.Is(err, collateral.ErrTransferFailed),
		errors.Is(err, collateral.ErrMintFailed),
		errors.Is(err, collateral.ErrStalePrice),
		errors.Is(err, collateral.ErrInvalidPrice):
		return http.StatusBadGateway
	case errors.Is(err, collateral.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) decode(w http.ResponseWriter, req *http.Request, out any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, req.Body, requestBodyLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func parseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, errors.New("invalid address " + value)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, errors.New("invalid amount " + value)
	}
	if amount.Sign() < 0 {
		return nil, errors.New("amount must not be negative")
	}
	return amount, nil
}

// --- views ---

func (s *server) collateralTokens(w http.ResponseWriter, _ *http.Request) {
	tokens := s.engine.CollateralTokens()
	hexes := make([]string, 0, len(tokens))
	for _, token := range tokens {
		hexes = append(hexes, token.Hex())
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": hexes})
}

func (s *server) position(w http.ResponseWriter, req *http.Request) {
	addr, err := parseAddress(chi.URLParam(req, "address"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	debt, collateralValue, err := s.engine.AccountInformation(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	healthFactor, err := s.engine.HealthFactor(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	balances := make(map[string]string)
	for _, token := range s.engine.CollateralTokens() {
		balance, err := s.engine.CollateralBalanceOf(addr, token)
		if err != nil {
			s.writeError(w, err)
			return
		}
		balances[token.Hex()] = balance.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":            addr.Hex(),
		"debt":               debt.String(),
		"collateralValueUsd": collateralValue.String(),
		"healthFactor":       healthFactor.String(),
		"collateral":         balances,
	})
}

func (s *server) quoteUsd(w http.ResponseWriter, req *http.Request) {
	token, err := parseAddress(req.URL.Query().Get("token"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.URL.Query().Get("amount"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	value, err := s.engine.UsdValue(token, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"usdValue": value.String()})
}

func (s *server) quoteToken(w http.ResponseWriter, req *http.Request) {
	token, err := parseAddress(req.URL.Query().Get("token"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	usd, err := parseAmount(req.URL.Query().Get("usd"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, err := s.engine.TokenAmountFromUsd(token, usd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tokenAmount": amount.String()})
}

// --- mutations ---

type depositRequest struct {
	From   string `json:"from"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
	Debt   string `json:"debt,omitempty"`
}

func (s *server) deposit(w http.ResponseWriter, req *http.Request) {
	var body depositRequest
	if !s.decode(w, req, &body) {
		return
	}
	from, err := parseAddress(body.From)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	token, err := parseAddress(body.Token)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.engine.DepositCollateral(from, token, amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) depositAndMint(w http.ResponseWriter, req *http.Request) {
	var body depositRequest
	if !s.decode(w, req, &body) {
		return
	}
	from, err := parseAddress(body.From)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	token, err := parseAddress(body.Token)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	debt, err := parseAmount(body.Debt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.engine.DepositCollateralAndMint(from, token, amount, debt); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type debtRequest struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

func (s *server) mint(w http.ResponseWriter, req *http.Request) {
	var body debtRequest
	if !s.decode(w, req, &body) {
		return
	}
	from, err := parseAddress(body.From)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.engine.Mint(from, amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) burn(w http.ResponseWriter, req *http.Request) {
	var body debtRequest
	if !s.decode(w, req, &body) {
		return
	}
	from, err := parseAddress(body.From)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.engine.Burn(from, amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) redeem(w http.ResponseWriter, req *http.Request) {
	var body depositRequest
	if !s.decode(w, req, &body) {
		return
	}
	from, err := parseAddress(body.From)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	token, err := parseAddress(body.Token)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.engine.RedeemCollateral(from, token, amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) redeemForDebt(w http.ResponseWriter, req *http.Request) {
	var body depositRequest
	if !s.decode(w, req, &body) {
		return
	}
	from, err := parseAddress(body.From)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	token, err := parseAddress(body.Token)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	debt, err := parseAmount(body.Debt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.engine.RedeemCollateralForDebt(from, token, amount, debt); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type liquidateRequest struct {
	Liquidator  string `json:"liquidator"`
	User        string `json:"user"`
	Token       string `json:"token"`
	DebtToCover string `json:"debtToCover"`
}

func (s *server) liquidate(w http.ResponseWriter, req *http.Request) {
	var body liquidateRequest
	if !s.decode(w, req, &body) {
		return
	}
	liquidator, err := parseAddress(body.Liquidator)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	user, err := parseAddress(body.User)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	token, err := parseAddress(body.Token)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	debtToCover, err := parseAmount(body.DebtToCover)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.engine.Liquidate(liquidator, token, user, debtToCover); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type priceRequest struct {
	Feed   string `json:"feed"`
	Answer string `json:"answer"`
}

// setPrice records a manual price round, timestamped now. Only wired when the
// daemon runs with the manual source.
func (s *server) setPrice(w http.ResponseWriter, req *http.Request) {
	var body priceRequest
	if !s.decode(w, req, &body) {
		return
	}
	feed, err := parseAddress(body.Feed)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	answer, err := parseAmount(body.Answer)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if answer.Sign() <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "price must be positive"})
		return
	}
	s.prices.SetPrice(feed, answer, time.Now())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
