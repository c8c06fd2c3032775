package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// PointsService defines the read surface the points handler needs from the
// points ledger.
type PointsService interface {
	Balance(account common.Address) *big.Int
	ReferenceBalance(account common.Address) *big.Int
	MaxDailySpending(account common.Address) *big.Int
	AvailableSpending(account common.Address) *big.Int
	Allowance(owner, spender common.Address) *big.Int
}

// PointsHandler serves points ledger HTTP endpoints.
type PointsHandler struct {
	points PointsService
	logger *slog.Logger
}

// NewPointsHandler creates a PointsHandler with the given service and logger.
func NewPointsHandler(points PointsService, logger *slog.Logger) *PointsHandler {
	return &PointsHandler{points: points, logger: logHandler(logger, "points")}
}

// GetAccount returns the account's point balances and spending budget.
// GET /api/points/{account}
func (h *PointsHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddress(pathParam(r, "account"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account":            account.Hex(),
		"balance":            weiString(h.points.Balance(account)),
		"reference_balance":  weiString(h.points.ReferenceBalance(account)),
		"max_daily_spending": weiString(h.points.MaxDailySpending(account)),
		"available_spending": weiString(h.points.AvailableSpending(account)),
	})
}

// GetAllowance returns what a spender may draw from the owner's points.
// GET /api/points/{account}/allowance?spender=0x...
func (h *PointsHandler) GetAllowance(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(pathParam(r, "account"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}
	spender, ok := parseAddress(r.URL.Query().Get("spender"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid spender address")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"owner":     owner.Hex(),
		"spender":   spender.Hex(),
		"allowance": weiString(h.points.Allowance(owner, spender)),
	})
}
