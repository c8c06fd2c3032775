package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// SocialService defines the read surface the social handler needs from the
// social bets gateway.
type SocialService interface {
	AvailableSpending(account common.Address) *big.Int
	MaxDailySpending(account common.Address) *big.Int
	InitialGasDrop() *big.Int
}

// SocialHandler serves social bets gateway HTTP endpoints.
type SocialHandler struct {
	social SocialService
	logger *slog.Logger
}

// NewSocialHandler creates a SocialHandler with the given service and logger.
func NewSocialHandler(social SocialService, logger *slog.Logger) *SocialHandler {
	return &SocialHandler{social: social, logger: logHandler(logger, "social")}
}

// GetAccount returns the account's remaining social spending budget.
// GET /api/social/{account}
func (h *SocialHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddress(pathParam(r, "account"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account":            account.Hex(),
		"available_spending": weiString(h.social.AvailableSpending(account)),
		"max_daily_spending": weiString(h.social.MaxDailySpending(account)),
		"initial_gas_drop":   weiString(h.social.InitialGasDrop()),
	})
}
