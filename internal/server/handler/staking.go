package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// StakingService defines the read surface the staking handler needs from the
// staking engine.
type StakingService interface {
	TotalStaked() *big.Int
	RewardPerSecond() *big.Int
	PointsPerSecond() *big.Int
	StakedBalance(account common.Address) *big.Int
	EarnedRewards(account common.Address) *big.Int
	EarnedUserPoints(account common.Address) *big.Int
}

// StakingHandler serves staking HTTP endpoints.
type StakingHandler struct {
	staking StakingService
	logger  *slog.Logger
}

// NewStakingHandler creates a StakingHandler with the given service and logger.
func NewStakingHandler(staking StakingService, logger *slog.Logger) *StakingHandler {
	return &StakingHandler{staking: staking, logger: logHandler(logger, "staking")}
}

// GetTotals returns the pool-wide staking numbers.
// GET /api/staking
func (h *StakingHandler) GetTotals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"total_staked":      weiString(h.staking.TotalStaked()),
		"reward_per_second": weiString(h.staking.RewardPerSecond()),
		"points_per_second": weiString(h.staking.PointsPerSecond()),
	})
}

// GetAccount returns one staker's balance and accruals.
// GET /api/staking/{account}
func (h *StakingHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddress(pathParam(r, "account"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account":        account.Hex(),
		"staked":         weiString(h.staking.StakedBalance(account)),
		"earned_rewards": weiString(h.staking.EarnedRewards(account)),
		"earned_points":  weiString(h.staking.EarnedUserPoints(account)),
	})
}
