package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/predictlabs/marketcore/internal/domain"
)

// MarketService defines the methods that the market handler requires from the
// oracle. It is declared locally so the handler package does not depend on
// the concrete engine implementation.
type MarketService interface {
	Questions() []domain.Question
	MarketData(questionID common.Hash) (domain.MarketData, error)
	PositionBalances(questionID common.Hash, indexSets []uint64, account common.Address) ([]*big.Int, error)
	RemainingBuyAmount(questionID common.Hash, account common.Address) (*big.Int, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	cache   domain.MarketDataCache // optional
	stats   domain.DailyStatsCache // optional
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. cache and stats may be nil, in
// which case every request reads the engines directly and the stats endpoint
// returns 404.
func NewMarketHandler(markets MarketService, cache domain.MarketDataCache, stats domain.DailyStatsCache, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		cache:   cache,
		stats:   stats,
		logger:  logHandler(logger, "markets"),
	}
}

// marketView is the JSON shape served for one market. Amounts are base-unit
// decimal strings; probabilities are rendered as decimals in [0, 1].
type marketView struct {
	QuestionID    string    `json:"question_id"`
	ConditionID   string    `json:"condition_id"`
	PoolID        string    `json:"pool_id"`
	EndTime       time.Time `json:"end_time"`
	State         string    `json:"state"`
	OutcomeCount  int       `json:"outcome_count"`
	Probabilities []string  `json:"probabilities"`
	PoolBalances  []string  `json:"pool_balances"`
	UniqueBuys    int       `json:"unique_buys"`
}

func viewFromMarketData(md domain.MarketData) marketView {
	probs := make([]string, len(md.Probabilities))
	for i, p := range md.Probabilities {
		// Probabilities are 1e9 fixed point.
		probs[i] = decimal.NewFromBigInt(p, -9).String()
	}
	balances := make([]string, len(md.PoolBalances))
	for i, b := range md.PoolBalances {
		balances[i] = weiString(b)
	}
	return marketView{
		QuestionID:    md.QuestionID.Hex(),
		ConditionID:   md.ConditionID.Hex(),
		PoolID:        md.PoolID.Hex(),
		EndTime:       md.EndTime,
		State:         string(md.State),
		OutcomeCount:  md.OutcomeCount,
		Probabilities: probs,
		PoolBalances:  balances,
		UniqueBuys:    md.UniqueBuys,
	}
}

// marketData reads through the cache when one is configured.
func (h *MarketHandler) marketData(ctx context.Context, questionID common.Hash) (domain.MarketData, error) {
	if h.cache != nil {
		if md, err := h.cache.Get(ctx, questionID); err == nil {
			return md, nil
		}
	}
	md, err := h.markets.MarketData(questionID)
	if err != nil {
		return domain.MarketData{}, err
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, md); err != nil {
			h.logger.WarnContext(ctx, "handler: market data cache set failed",
				slog.String("question_id", questionID.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return md, nil
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns tracked markets with pagination.
// GET /api/markets?limit=50&offset=0&state=active
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	stateFilter := strings.TrimSpace(r.URL.Query().Get("state"))

	questions := h.markets.Questions()
	views := make([]marketView, 0, len(questions))
	for _, q := range questions {
		if stateFilter != "" && string(q.State()) != stateFilter {
			continue
		}
		md, err := h.marketData(r.Context(), q.QuestionID)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: market data failed",
				slog.String("question_id", q.QuestionID.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		views = append(views, viewFromMarketData(md))
	}

	total := len(views)
	if opts.Offset > 0 {
		if opts.Offset >= len(views) {
			views = nil
		} else {
			views = views[opts.Offset:]
		}
	}
	if opts.Limit > 0 && len(views) > opts.Limit {
		views = views[:opts.Limit]
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: views,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns the read-model for a single market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	questionID, ok := parseHash(pathParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	md, err := h.marketData(r.Context(), questionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.String("question_id", questionID.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, viewFromMarketData(md))
}

// GetBalances returns the account's outcome-token balances in one market.
// GET /api/markets/{id}/balances?account=0x...&sets=1,2
func (h *MarketHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	questionID, ok := parseHash(pathParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid question id")
		return
	}
	account, ok := parseAddress(r.URL.Query().Get("account"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	var indexSets []uint64
	for _, part := range strings.Split(r.URL.Query().Get("sets"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid index set")
			return
		}
		indexSets = append(indexSets, n)
	}

	balances, err := h.markets.PositionBalances(questionID, indexSets, account)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := make([]string, len(balances))
	for i, b := range balances {
		out[i] = weiString(b)
	}

	remaining, err := h.markets.RemainingBuyAmount(questionID, account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read remaining buy amount")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"question_id":          questionID.Hex(),
		"account":              account.Hex(),
		"index_sets":           indexSets,
		"balances":             out,
		"remaining_buy_amount": weiString(remaining),
	})
}

// GetStats returns today's buy counters for one market.
// GET /api/markets/{id}/stats
func (h *MarketHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeError(w, http.StatusNotFound, "stats not enabled")
		return
	}
	questionID, ok := parseHash(pathParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	stats, err := h.stats.Stats(r.Context(), questionID, time.Now().UTC())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: market stats failed",
			slog.String("question_id", questionID.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"question_id": questionID.Hex(),
		"buys":        stats.Buys,
		"volume_gwei": stats.VolumeGwei,
	})
}
