package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/predictlabs/marketcore/internal/domain"
)

// SettlementHandler serves settlement history from the settlement store.
type SettlementHandler struct {
	settlements domain.SettlementStore
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler backed by the given store.
func NewSettlementHandler(settlements domain.SettlementStore, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{settlements: settlements, logger: logHandler(logger, "settlements")}
}

// settlementView is the JSON shape for one settlement record.
type settlementView struct {
	ID         string    `json:"id"`
	QuestionID string    `json:"question_id"`
	Account    string    `json:"account"`
	Amount     string    `json:"amount"`
	Kind       string    `json:"kind"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListSettlements returns settlements filtered by question or account.
// GET /api/settlements?question=0x...  or  ?account=0x...
func (h *SettlementHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()

	var (
		records []domain.Settlement
		err     error
	)
	switch {
	case q.Get("question") != "":
		questionID, ok := parseHash(q.Get("question"))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid question id")
			return
		}
		records, err = h.settlements.ListByQuestion(r.Context(), questionID, opts)
	case q.Get("account") != "":
		account, ok := parseAddress(q.Get("account"))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid account address")
			return
		}
		records, err = h.settlements.ListByAccount(r.Context(), account, opts)
	default:
		writeError(w, http.StatusBadRequest, "question or account filter required")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list settlements failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list settlements")
		return
	}

	views := make([]settlementView, len(records))
	for i, rec := range records {
		views[i] = settlementView{
			ID:         rec.ID,
			QuestionID: rec.QuestionID.Hex(),
			Account:    rec.Account.Hex(),
			Amount:     weiString(rec.Amount),
			Kind:       rec.Kind,
			CreatedAt:  rec.CreatedAt,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"settlements": views,
		"limit":       opts.Limit,
		"offset":      opts.Offset,
	})
}
