package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/predictlabs/marketcore/internal/domain"
	"github.com/predictlabs/marketcore/internal/oracle"
)

// processTimeout bounds the downstream work for a single event.
const processTimeout = 5 * time.Second

// fanout distributes engine events to the event bus, the audit log, the
// caches, and the settlement store. Engines invoke the sink while holding
// their own mutex, so the sink only enqueues; the Run worker does the slow
// work and is also the only place that calls back into the oracle.
type fanout struct {
	bus         domain.EventBus
	audit       domain.AuditStore
	stats       domain.DailyStatsCache
	marketCache domain.MarketDataCache
	questions   domain.QuestionStore
	settlements domain.SettlementStore
	logger      *slog.Logger

	oracle *oracle.Oracle // set once the engines are built

	queue chan domain.Event

	mu           sync.Mutex
	poolQuestion map[string]common.Hash
}

func newFanout(deps *Dependencies, logger *slog.Logger) *fanout {
	return &fanout{
		bus:          deps.EventBus,
		audit:        deps.AuditStore,
		stats:        deps.DailyStatsCache,
		marketCache:  deps.MarketDataCache,
		questions:    deps.QuestionStore,
		settlements:  deps.SettlementStore,
		logger:       logger.With(slog.String("component", "events")),
		queue:        make(chan domain.Event, 256),
		poolQuestion: make(map[string]common.Hash),
	}
}

// Sink returns the function the engines call on every state change. It must
// never block: when the queue is full the event is dropped with a warning.
func (f *fanout) Sink() domain.EventSink {
	return func(eventType string, detail map[string]any) {
		ev := domain.Event{
			ID:        uuid.NewString(),
			Type:      eventType,
			Detail:    detail,
			CreatedAt: time.Now().UTC(),
		}
		select {
		case f.queue <- ev:
		default:
			f.logger.Warn("event queue full, dropping event",
				slog.String("type", eventType),
			)
		}
	}
}

// SetOracle binds the oracle used for question read-back. Must be called
// before Run.
func (f *fanout) SetOracle(o *oracle.Oracle) { f.oracle = o }

// Run drains the event queue until the context is cancelled.
func (f *fanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-f.queue:
			f.process(ctx, ev)
		}
	}
}

func (f *fanout) process(ctx context.Context, ev domain.Event) {
	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	f.publish(ctx, ev)

	if f.audit != nil {
		if err := f.audit.Log(ctx, ev.Type, ev.Detail); err != nil {
			f.logger.WarnContext(ctx, "audit log failed",
				slog.String("type", ev.Type),
				slog.String("error", err.Error()),
			)
		}
	}

	switch ev.Type {
	case domain.EventMarketCreated:
		// Pool-level funding events reuse this type without a question id.
		qid, ok := detailHash(ev.Detail, "question_id")
		if !ok {
			return
		}
		if pool, ok := detailString(ev.Detail, "pool"); ok {
			f.mu.Lock()
			f.poolQuestion[pool] = qid
			f.mu.Unlock()
		}
		f.persistQuestion(ctx, qid)

	case domain.EventAnswerProposed, domain.EventMarketResolved:
		if qid, ok := detailHash(ev.Detail, "question_id"); ok {
			f.persistQuestion(ctx, qid)
			f.invalidate(ctx, qid)
		}

	case domain.EventPositionBought:
		qid, ok := f.questionForPool(ev.Detail)
		if !ok {
			return
		}
		f.invalidate(ctx, qid)
		if f.stats != nil {
			if amount, ok := detailBig(ev.Detail, "investment"); ok {
				if err := f.stats.RecordBuy(ctx, qid, amount, ev.CreatedAt); err != nil {
					f.logger.WarnContext(ctx, "daily stats record failed",
						slog.String("question_id", qid.Hex()),
						slog.String("error", err.Error()),
					)
				}
			}
		}

	case domain.EventPositionSold:
		if qid, ok := f.questionForPool(ev.Detail); ok {
			f.invalidate(ctx, qid)
		}

	case domain.EventPositionsRedeemed:
		f.recordSettlement(ctx, ev.Detail, "redeem", "account", "payout")

	case domain.EventFundingRecovered:
		f.recordSettlement(ctx, ev.Detail, "recover", "to", "recovered")
	}
}

// publish serializes the event and sends it on the channel for its type.
func (f *fanout) publish(ctx context.Context, ev domain.Event) {
	if f.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		f.logger.WarnContext(ctx, "event marshal failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := f.bus.Publish(ctx, channelFor(ev.Type), payload); err != nil {
		f.logger.WarnContext(ctx, "event publish failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}

func (f *fanout) persistQuestion(ctx context.Context, qid common.Hash) {
	if f.questions == nil || f.oracle == nil {
		return
	}
	q, err := f.oracle.Question(qid)
	if err != nil {
		return
	}
	if err := f.questions.Upsert(ctx, q); err != nil {
		f.logger.WarnContext(ctx, "question upsert failed",
			slog.String("question_id", qid.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (f *fanout) recordSettlement(ctx context.Context, detail map[string]any, kind, accountKey, amountKey string) {
	if f.settlements == nil {
		return
	}
	qid, ok := detailHash(detail, "question_id")
	if !ok {
		return
	}
	account, ok := detailString(detail, accountKey)
	if !ok {
		return
	}
	amount, ok := detailBig(detail, amountKey)
	if !ok {
		return
	}
	rec := domain.Settlement{
		QuestionID: qid,
		Account:    common.HexToAddress(account),
		Amount:     amount,
		Kind:       kind,
	}
	if err := f.settlements.Insert(ctx, rec); err != nil {
		f.logger.WarnContext(ctx, "settlement insert failed",
			slog.String("question_id", qid.Hex()),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}

func (f *fanout) invalidate(ctx context.Context, qid common.Hash) {
	if f.marketCache == nil {
		return
	}
	if err := f.marketCache.Invalidate(ctx, qid); err != nil {
		f.logger.WarnContext(ctx, "market cache invalidate failed",
			slog.String("question_id", qid.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (f *fanout) questionForPool(detail map[string]any) (common.Hash, bool) {
	pool, ok := detailString(detail, "pool")
	if !ok {
		return common.Hash{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	qid, ok := f.poolQuestion[pool]
	return qid, ok
}

// channelFor maps event types to the bus channel the websocket hub relays.
func channelFor(eventType string) string {
	switch eventType {
	case domain.EventConditionPrepared, domain.EventMarketCreated:
		return domain.ChannelMarket
	case domain.EventPositionBought, domain.EventPositionSold,
		domain.EventPositionSplit, domain.EventPositionsMerged:
		return domain.ChannelTrade
	case domain.EventBalanceUpdated, domain.EventPointsSpent,
		domain.EventActivityClaimed, domain.EventSocialSpent,
		domain.EventGasDropped:
		return domain.ChannelPoints
	case domain.EventPayoutsReported, domain.EventAnswerProposed,
		domain.EventMarketResolved, domain.EventPositionsRedeemed,
		domain.EventFundingRecovered:
		return domain.ChannelResolution
	case domain.EventStaked, domain.EventUnstaked, domain.EventRewardsClaimed:
		return domain.ChannelStaking
	default:
		return domain.ChannelMarket
	}
}

func detailString(detail map[string]any, key string) (string, bool) {
	v, ok := detail[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func detailHash(detail map[string]any, key string) (common.Hash, bool) {
	s, ok := detailString(detail, key)
	if !ok {
		return common.Hash{}, false
	}
	return common.HexToHash(s), true
}

func detailBig(detail map[string]any, key string) (*big.Int, bool) {
	s, ok := detailString(detail, key)
	if !ok {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 10)
	return v, ok
}
