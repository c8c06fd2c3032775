package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Clock supplies the current time. Engines sample it exactly once per
// operation so day-bucket boundaries cannot shift mid-call.
type Clock func() time.Time

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// QuestionStore persists the oracle's question registry.
type QuestionStore interface {
	Upsert(ctx context.Context, q Question) error
	GetByID(ctx context.Context, questionID common.Hash) (Question, error)
	ListOpen(ctx context.Context, opts ListOpts) ([]Question, error)
	List(ctx context.Context, opts ListOpts) ([]Question, error)
}

// SettlementStore persists redemption and recovery records.
type SettlementStore interface {
	Insert(ctx context.Context, s Settlement) error
	ListByQuestion(ctx context.Context, questionID common.Hash, opts ListOpts) ([]Settlement, error)
	ListByAccount(ctx context.Context, account common.Address, opts ListOpts) ([]Settlement, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// EventBus publishes ledger events and serves subscriptions for the
// websocket hub.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager provides cross-process mutual exclusion keyed by resource id.
// Acquire returns an unlock function, or ErrLockHeld when contended.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// MarketDataCache caches assembled market read-models with a short TTL.
type MarketDataCache interface {
	Set(ctx context.Context, md MarketData) error
	Get(ctx context.Context, questionID common.Hash) (MarketData, error)
	Invalidate(ctx context.Context, questionID common.Hash) error
}

// DailyStats aggregates one question's buy activity for a single UTC day.
// Volume is tracked in gwei to fit counter arithmetic.
type DailyStats struct {
	Buys       int64
	VolumeGwei int64
}

// DailyStatsCache accumulates per-day buy counters for dashboards.
type DailyStatsCache interface {
	RecordBuy(ctx context.Context, questionID common.Hash, amount *big.Int, now time.Time) error
	Stats(ctx context.Context, questionID common.Hash, now time.Time) (DailyStats, error)
}

// RateLimiter bounds request rates per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// SettlementArchiver exports a resolved market's settlement report to
// long-term storage.
type SettlementArchiver interface {
	ArchiveReport(ctx context.Context, questionID common.Hash, report []byte) (string, error)
}

// Notifier delivers operator-facing notifications (market resolved, large
// redemptions). Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}
