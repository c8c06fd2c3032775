package domain

import "time"

// Event bus channels. The websocket hub subscribes to all of them and
// re-broadcasts frames to connected clients.
const (
	ChannelMarket     = "ch:market"
	ChannelTrade      = "ch:trade"
	ChannelPoints     = "ch:points"
	ChannelResolution = "ch:resolution"
	ChannelStaking    = "ch:staking"
)

// EventSink receives engine events after a successful state change. The app
// layer fans them out to the event bus and audit log.
type EventSink func(eventType string, detail map[string]any)

// Event is a ledger-state-change notification published on the event bus.
// Detail carries event-specific fields; big integers are serialized as
// decimal strings.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Event types.
const (
	EventConditionPrepared = "condition_prepared"
	EventPayoutsReported   = "payouts_reported"
	EventPositionSplit     = "position_split"
	EventPositionsMerged   = "positions_merged"
	EventPositionsRedeemed = "positions_redeemed"
	EventMarketCreated     = "market_created"
	EventPositionBought    = "position_bought"
	EventPositionSold      = "position_sold"
	EventAnswerProposed    = "answer_proposed"
	EventMarketResolved    = "market_resolved"
	EventBalanceUpdated    = "balance_updated"
	EventPointsSpent       = "points_spent"
	EventActivityClaimed   = "activity_claimed"
	EventStaked            = "staked"
	EventUnstaked          = "unstaked"
	EventRewardsClaimed    = "rewards_claimed"
	EventFundingRecovered  = "funding_recovered"
	EventSocialSpent       = "social_spent"
	EventGasDropped        = "gas_dropped"
)

var knownEvents = map[string]struct{}{
	EventConditionPrepared: {},
	EventPayoutsReported:   {},
	EventPositionSplit:     {},
	EventPositionsMerged:   {},
	EventPositionsRedeemed: {},
	EventMarketCreated:     {},
	EventPositionBought:    {},
	EventPositionSold:      {},
	EventAnswerProposed:    {},
	EventMarketResolved:    {},
	EventBalanceUpdated:    {},
	EventPointsSpent:       {},
	EventActivityClaimed:   {},
	EventStaked:            {},
	EventUnstaked:          {},
	EventRewardsClaimed:    {},
	EventFundingRecovered:  {},
	EventSocialSpent:       {},
	EventGasDropped:        {},
}

// KnownEvent reports whether t names an event type the engines emit.
func KnownEvent(t string) bool {
	_, ok := knownEvents[t]
	return ok
}
