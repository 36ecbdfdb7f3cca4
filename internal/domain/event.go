package domain

import "time"

// EventType names a pool lifecycle event published after commit.
type EventType string

const (
	EventPoolCreated        EventType = "pool_created"
	EventDepositPosted      EventType = "deposit_posted"
	EventPoolCanceled       EventType = "pool_canceled"
	EventBetPlaced          EventType = "bet_placed"
	EventBetCanceled        EventType = "bet_canceled"
	EventResolutionRequest  EventType = "resolution_requested"
	EventResolutionReceived EventType = "resolution_received"
	EventSettlementProgress EventType = "settlement_progress"
	EventPoolClosed         EventType = "pool_closed"
)

// PoolEvent is the payload published on ChannelPoolEvents and written to the
// audit log.
type PoolEvent struct {
	Type       EventType      `json:"type"`
	PoolID     string         `json:"pool_id"`
	Actor      string         `json:"actor,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
