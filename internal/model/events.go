package model

import (
	"time"

	"github.com/google/uuid"
)

// Event types broadcast to the notifier
const (
	EventOrderAdmitted        = "order_admitted"
	EventOrderCancelled       = "order_cancelled"
	EventOrderFilled          = "order_filled"
	EventOrderPartiallyFilled = "order_partially_filled"
	EventMatchProposed        = "match_proposed"
	EventOrderFillRejected    = "order_fill_rejected"
	EventSettlementFailed     = "settlement_failed"
)

// Event is a best-effort state-change notification. Delivery is not required
// for correctness of the core.
type Event struct {
	Type         string     `json:"type"`
	Pair         string     `json:"pair"`
	OrderID      *uuid.UUID `json:"order_id,omitempty"`
	SettlementID *uuid.UUID `json:"settlement_id,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// NewOrderEvent creates an order-scoped event
func NewOrderEvent(eventType, pair string, orderID uuid.UUID) Event {
	return Event{
		Type:      eventType,
		Pair:      pair,
		OrderID:   &orderID,
		Timestamp: time.Now().UTC(),
	}
}

// NewSettlementEvent creates a settlement-scoped event
func NewSettlementEvent(eventType, pair string, settlementID uuid.UUID) Event {
	return Event{
		Type:         eventType,
		Pair:         pair,
		SettlementID: &settlementID,
		Timestamp:    time.Now().UTC(),
	}
}
