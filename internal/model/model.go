// Package model defines the core order, match intent and settlement types for
// the dark pool venue.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Constants for order sides, kinds, statuses and time in force options
const (
	// Order sides
	SideBuy  = "buy"
	SideSell = "sell"

	// Order kinds
	KindMarket   = "market"
	KindLimit    = "limit"
	KindStopLoss = "stop_loss"
	KindIceberg  = "iceberg"

	// Order statuses
	StatusPending   = "pending"
	StatusPartial   = "partial"
	StatusFilled    = "filled"
	StatusCancelled = "cancelled"

	// Time in force
	TimeInForceGTC = "GTC" // Good Till Cancelled
	TimeInForceIOC = "IOC" // Immediate Or Cancel
	TimeInForceFOK = "FOK" // Fill Or Kill
	TimeInForceGTD = "GTD" // Good Till Date
)

// Order represents a confidential order resting in the venue.
type Order struct {
	ID            uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	OwnerID       string          `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	Pair          string          `gorm:"type:varchar(20);not null;index" json:"pair"`
	Side          string          `gorm:"type:varchar(10);not null" json:"side"`
	Kind          string          `gorm:"type:varchar(20);not null" json:"kind"`
	Price         decimal.Decimal `gorm:"type:decimal(20,8)" json:"price"`
	StopPrice     decimal.Decimal `gorm:"type:decimal(20,8)" json:"stop_price,omitempty"`
	DisplayAmount decimal.Decimal `gorm:"type:decimal(20,8)" json:"display_amount,omitempty"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	FilledAmount  decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"filled_amount"`
	TimeInForce   string          `gorm:"type:varchar(5);not null" json:"time_in_force"`
	Status        string          `gorm:"type:varchar(20);not null;index" json:"status"`
	SettlementID  *uuid.UUID      `gorm:"type:uuid" json:"settlement_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// Remaining returns the unfilled portion of the order
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.FilledAmount)
}

// IsOpen reports whether the order can still be matched or cancelled
func (o *Order) IsOpen() bool {
	return o.Status == StatusPending || o.Status == StatusPartial
}

// Expired reports whether the order's TTL has elapsed at the given instant.
// Expired orders stay queryable but are excluded from matching.
func (o *Order) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// Clone returns a copy of the order safe to hand out to readers
func (o *Order) Clone() *Order {
	cp := *o
	if o.SettlementID != nil {
		id := *o.SettlementID
		cp.SettlementID = &id
	}
	return &cp
}

// MatchIntent pairs one buy and one sell order at a proposed price and amount,
// pending settlement confirmation.
type MatchIntent struct {
	ID          uuid.UUID       `json:"id"`
	Pair        string          `json:"pair"`
	BuyOrderID  uuid.UUID       `json:"buy_order_id"`
	SellOrderID uuid.UUID       `json:"sell_order_id"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Settlement statuses
const (
	SettlementPending   = "pending"
	SettlementCompleted = "completed"
	SettlementFailed    = "failed"
)

// Settlement tracks the asynchronous finalization of one match intent through
// the confidential-computation service.
type Settlement struct {
	ID          uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	IntentID    uuid.UUID       `gorm:"type:uuid;not null" json:"intent_id"`
	Pair        string          `gorm:"type:varchar(20);not null" json:"pair"`
	BuyOrderID  uuid.UUID       `gorm:"type:uuid;not null" json:"buy_order_id"`
	SellOrderID uuid.UUID       `gorm:"type:uuid;not null" json:"sell_order_id"`
	Handle      string          `gorm:"type:varchar(128)" json:"handle"`
	Price       decimal.Decimal `gorm:"type:decimal(20,8)" json:"price"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,8)" json:"amount"`
	Status      string          `gorm:"type:varchar(20);not null" json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// MatchResult is the decrypted outcome of a finalized confidential computation.
type MatchResult struct {
	Matched     bool            `json:"matched"`
	MatchPrice  decimal.Decimal `json:"match_price"`
	MatchAmount decimal.Decimal `json:"match_amount"`
	BuyOrderID  uuid.UUID       `json:"buy_order_id"`
	SellOrderID uuid.UUID       `json:"sell_order_id"`
}

// PriceLevel aggregates resting amount at one price for book snapshots.
// Only price and total remaining amount are exposed, never per-order detail.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// BookSnapshot is the externally visible depth view of one trading pair.
type BookSnapshot struct {
	Pair      string       `json:"pair"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}
