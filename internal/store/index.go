package store

import (
	"bytes"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/obsidianex/darkpool/internal/model"
)

// bookEntry is the priority index key for one resting order. Market orders
// rank ahead of all priced orders on the same side; priced orders rank by
// price (side-dependent direction), ties broken by arrival time.
type bookEntry struct {
	Market  bool
	Price   decimal.Decimal
	Arrival time.Time
	ID      uuid.UUID
}

// entryFor builds the index entry for an order
func entryFor(o *model.Order) bookEntry {
	return bookEntry{
		Market:  o.Kind == model.KindMarket,
		Price:   o.Price,
		Arrival: o.CreatedAt,
		ID:      o.ID,
	}
}

// lessCommon orders by arrival then id once rank and price are equal
func lessCommon(a, b bookEntry) bool {
	if !a.Arrival.Equal(b.Arrival) {
		return a.Arrival.Before(b.Arrival)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// bidLess sorts buy entries: market first, then descending price, then time
func bidLess(a, b bookEntry) bool {
	if a.Market != b.Market {
		return a.Market
	}
	if !a.Market && !a.Price.Equal(b.Price) {
		return a.Price.GreaterThan(b.Price)
	}
	return lessCommon(a, b)
}

// askLess sorts sell entries: market first, then ascending price, then time
func askLess(a, b bookEntry) bool {
	if a.Market != b.Market {
		return a.Market
	}
	if !a.Market && !a.Price.Equal(b.Price) {
		return a.Price.LessThan(b.Price)
	}
	return lessCommon(a, b)
}

// pairBook holds the per-side priority indexes for one trading pair
type pairBook struct {
	bids *btree.BTreeG[bookEntry]
	asks *btree.BTreeG[bookEntry]
}

func newPairBook() *pairBook {
	return &pairBook{
		bids: btree.NewBTreeG(bidLess),
		asks: btree.NewBTreeG(askLess),
	}
}

func (pb *pairBook) side(side string) *btree.BTreeG[bookEntry] {
	if side == model.SideBuy {
		return pb.bids
	}
	return pb.asks
}

func (pb *pairBook) insert(o *model.Order) {
	pb.side(o.Side).Set(entryFor(o))
}

func (pb *pairBook) remove(o *model.Order) {
	pb.side(o.Side).Delete(entryFor(o))
}
