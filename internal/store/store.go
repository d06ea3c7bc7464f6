// Package store provides durable keyed storage for orders and settlements,
// the per-pair/per-side priority indexes, and the pending-order work queue.
// It holds no matching logic.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/obsidianex/darkpool/internal/model"
	"github.com/obsidianex/darkpool/pkg/errs"
)

// OrderStore keeps the authoritative in-memory order state with an optional
// GORM-backed durable copy. All mutations go through Insert and Apply so the
// single-writer-per-key discipline is enforceable; reads work on clones.
type OrderStore struct {
	mu      sync.RWMutex
	db      *gorm.DB
	orders  map[uuid.UUID]*model.Order
	byOwner map[string][]uuid.UUID
	books   map[string]*pairBook
	pending *pendingQueue
	logger  *zap.Logger
}

// NewOrderStore creates an order store. A nil db keeps the store purely
// in-memory; with a db, the schema is migrated and open orders are reloaded
// into the indexes on startup.
func NewOrderStore(db *gorm.DB, logger *zap.Logger) (*OrderStore, error) {
	s := &OrderStore{
		db:      db,
		orders:  make(map[uuid.UUID]*model.Order),
		byOwner: make(map[string][]uuid.UUID),
		books:   make(map[string]*pairBook),
		pending: newPendingQueue(),
		logger:  logger,
	}

	if db != nil {
		if err := db.AutoMigrate(&model.Order{}, &model.Settlement{}); err != nil {
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
		if err := s.reload(); err != nil {
			return nil, fmt.Errorf("failed to reload open orders: %w", err)
		}
	}

	return s, nil
}

// reload restores open orders from the database into the in-memory indexes
func (s *OrderStore) reload() error {
	var open []*model.Order
	if err := s.db.Where("status IN ?", []string{model.StatusPending, model.StatusPartial}).Find(&open).Error; err != nil {
		return err
	}
	for _, o := range open {
		s.index(o)
		s.pending.Enqueue(o.ID)
	}
	if len(open) > 0 {
		s.logger.Info("Reloaded open orders", zap.Int("count", len(open)))
	}
	return nil
}

// index places an order into the maps and its pair book. Caller holds mu.
func (s *OrderStore) index(o *model.Order) {
	s.orders[o.ID] = o
	s.byOwner[o.OwnerID] = append(s.byOwner[o.OwnerID], o.ID)
	book, ok := s.books[o.Pair]
	if !ok {
		book = newPairBook()
		s.books[o.Pair] = book
	}
	book.insert(o)
}

// Insert persists and indexes a newly admitted order and enqueues it for
// matching. The order must already carry its id, timestamps and status.
func (s *OrderStore) Insert(o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return errs.NewConflictError(fmt.Sprintf("order %s already exists", o.ID))
	}

	if s.db != nil {
		if err := s.db.Create(o).Error; err != nil {
			return fmt.Errorf("failed to persist order: %w", err)
		}
	}

	s.index(o)
	s.pending.Enqueue(o.ID)
	return nil
}

// Apply runs a mutation against the stored order under the store's write
// lock, persists the result, and keeps index membership consistent with the
// order's status. Returns a clone of the mutated order.
func (s *OrderStore) Apply(id uuid.UUID, mutate func(o *model.Order) error) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, errs.NewNotFoundError("order", id.String())
	}

	wasOpen := o.IsOpen()
	if err := mutate(o); err != nil {
		return nil, err
	}

	if wasOpen && !o.IsOpen() {
		s.books[o.Pair].remove(o)
		s.pending.Remove(o.ID)
	}

	if s.db != nil {
		if err := s.db.Save(o).Error; err != nil {
			return nil, fmt.Errorf("failed to persist order update: %w", err)
		}
	}

	return o.Clone(), nil
}

// Get returns a copy of the order, or a NotFoundError
func (s *OrderStore) Get(id uuid.UUID) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, errs.NewNotFoundError("order", id.String())
	}
	return o.Clone(), nil
}

// ListByOwner returns copies of all orders belonging to an owner. Returns an
// empty slice rather than an error when the owner has none.
func (s *OrderStore) ListByOwner(ownerID string) []*model.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byOwner[ownerID]
	out := make([]*model.Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := s.orders[id]; ok {
			out = append(out, o.Clone())
		}
	}
	return out
}

// ListOpen returns copies of all pending/partial orders
func (s *OrderStore) ListOpen() []*model.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Order, 0)
	for _, o := range s.orders {
		if o.IsOpen() {
			out = append(out, o.Clone())
		}
	}
	return out
}

// DrainPending empties the pending queue and returns the queued order ids
func (s *OrderStore) DrainPending() []uuid.UUID {
	return s.pending.Drain()
}

// EnqueuePending re-queues an order for the next matching cycle
func (s *OrderStore) EnqueuePending(id uuid.UUID) {
	s.pending.Enqueue(id)
}

// PendingDepth returns the number of queued pending entries
func (s *OrderStore) PendingDepth() int {
	return s.pending.Len()
}

// Unindex removes an order from its pair book and the pending queue without
// changing its stored state. Expired orders are unindexed so they stay
// queryable but no longer occupy book entries.
func (s *OrderStore) Unindex(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return
	}
	if book, ok := s.books[o.Pair]; ok {
		book.remove(o)
	}
	s.pending.Remove(id)
}

// SideLevels aggregates open orders on one side of a pair into price levels,
// in priority order, truncated to depth levels. Market orders carry no price
// and are excluded; expired orders contribute nothing; iceberg orders
// contribute only their displayed tranche.
func (s *OrderStore) SideLevels(pair, side string, depth int) []model.PriceLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	levels := make([]model.PriceLevel, 0, depth)
	book, ok := s.books[pair]
	if !ok {
		return levels
	}

	book.side(side).Scan(func(entry bookEntry) bool {
		if entry.Market {
			return true
		}
		o, ok := s.orders[entry.ID]
		if !ok || !o.IsOpen() || o.Expired(now) {
			return true
		}
		visible := o.Remaining()
		if o.Kind == model.KindIceberg && o.DisplayAmount.IsPositive() && o.DisplayAmount.LessThan(visible) {
			visible = o.DisplayAmount
		}
		if len(levels) > 0 && levels[len(levels)-1].Price.Equal(o.Price) {
			levels[len(levels)-1].Amount = levels[len(levels)-1].Amount.Add(visible)
			return true
		}
		if len(levels) == depth {
			return false
		}
		levels = append(levels, model.PriceLevel{Price: o.Price, Amount: visible})
		return true
	})

	return levels
}

// sideDepthTotal sums visible remaining amount on one side (used in tests)
func (s *OrderStore) sideDepthTotal(pair, side string) decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range s.SideLevels(pair, side, 1<<20) {
		total = total.Add(lvl.Amount)
	}
	return total
}
