// Package matching implements the periodically-triggered matching engine:
// it drains pending orders, applies price-time-priority matching with
// self-trade prevention, and hands match intents to the settlement client.
package matching

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/obsidianex/darkpool/internal/model"
	"github.com/obsidianex/darkpool/internal/notifier"
	"github.com/obsidianex/darkpool/internal/store"
	"github.com/obsidianex/darkpool/pkg/metrics"
)

// Settler consumes match intents. Settle must not block on finalization.
type Settler interface {
	Settle(ctx context.Context, intent model.MatchIntent) (uuid.UUID, error)
}

// Engine drives matching on a fixed interval. A new cycle never starts while
// the previous one is still running; orders picked into a match stay held
// in-flight until their settlement reaches a terminal state.
type Engine struct {
	store    *store.OrderStore
	settler  Settler
	notifier notifier.Notifier
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	inFlight  map[uuid.UUID]struct{}
	lastPrice map[string]decimal.Decimal

	statsMu     sync.Mutex
	cycleCount  uint64
	matchCount  uint64
	avgCycleDur time.Duration

	runMu     sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewEngine creates a matching engine. n may be nil.
func NewEngine(st *store.OrderStore, settler Settler, n notifier.Notifier, interval time.Duration, logger *zap.Logger) *Engine {
	if n == nil {
		n = notifier.Noop{}
	}
	return &Engine{
		store:     st,
		settler:   settler,
		notifier:  n,
		interval:  interval,
		logger:    logger,
		inFlight:  make(map[uuid.UUID]struct{}),
		lastPrice: make(map[string]decimal.Decimal),
	}
}

// SetSettler wires the settlement client after construction. The engine and
// the client reference each other: intents flow one way, hold release the
// other.
func (e *Engine) SetSettler(s Settler) {
	e.settler = s
}

// Start launches the scheduler loop
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.isRunning {
		return fmt.Errorf("matching engine is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.isRunning = true

	go e.run(runCtx)

	e.logger.Info("matching engine started", zap.Duration("interval", e.interval))
	return nil
}

// Stop halts the scheduler and waits for the current cycle to finish
func (e *Engine) Stop() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if !e.isRunning {
		return fmt.Errorf("matching engine is not running")
	}

	e.cancel()
	<-e.done
	e.isRunning = false

	e.logger.Info("matching engine stopped")
	return nil
}

// run executes matching cycles on the configured interval. Cycles run
// synchronously in this goroutine, so they cannot overlap; a slow cycle
// simply delays the next tick.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// Release drops the in-flight hold on the given orders and re-queues any
// that are still open for the next cycle. Called by the settlement client on
// every terminal settlement outcome.
func (e *Engine) Release(orderIDs ...uuid.UUID) {
	e.mu.Lock()
	for _, id := range orderIDs {
		delete(e.inFlight, id)
	}
	e.mu.Unlock()

	for _, id := range orderIDs {
		if o, err := e.store.Get(id); err == nil && o.IsOpen() {
			e.store.EnqueuePending(id)
		}
	}
}

// hold marks orders in-flight so they are not matched again while a
// settlement is outstanding
func (e *Engine) hold(orderIDs ...uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range orderIDs {
		e.inFlight[id] = struct{}{}
	}
}

func (e *Engine) isHeld(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inFlight[id]
	return ok
}

// RunCycle executes one matching cycle: drain, group, sort, pair, settle.
func (e *Engine) RunCycle(ctx context.Context) {
	if e.settler == nil {
		return
	}
	start := time.Now()

	candidates := e.drainEligible()
	byPair := groupByPair(candidates)

	var matched int
	for pair, orders := range byPair {
		matched += e.matchPair(ctx, pair, orders)
	}

	e.requeueAndExpireRemainder(ctx, candidates)
	e.recordCycle(time.Since(start), matched)
}

// drainEligible empties the pending queue and returns the orders that are
// still matchable this cycle. Expired orders are unindexed (inert but
// queryable); stop orders whose trigger has not fired are re-queued.
func (e *Engine) drainEligible() []*model.Order {
	now := time.Now().UTC()
	ids := e.store.DrainPending()
	eligible := make([]*model.Order, 0, len(ids))

	for _, id := range ids {
		o, err := e.store.Get(id)
		if err != nil || !o.IsOpen() {
			continue
		}
		if o.Expired(now) {
			e.store.Unindex(o.ID)
			continue
		}
		if e.isHeld(o.ID) {
			continue
		}
		if o.Kind == model.KindStopLoss && !e.stopTriggered(o) {
			e.store.EnqueuePending(o.ID)
			continue
		}
		eligible = append(eligible, o)
	}
	return eligible
}

// stopTriggered reports whether a stop order's trigger mark has crossed its
// stop price. With no mark yet for the pair, the order stays dormant.
func (e *Engine) stopTriggered(o *model.Order) bool {
	e.mu.Lock()
	mark, ok := e.lastPrice[o.Pair]
	e.mu.Unlock()
	if !ok {
		return false
	}
	if o.Side == model.SideSell {
		return mark.LessThanOrEqual(o.StopPrice)
	}
	return mark.GreaterThanOrEqual(o.StopPrice)
}

func groupByPair(orders []*model.Order) map[string][]*model.Order {
	byPair := make(map[string][]*model.Order)
	for _, o := range orders {
		byPair[o.Pair] = append(byPair[o.Pair], o)
	}
	return byPair
}

// matchPair pairs buys against sells for one trading pair in strict
// price-time priority and submits a match intent for each crossing pair.
// Returns the number of intents submitted.
func (e *Engine) matchPair(ctx context.Context, pair string, orders []*model.Order) int {
	var buys, sells []*model.Order
	for _, o := range orders {
		if o.Side == model.SideBuy {
			buys = append(buys, o)
		} else {
			sells = append(sells, o)
		}
	}

	// Market orders first, then best price, ties broken by arrival time.
	sort.Slice(buys, func(i, j int) bool { return buyLess(buys[i], buys[j]) })
	sort.Slice(sells, func(i, j int) bool { return sellLess(sells[i], sells[j]) })

	matched := 0
	for _, buy := range buys {
		if e.isHeld(buy.ID) {
			continue
		}
		for _, sell := range sells {
			if e.isHeld(sell.ID) || e.isHeld(buy.ID) {
				continue
			}

			price, amount, ok := proposeMatch(buy, sell)
			if !ok {
				continue
			}

			intent := model.MatchIntent{
				ID:          uuid.New(),
				Pair:        pair,
				BuyOrderID:  buy.ID,
				SellOrderID: sell.ID,
				Price:       price,
				Amount:      amount,
				CreatedAt:   time.Now().UTC(),
			}

			e.hold(buy.ID, sell.ID)

			settlementID, err := e.settler.Settle(ctx, intent)
			if err != nil {
				// The settlement client has already released the hold and
				// recorded the failure.
				e.logger.Warn("match intent rejected by settlement",
					zap.String("pair", pair),
					zap.Error(err))
				continue
			}

			matched++
			e.setLastPrice(pair, price)
			metrics.MatchesProposed.WithLabelValues(pair).Inc()
			e.notifier.Publish(ctx, model.NewSettlementEvent(model.EventMatchProposed, pair, settlementID))
			e.logger.Info("match proposed",
				zap.String("pair", pair),
				zap.String("buy_order_id", buy.ID.String()),
				zap.String("sell_order_id", sell.ID.String()),
				zap.String("price", price.String()),
				zap.String("amount", amount.String()))
			break
		}
	}
	return matched
}

// proposeMatch decides whether a buy/sell pair crosses and at what price and
// amount. Self trades and market-vs-market pairs never match.
func proposeMatch(buy, sell *model.Order) (decimal.Decimal, decimal.Decimal, bool) {
	if buy.OwnerID == sell.OwnerID {
		return decimal.Zero, decimal.Zero, false
	}

	buyMarket := buy.Kind == model.KindMarket
	sellMarket := sell.Kind == model.KindMarket

	// Market against market needs an external reference price; skip.
	if buyMarket && sellMarket {
		return decimal.Zero, decimal.Zero, false
	}

	var price decimal.Decimal
	switch {
	case buyMarket:
		price = sell.Price
	case sellMarket:
		price = buy.Price
	default:
		if buy.Price.LessThan(sell.Price) {
			return decimal.Zero, decimal.Zero, false
		}
		price = buy.Price.Add(sell.Price).Div(decimal.NewFromInt(2))
	}

	amount := decimal.Min(buy.Remaining(), sell.Remaining())
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}

	// Fill-or-kill admits only a complete fill.
	if buy.TimeInForce == model.TimeInForceFOK && amount.LessThan(buy.Remaining()) {
		return decimal.Zero, decimal.Zero, false
	}
	if sell.TimeInForce == model.TimeInForceFOK && amount.LessThan(sell.Remaining()) {
		return decimal.Zero, decimal.Zero, false
	}

	return price, amount, true
}

// requeueAndExpireRemainder re-queues unmatched candidates for the next cycle
// and cancels IOC/FOK orders that found no match in their first scanned
// cycle.
func (e *Engine) requeueAndExpireRemainder(ctx context.Context, candidates []*model.Order) {
	for _, o := range candidates {
		if e.isHeld(o.ID) {
			continue
		}
		switch o.TimeInForce {
		case model.TimeInForceIOC, model.TimeInForceFOK:
			cancelled, err := e.store.Apply(o.ID, func(stored *model.Order) error {
				if !stored.IsOpen() {
					return nil
				}
				stored.Status = model.StatusCancelled
				stored.UpdatedAt = time.Now().UTC()
				return nil
			})
			if err != nil {
				e.logger.Warn("failed to expire immediate order", zap.Error(err))
				continue
			}
			if cancelled.Status == model.StatusCancelled {
				e.notifier.Publish(ctx, model.NewOrderEvent(model.EventOrderCancelled, cancelled.Pair, cancelled.ID))
			}
		default:
			e.store.EnqueuePending(o.ID)
		}
	}
}

func (e *Engine) setLastPrice(pair string, price decimal.Decimal) {
	e.mu.Lock()
	e.lastPrice[pair] = price
	e.mu.Unlock()
}

// buyLess sorts buy candidates: market first, highest limit price, then time
func buyLess(a, b *model.Order) bool {
	aMarket := a.Kind == model.KindMarket
	bMarket := b.Kind == model.KindMarket
	if aMarket != bMarket {
		return aMarket
	}
	if !aMarket && !a.Price.Equal(b.Price) {
		return a.Price.GreaterThan(b.Price)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// sellLess sorts sell candidates: market first, lowest limit price, then time
func sellLess(a, b *model.Order) bool {
	aMarket := a.Kind == model.KindMarket
	bMarket := b.Kind == model.KindMarket
	if aMarket != bMarket {
		return aMarket
	}
	if !aMarket && !a.Price.Equal(b.Price) {
		return a.Price.LessThan(b.Price)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
