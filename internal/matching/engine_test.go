package matching

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/obsidianex/darkpool/internal/book"
	"github.com/obsidianex/darkpool/internal/config"
	"github.com/obsidianex/darkpool/internal/model"
	"github.com/obsidianex/darkpool/internal/store"
)

// confirmingSettler applies fills synchronously at the proposed price and
// amount and releases the hold, standing in for an immediately finalizing
// settlement pipeline.
type confirmingSettler struct {
	mu      sync.Mutex
	books   *book.Service
	engine  *Engine
	intents []model.MatchIntent
}

func (s *confirmingSettler) Settle(ctx context.Context, intent model.MatchIntent) (uuid.UUID, error) {
	s.mu.Lock()
	s.intents = append(s.intents, intent)
	s.mu.Unlock()

	settlementID := uuid.New()
	if _, err := s.books.ApplyFill(ctx, intent.BuyOrderID, intent.Amount, settlementID); err != nil {
		return uuid.Nil, err
	}
	if _, err := s.books.ApplyFill(ctx, intent.SellOrderID, intent.Amount, settlementID); err != nil {
		return uuid.Nil, err
	}
	s.engine.Release(intent.BuyOrderID, intent.SellOrderID)
	return settlementID, nil
}

func (s *confirmingSettler) Intents() []model.MatchIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.MatchIntent, len(s.intents))
	copy(out, s.intents)
	return out
}

// holdingSettler accepts every intent but never finalizes, leaving orders
// held in-flight.
type holdingSettler struct {
	mu      sync.Mutex
	intents []model.MatchIntent
}

func (s *holdingSettler) Settle(ctx context.Context, intent model.MatchIntent) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, intent)
	return uuid.New(), nil
}

type fixture struct {
	store   *store.OrderStore
	books   *book.Service
	engine  *Engine
	settler *confirmingSettler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewOrderStore(nil, zap.NewNop())
	require.NoError(t, err)
	cfg := config.BookConfig{OrderTTL: time.Hour, SnapshotDepth: 20}
	books := book.NewService(st, cfg, nil, nil, 0, zap.NewNop())
	engine := NewEngine(st, nil, nil, time.Second, zap.NewNop())
	settler := &confirmingSettler{books: books, engine: engine}
	engine.SetSettler(settler)
	return &fixture{store: st, books: books, engine: engine, settler: settler}
}

func (f *fixture) submit(t *testing.T, owner, side, kind, price, amount string) *model.Order {
	t.Helper()
	p, _ := decimal.NewFromString(price)
	a, _ := decimal.NewFromString(amount)
	order, err := f.books.Submit(context.Background(), book.SubmitRequest{
		Pair:    "BTC/USDT",
		Side:    side,
		Kind:    kind,
		Price:   p,
		Amount:  a,
		OwnerID: owner,
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) status(t *testing.T, id uuid.UUID) string {
	t.Helper()
	o, err := f.books.Get(id)
	require.NoError(t, err)
	return o.Status
}

func TestRunCycle_NoCrossNoMatch(t *testing.T) {
	f := newFixture(t)
	buy := f.submit(t, "alice", model.SideBuy, model.KindLimit, "100.50", "10")
	sell := f.submit(t, "bob", model.SideSell, model.KindLimit, "100.75", "5")

	f.engine.RunCycle(context.Background())

	assert.Empty(t, f.settler.Intents())
	assert.Equal(t, model.StatusPending, f.status(t, buy.ID))
	assert.Equal(t, model.StatusPending, f.status(t, sell.ID))

	// Both were re-queued for the next cycle
	assert.Equal(t, 2, f.store.PendingDepth())
}

func TestRunCycle_LimitCrossMatchesAtMidpoint(t *testing.T) {
	f := newFixture(t)
	buy := f.submit(t, "alice", model.SideBuy, model.KindLimit, "101.00", "10")
	sell := f.submit(t, "bob", model.SideSell, model.KindLimit, "100.75", "5")

	f.engine.RunCycle(context.Background())

	intents := f.settler.Intents()
	require.Len(t, intents, 1)
	assert.True(t, intents[0].Price.Equal(decimal.RequireFromString("100.875")))
	assert.True(t, intents[0].Amount.Equal(decimal.NewFromInt(5)))

	buyOrder, err := f.books.Get(buy.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartial, buyOrder.Status)
	assert.True(t, buyOrder.FilledAmount.Equal(decimal.NewFromInt(5)))

	assert.Equal(t, model.StatusFilled, f.status(t, sell.ID))
}

func TestRunCycle_MarketTakesLimitPrice(t *testing.T) {
	f := newFixture(t)
	buy := f.submit(t, "alice", model.SideBuy, model.KindMarket, "0", "5")
	sell := f.submit(t, "bob", model.SideSell, model.KindLimit, "100.00", "5")

	f.engine.RunCycle(context.Background())

	intents := f.settler.Intents()
	require.Len(t, intents, 1)
	assert.True(t, intents[0].Price.Equal(decimal.NewFromInt(100)))

	assert.Equal(t, model.StatusFilled, f.status(t, buy.ID))
	assert.Equal(t, model.StatusFilled, f.status(t, sell.ID))
}

func TestRunCycle_MarketVersusMarketSkipped(t *testing.T) {
	f := newFixture(t)
	buy := f.submit(t, "alice", model.SideBuy, model.KindMarket, "0", "5")
	sell := f.submit(t, "bob", model.SideSell, model.KindMarket, "0", "5")

	f.engine.RunCycle(context.Background())

	assert.Empty(t, f.settler.Intents())
	assert.Equal(t, model.StatusPending, f.status(t, buy.ID))
	assert.Equal(t, model.StatusPending, f.status(t, sell.ID))
}

func TestRunCycle_SelfTradePrevention(t *testing.T) {
	f := newFixture(t)
	buy := f.submit(t, "alice", model.SideBuy, model.KindLimit, "100", "5")
	sell := f.submit(t, "alice", model.SideSell, model.KindLimit, "100", "5")

	f.engine.RunCycle(context.Background())
	assert.Empty(t, f.settler.Intents())
	assert.Equal(t, model.StatusPending, f.status(t, buy.ID))
	assert.Equal(t, model.StatusPending, f.status(t, sell.ID))

	// A distinct-owner counterpart matches on the next cycle
	f.submit(t, "bob", model.SideSell, model.KindLimit, "100", "5")
	f.engine.RunCycle(context.Background())

	intents := f.settler.Intents()
	require.Len(t, intents, 1)
	assert.Equal(t, buy.ID, intents[0].BuyOrderID)
}

func TestRunCycle_PriceTimePriority(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "alice", model.SideBuy, model.KindLimit, "100", "5")
	best := f.submit(t, "carol", model.SideBuy, model.KindLimit, "102", "5")
	f.submit(t, "bob", model.SideSell, model.KindLimit, "100", "5")

	f.engine.RunCycle(context.Background())

	intents := f.settler.Intents()
	require.Len(t, intents, 1)
	assert.Equal(t, best.ID, intents[0].BuyOrderID, "highest-priced buy matches first")
}

func TestRunCycle_ExpiredOrdersExcludedButQueryable(t *testing.T) {
	f := newFixture(t)
	sell := f.submit(t, "bob", model.SideSell, model.KindLimit, "100", "5")

	// Force-expire the resting sell
	_, err := f.store.Apply(sell.ID, func(o *model.Order) error {
		o.ExpiresAt = time.Now().Add(-time.Minute)
		return nil
	})
	require.NoError(t, err)

	f.submit(t, "alice", model.SideBuy, model.KindLimit, "101", "5")
	f.engine.RunCycle(context.Background())

	assert.Empty(t, f.settler.Intents())

	got, err := f.books.Get(sell.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)

	// The expired sell no longer occupies a book entry
	snap, err := f.books.Snapshot(context.Background(), "BTC/USDT", 10)
	require.NoError(t, err)
	assert.Empty(t, snap.Asks)
}

func TestRunCycle_InFlightOrdersNotRematched(t *testing.T) {
	st, err := store.NewOrderStore(nil, zap.NewNop())
	require.NoError(t, err)
	books := book.NewService(st, config.BookConfig{OrderTTL: time.Hour, SnapshotDepth: 20}, nil, nil, 0, zap.NewNop())
	engine := NewEngine(st, nil, nil, time.Second, zap.NewNop())
	holding := &holdingSettler{}
	engine.SetSettler(holding)

	submit := func(owner, side, price, amount string) *model.Order {
		p, _ := decimal.NewFromString(price)
		a, _ := decimal.NewFromString(amount)
		o, err := books.Submit(context.Background(), book.SubmitRequest{
			Pair: "BTC/USDT", Side: side, Kind: model.KindLimit,
			Price: p, Amount: a, OwnerID: owner,
		})
		require.NoError(t, err)
		return o
	}

	buy := submit("alice", model.SideBuy, "101", "10")
	submit("bob", model.SideSell, "100", "5")
	submit("carol", model.SideSell, "100", "5")

	engine.RunCycle(context.Background())
	require.Len(t, holding.intents, 1)
	assert.Equal(t, buy.ID, holding.intents[0].BuyOrderID)

	// The buy is held while its settlement is outstanding; a further cycle
	// must not propose it again.
	engine.RunCycle(context.Background())
	assert.Len(t, holding.intents, 1)

	// Releasing re-queues the still-open order and it matches the remaining
	// sell.
	engine.Release(buy.ID, holding.intents[0].SellOrderID)
	engine.RunCycle(context.Background())
	assert.Len(t, holding.intents, 2)
}

func TestRunCycle_IOCLapsesWhenUnmatched(t *testing.T) {
	f := newFixture(t)
	p, _ := decimal.NewFromString("100")
	ioc, err := f.books.Submit(context.Background(), book.SubmitRequest{
		Pair: "BTC/USDT", Side: model.SideBuy, Kind: model.KindLimit,
		Price: p, Amount: decimal.NewFromInt(5),
		TimeInForce: model.TimeInForceIOC, OwnerID: "alice",
	})
	require.NoError(t, err)

	f.engine.RunCycle(context.Background())

	assert.Equal(t, model.StatusCancelled, f.status(t, ioc.ID))
	assert.Zero(t, f.store.PendingDepth())
}

func TestRunCycle_FOKRequiresFullFill(t *testing.T) {
	f := newFixture(t)
	p, _ := decimal.NewFromString("100")
	fok, err := f.books.Submit(context.Background(), book.SubmitRequest{
		Pair: "BTC/USDT", Side: model.SideBuy, Kind: model.KindLimit,
		Price: p, Amount: decimal.NewFromInt(10),
		TimeInForce: model.TimeInForceFOK, OwnerID: "alice",
	})
	require.NoError(t, err)
	f.submit(t, "bob", model.SideSell, model.KindLimit, "100", "5")

	f.engine.RunCycle(context.Background())

	// Partial coverage is not enough for fill-or-kill
	assert.Empty(t, f.settler.Intents())
	assert.Equal(t, model.StatusCancelled, f.status(t, fok.ID))
}

func TestRunCycle_StopLossDormantUntilTriggered(t *testing.T) {
	f := newFixture(t)
	p, _ := decimal.NewFromString("100")
	stop, err := f.books.Submit(context.Background(), book.SubmitRequest{
		Pair: "BTC/USDT", Side: model.SideSell, Kind: model.KindStopLoss,
		Price: p, StopPrice: decimal.NewFromInt(99),
		Amount: decimal.NewFromInt(5), OwnerID: "carol",
	})
	require.NoError(t, err)
	f.submit(t, "alice", model.SideBuy, model.KindLimit, "100", "5")

	// No trigger mark yet; the stop order stays dormant.
	f.engine.RunCycle(context.Background())
	assert.Empty(t, f.settler.Intents())
	assert.Equal(t, model.StatusPending, f.status(t, stop.ID))

	// A trade at 98 crosses the stop price from above; the stop becomes
	// matchable on the following cycle.
	f.engine.setLastPrice("BTC/USDT", decimal.NewFromInt(98))
	f.engine.RunCycle(context.Background())

	intents := f.settler.Intents()
	require.Len(t, intents, 1)
	assert.Equal(t, stop.ID, intents[0].SellOrderID)
}

func TestEngine_StartStop(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.engine.Start(context.Background()))
	assert.Error(t, f.engine.Start(context.Background()), "double start")
	require.NoError(t, f.engine.Stop())
	assert.Error(t, f.engine.Stop(), "double stop")
}

func TestEngine_StatsEMA(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "alice", model.SideBuy, model.KindLimit, "101", "5")
	f.submit(t, "bob", model.SideSell, model.KindLimit, "100", "5")

	f.engine.RunCycle(context.Background())
	f.engine.RunCycle(context.Background())

	stats := f.engine.Stats()
	assert.EqualValues(t, 2, stats.Cycles)
	assert.EqualValues(t, 1, stats.Matches)
	assert.Greater(t, stats.AvgCycleDuration, time.Duration(0))
}
