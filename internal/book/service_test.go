package book

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/obsidianex/darkpool/internal/config"
	"github.com/obsidianex/darkpool/internal/model"
	"github.com/obsidianex/darkpool/internal/store"
	"github.com/obsidianex/darkpool/pkg/errs"
)

func newTestService(t *testing.T) (*Service, *store.OrderStore) {
	t.Helper()
	st, err := store.NewOrderStore(nil, zap.NewNop())
	require.NoError(t, err)
	cfg := config.BookConfig{
		OrderTTL:      time.Hour,
		SnapshotDepth: 20,
		Pairs: []config.PairLimits{
			{
				Pair:         "BTC/USDT",
				MinOrderSize: decimal.NewFromFloat(0.001),
				MaxOrderSize: decimal.NewFromInt(1000),
			},
		},
	}
	return NewService(st, cfg, nil, nil, 0, zap.NewNop()), st
}

func limitBuy(owner, price, amount string) SubmitRequest {
	p, _ := decimal.NewFromString(price)
	a, _ := decimal.NewFromString(amount)
	return SubmitRequest{
		Pair:    "BTC/USDT",
		Side:    model.SideBuy,
		Kind:    model.KindLimit,
		Price:   p,
		Amount:  a,
		OwnerID: owner,
	}
}

func TestSubmit_AdmitsValidOrder(t *testing.T) {
	svc, st := newTestService(t)

	order, err := svc.Submit(context.Background(), limitBuy("alice", "100.50", "10"))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, order.ID)
	assert.Equal(t, model.StatusPending, order.Status)
	assert.Equal(t, model.TimeInForceGTC, order.TimeInForce)
	assert.True(t, order.FilledAmount.IsZero())
	assert.True(t, order.ExpiresAt.After(order.CreatedAt))
	assert.Equal(t, 1, st.PendingDepth())
}

func TestSubmit_ValidationFailures(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(r *SubmitRequest)
	}{
		{"unknown side", func(r *SubmitRequest) { r.Side = "short" }},
		{"unknown kind", func(r *SubmitRequest) { r.Kind = "twap" }},
		{"missing owner", func(r *SubmitRequest) { r.OwnerID = "" }},
		{"zero amount", func(r *SubmitRequest) { r.Amount = decimal.Zero }},
		{"negative amount", func(r *SubmitRequest) { r.Amount = decimal.NewFromInt(-1) }},
		{"limit without price", func(r *SubmitRequest) { r.Price = decimal.Zero }},
		{"negative price", func(r *SubmitRequest) { r.Price = decimal.NewFromInt(-5) }},
		{"unknown time in force", func(r *SubmitRequest) { r.TimeInForce = "DAY" }},
		{"above max size", func(r *SubmitRequest) { r.Amount = decimal.NewFromInt(1001) }},
		{"GTD without expiry", func(r *SubmitRequest) { r.TimeInForce = model.TimeInForceGTD }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := limitBuy("alice", "100", "1")
			tc.mutate(&req)
			_, err := svc.Submit(ctx, req)
			assert.True(t, errs.IsValidation(err), "expected validation error, got %v", err)
		})
	}

	// Nothing was partially persisted
	assert.Zero(t, st.PendingDepth())
	assert.Empty(t, svc.ListByOwner("alice"))
}

func TestSubmit_MinOrderSizeBoundary(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Exactly at the minimum is accepted
	_, err := svc.Submit(ctx, limitBuy("alice", "100", "0.001"))
	require.NoError(t, err)

	// One unit below is rejected
	_, err = svc.Submit(ctx, limitBuy("alice", "100", "0.0009"))
	assert.True(t, errs.IsValidation(err))
}

func TestSubmit_StopLossRequiresStopPrice(t *testing.T) {
	svc, _ := newTestService(t)
	req := limitBuy("alice", "100", "1")
	req.Kind = model.KindStopLoss

	_, err := svc.Submit(context.Background(), req)
	assert.True(t, errs.IsValidation(err))

	req.StopPrice = decimal.NewFromInt(95)
	_, err = svc.Submit(context.Background(), req)
	assert.NoError(t, err)
}

func TestSubmit_IcebergDisplayBounds(t *testing.T) {
	svc, _ := newTestService(t)
	req := limitBuy("alice", "100", "10")
	req.Kind = model.KindIceberg

	_, err := svc.Submit(context.Background(), req)
	assert.True(t, errs.IsValidation(err), "missing display amount")

	req.DisplayAmount = decimal.NewFromInt(11)
	_, err = svc.Submit(context.Background(), req)
	assert.True(t, errs.IsValidation(err), "display above amount")

	req.DisplayAmount = decimal.NewFromInt(2)
	_, err = svc.Submit(context.Background(), req)
	assert.NoError(t, err)
}

func TestCancel_Lifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	order, err := svc.Submit(ctx, limitBuy("alice", "100", "1"))
	require.NoError(t, err)

	// Wrong owner
	_, err = svc.Cancel(ctx, order.ID, "mallory")
	assert.True(t, errs.IsAuthorization(err))

	// Unknown order
	_, err = svc.Cancel(ctx, uuid.New(), "alice")
	assert.True(t, errs.IsNotFound(err))

	// Success
	cancelled, err := svc.Cancel(ctx, order.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	assert.True(t, cancelled.FilledAmount.IsZero())

	// Cancelling again is a conflict, not a state change
	_, err = svc.Cancel(ctx, order.ID, "alice")
	assert.True(t, errs.IsConflict(err))
}

func TestSubmitThenCancelLeavesDepthUnchanged(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	before, err := svc.Snapshot(ctx, "BTC/USDT", 10)
	require.NoError(t, err)

	order, err := svc.Submit(ctx, limitBuy("alice", "100", "1"))
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, order.ID, "alice")
	require.NoError(t, err)

	after, err := svc.Snapshot(ctx, "BTC/USDT", 10)
	require.NoError(t, err)
	assert.Equal(t, len(before.Bids), len(after.Bids))
	assert.Equal(t, len(before.Asks), len(after.Asks))
}

func TestApplyFill_StatusTransitions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	settlementID := uuid.New()

	order, err := svc.Submit(ctx, limitBuy("alice", "100", "10"))
	require.NoError(t, err)

	partial, err := svc.ApplyFill(ctx, order.ID, decimal.NewFromInt(4), settlementID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartial, partial.Status)
	assert.True(t, partial.FilledAmount.Equal(decimal.NewFromInt(4)))
	require.NotNil(t, partial.SettlementID)
	assert.Equal(t, settlementID, *partial.SettlementID)

	filled, err := svc.ApplyFill(ctx, order.ID, decimal.NewFromInt(6), settlementID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFilled, filled.Status)
	assert.True(t, filled.FilledAmount.Equal(filled.Amount))

	// Further fills conflict
	_, err = svc.ApplyFill(ctx, order.ID, decimal.NewFromInt(1), settlementID)
	assert.True(t, errs.IsConflict(err))
}

func TestApplyFill_NeverExceedsAmount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	order, err := svc.Submit(ctx, limitBuy("alice", "100", "10"))
	require.NoError(t, err)

	_, err = svc.ApplyFill(ctx, order.ID, decimal.NewFromInt(11), uuid.New())
	assert.True(t, errs.IsConflict(err))

	got, err := svc.Get(order.ID)
	require.NoError(t, err)
	assert.True(t, got.FilledAmount.IsZero())
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestSnapshot_AggregatesAndTruncates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, price := range []string{"100", "101", "101", "99"} {
		_, err := svc.Submit(ctx, limitBuy("alice", price, "2"))
		require.NoError(t, err)
	}
	sell := limitBuy("bob", "105", "3")
	sell.Side = model.SideSell
	_, err := svc.Submit(ctx, sell)
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx, "BTC/USDT", 2)
	require.NoError(t, err)

	require.Len(t, snap.Bids, 2)
	assert.True(t, snap.Bids[0].Price.Equal(decimal.NewFromInt(101)))
	assert.True(t, snap.Bids[0].Amount.Equal(decimal.NewFromInt(4)))
	assert.True(t, snap.Bids[1].Price.Equal(decimal.NewFromInt(100)))
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Price.Equal(decimal.NewFromInt(105)))
}
