// Package settlement submits match intents to the external
// confidential-computation service and reconciles the asynchronous outcome
// back into the order book, shielding the matching engine from transient
// external failures.
package settlement

import (
	"context"
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

// Books is the reconciliation surface of the order book service. Fills are
// applied only here, after settlement finalization.
type Books interface {
	ApplyFill(ctx context.Context, orderID uuid.UUID, filledDelta decimal.Decimal, settlementID uuid.UUID) (*model.Order, error)
}

// Holds releases the in-flight hold the matching engine places on orders
// while a settlement is outstanding.
type Holds interface {
	Release(orderIDs ...uuid.UUID)
}

// Client owns settlement records and the finalization continuations. Every
// terminal outcome releases the in-flight hold so orders are never left
// stuck.
type Client struct {
	compute     ComputeService
	settlements *store.SettlementStore
	books       Books
	holds       Holds
	notifier    notifier.Notifier
	breaker     *CircuitBreaker
	retry       RetryPolicy
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a settlement client supervising its own finalization
// tasks. n may be nil.
func NewClient(compute ComputeService, settlements *store.SettlementStore, books Books, holds Holds, n notifier.Notifier, retry RetryPolicy, breakerCfg BreakerConfig, logger *zap.Logger) *Client {
	if n == nil {
		n = notifier.Noop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		compute:     compute,
		settlements: settlements,
		books:       books,
		holds:       holds,
		notifier:    n,
		breaker:     NewCircuitBreaker("compute_service", breakerCfg, logger),
		retry:       retry,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Breaker exposes the circuit breaker for operator reset and inspection
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// Settle encrypts and submits a match intent. On success the settlement id is
// returned and a supervised continuation awaits finalization in the
// background; the caller does not block on the external computation. On
// failure the in-flight hold is released and the settlement is recorded as
// failed.
func (c *Client) Settle(ctx context.Context, intent model.MatchIntent) (uuid.UUID, error) {
	st := &model.Settlement{
		ID:          uuid.New(),
		IntentID:    intent.ID,
		Pair:        intent.Pair,
		BuyOrderID:  intent.BuyOrderID,
		SellOrderID: intent.SellOrderID,
		Price:       intent.Price,
		Amount:      intent.Amount,
		Status:      model.SettlementPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.settlements.Create(st); err != nil {
		c.holds.Release(intent.BuyOrderID, intent.SellOrderID)
		return uuid.Nil, err
	}

	encrypted, err := c.compute.EncryptIntent(intent)
	if err != nil {
		classified := &ClassifiedError{Category: CategoryInvalidInput, Err: err}
		c.fail(ctx, st.ID, intent, classified)
		return st.ID, classified
	}

	var handle Handle
	err = c.callWithRetry(ctx, "submit", func(ctx context.Context) error {
		h, err := c.compute.Submit(ctx, encrypted)
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	if err != nil {
		c.fail(ctx, st.ID, intent, err)
		return st.ID, err
	}

	if _, err := c.settlements.Update(st.ID, func(s *model.Settlement) {
		s.Handle = string(handle)
	}); err != nil {
		c.logger.Error("failed to record computation handle", zap.Error(err))
	}

	c.wg.Add(1)
	go c.finalize(st.ID, intent, handle)

	return st.ID, nil
}

// Stop cancels outstanding finalization continuations and waits for them
func (c *Client) Stop() {
	c.cancel()
	c.wg.Wait()
}

// finalize is the supervised continuation that awaits finalization, decrypts
// the result and reconciles it into the order book.
func (c *Client) finalize(settlementID uuid.UUID, intent model.MatchIntent, handle Handle) {
	defer c.wg.Done()

	var result *FinalizationResult
	err := c.callWithRetry(c.ctx, "await_finalization", func(ctx context.Context) error {
		r, err := c.compute.AwaitFinalization(ctx, handle, c.retry.AttemptTimeout)
		if err != nil {
			return err
		}
		if !r.Finalized {
			return &ClassifiedError{Category: CategoryTimeout, Err: context.DeadlineExceeded}
		}
		result = r
		return nil
	})
	if err != nil {
		c.fail(c.ctx, settlementID, intent, err)
		return
	}

	matchResult, err := c.compute.DecryptResult(result.EncryptedResult)
	if err != nil {
		c.fail(c.ctx, settlementID, intent, &ClassifiedError{Category: CategoryInvalidInput, Err: err})
		return
	}

	if !matchResult.Matched {
		// The computation finalized without a match; no fill to apply.
		c.complete(settlementID)
		c.holds.Release(intent.BuyOrderID, intent.SellOrderID)
		c.logger.Info("settlement finalized without match",
			zap.String("settlement_id", settlementID.String()))
		return
	}

	// A side cancelled while the settlement was in flight rejects its fill;
	// the rejection is broadcast as its own event.
	if _, err := c.books.ApplyFill(c.ctx, matchResult.BuyOrderID, matchResult.MatchAmount, settlementID); err != nil {
		c.notifier.Publish(c.ctx, model.NewOrderEvent(model.EventOrderFillRejected, intent.Pair, matchResult.BuyOrderID))
		c.logger.Error("failed to apply buy fill",
			zap.String("settlement_id", settlementID.String()),
			zap.Error(err))
	}
	if _, err := c.books.ApplyFill(c.ctx, matchResult.SellOrderID, matchResult.MatchAmount, settlementID); err != nil {
		c.notifier.Publish(c.ctx, model.NewOrderEvent(model.EventOrderFillRejected, intent.Pair, matchResult.SellOrderID))
		c.logger.Error("failed to apply sell fill",
			zap.String("settlement_id", settlementID.String()),
			zap.Error(err))
	}

	c.complete(settlementID)
	c.holds.Release(intent.BuyOrderID, intent.SellOrderID)
	metrics.SettlementsCompleted.Inc()
	c.logger.Info("settlement completed",
		zap.String("settlement_id", settlementID.String()),
		zap.String("pair", intent.Pair),
		zap.String("price", matchResult.MatchPrice.String()),
		zap.String("amount", matchResult.MatchAmount.String()))
}

// complete marks a settlement terminal with status completed
func (c *Client) complete(settlementID uuid.UUID) {
	now := time.Now().UTC()
	if _, err := c.settlements.Update(settlementID, func(s *model.Settlement) {
		s.Status = model.SettlementCompleted
		s.CompletedAt = &now
	}); err != nil {
		c.logger.Error("failed to mark settlement completed", zap.Error(err))
	}
}

// fail marks the settlement failed, releases the in-flight hold so both
// orders return to matchable state, and emits a failure event.
func (c *Client) fail(ctx context.Context, settlementID uuid.UUID, intent model.MatchIntent, cause error) {
	now := time.Now().UTC()
	if _, err := c.settlements.Update(settlementID, func(s *model.Settlement) {
		s.Status = model.SettlementFailed
		s.CompletedAt = &now
	}); err != nil {
		c.logger.Error("failed to mark settlement failed", zap.Error(err))
	}

	c.holds.Release(intent.BuyOrderID, intent.SellOrderID)
	metrics.SettlementsFailed.Inc()
	c.notifier.Publish(ctx, model.NewSettlementEvent(model.EventSettlementFailed, intent.Pair, settlementID))
	c.logger.Error("settlement failed",
		zap.String("settlement_id", settlementID.String()),
		zap.String("pair", intent.Pair),
		zap.Error(cause))
}
