// Package book implements the order book service: admission, cancellation,
// queries and fill application against the order store. It owns the order
// lifecycle state machine.
package book

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/obsidianex/darkpool/internal/config"
	"github.com/obsidianex/darkpool/internal/model"
	"github.com/obsidianex/darkpool/internal/notifier"
	"github.com/obsidianex/darkpool/internal/store"
	"github.com/obsidianex/darkpool/pkg/errs"
	"github.com/obsidianex/darkpool/pkg/metrics"
)

// SubmitRequest is the inbound order submission contract consumed from the
// route layer.
type SubmitRequest struct {
	Pair          string          `json:"pair" validate:"required"`
	Side          string          `json:"side" validate:"required,oneof=buy sell"`
	Kind          string          `json:"kind" validate:"required,oneof=market limit stop_loss iceberg"`
	Price         decimal.Decimal `json:"price"`
	StopPrice     decimal.Decimal `json:"stop_price"`
	DisplayAmount decimal.Decimal `json:"display_amount"`
	Amount        decimal.Decimal `json:"amount"`
	TimeInForce   string          `json:"time_in_force" validate:"omitempty,oneof=GTC IOC FOK GTD"`
	ExpiresAt     *time.Time      `json:"expires_at"`
	OwnerID       string          `json:"owner_id" validate:"required"`
}

// Service validates, admits, cancels and queries orders. Fills are applied
// only through the settlement reconciliation path, never by the matching
// engine directly.
type Service struct {
	store    *store.OrderStore
	cfg      config.BookConfig
	validate *validator.Validate
	notifier notifier.Notifier
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewService creates an order book service. cache may be nil to disable the
// snapshot cache.
func NewService(st *store.OrderStore, cfg config.BookConfig, n notifier.Notifier, cache *redis.Client, cacheTTL time.Duration, logger *zap.Logger) *Service {
	if n == nil {
		n = notifier.Noop{}
	}
	return &Service{
		store:    st,
		cfg:      cfg,
		validate: validator.New(),
		notifier: n,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Submit validates and admits a new order. On success the order is persisted,
// indexed and enqueued for matching; invalid orders are never partially
// persisted.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*model.Order, error) {
	if err := s.validate.Struct(req); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return nil, errs.NewValidationError(fe.Field(), fmt.Sprintf("failed %s constraint", fe.Tag()))
		}
		return nil, errs.NewValidationError("", err.Error())
	}

	if !req.Amount.IsPositive() {
		return nil, errs.NewValidationError("amount", "must be positive")
	}
	if limits, ok := s.cfg.Limits(req.Pair); ok {
		if req.Amount.LessThan(limits.MinOrderSize) {
			return nil, errs.NewValidationError("amount", fmt.Sprintf("below minimum order size %s", limits.MinOrderSize))
		}
		if req.Amount.GreaterThan(limits.MaxOrderSize) {
			return nil, errs.NewValidationError("amount", fmt.Sprintf("above maximum order size %s", limits.MaxOrderSize))
		}
	}
	if req.Kind != model.KindMarket && !req.Price.IsPositive() {
		return nil, errs.NewValidationError("price", "must be positive for non-market orders")
	}
	if req.Kind == model.KindStopLoss && !req.StopPrice.IsPositive() {
		return nil, errs.NewValidationError("stop_price", "must be positive for stop_loss orders")
	}
	if req.Kind == model.KindIceberg {
		if !req.DisplayAmount.IsPositive() || req.DisplayAmount.GreaterThan(req.Amount) {
			return nil, errs.NewValidationError("display_amount", "must be positive and not exceed amount")
		}
	}

	tif := req.TimeInForce
	if tif == "" {
		tif = model.TimeInForceGTC
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.cfg.OrderTTL)
	if tif == model.TimeInForceGTD {
		if req.ExpiresAt == nil || !req.ExpiresAt.After(now) {
			return nil, errs.NewValidationError("expires_at", "GTD orders require a future expiry")
		}
		if req.ExpiresAt.Before(expiresAt) {
			expiresAt = req.ExpiresAt.UTC()
		}
	}

	order := &model.Order{
		ID:            uuid.New(),
		OwnerID:       req.OwnerID,
		Pair:          req.Pair,
		Side:          req.Side,
		Kind:          req.Kind,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		DisplayAmount: req.DisplayAmount,
		Amount:        req.Amount,
		FilledAmount:  decimal.Zero,
		TimeInForce:   tif,
		Status:        model.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     expiresAt,
	}

	if err := s.store.Insert(order); err != nil {
		return nil, err
	}

	metrics.OrdersAdmitted.WithLabelValues(order.Side).Inc()
	s.notifier.Publish(ctx, model.NewOrderEvent(model.EventOrderAdmitted, order.Pair, order.ID))
	s.logger.Info("order admitted",
		zap.String("order_id", order.ID.String()),
		zap.String("pair", order.Pair),
		zap.String("side", order.Side),
		zap.String("kind", order.Kind))

	return order.Clone(), nil
}

// Cancel cancels an open order on behalf of its owner. Cancelling a filled or
// already-cancelled order is a ConflictError, not a state change.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, ownerID string) (*model.Order, error) {
	cancelled, err := s.store.Apply(orderID, func(o *model.Order) error {
		if o.OwnerID != ownerID {
			return errs.NewAuthorizationError(fmt.Sprintf("order %s is not owned by caller", orderID))
		}
		if !o.IsOpen() {
			return errs.NewConflictError(fmt.Sprintf("order %s is %s", orderID, o.Status))
		}
		o.Status = model.StatusCancelled
		o.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersCancelled.Inc()
	s.notifier.Publish(ctx, model.NewOrderEvent(model.EventOrderCancelled, cancelled.Pair, cancelled.ID))
	s.logger.Info("order cancelled", zap.String("order_id", orderID.String()))

	return cancelled, nil
}

// Get returns a copy of the order by id
func (s *Service) Get(orderID uuid.UUID) (*model.Order, error) {
	return s.store.Get(orderID)
}

// ListByOwner returns all orders for an owner, empty when there are none
func (s *Service) ListByOwner(ownerID string) []*model.Order {
	return s.store.ListByOwner(ownerID)
}

// ListPending returns all open (pending/partial) orders
func (s *Service) ListPending() []*model.Order {
	return s.store.ListOpen()
}

// ApplyFill increments the order's filled amount after a settlement has been
// finalized, recomputes its status and records the settlement reference.
func (s *Service) ApplyFill(ctx context.Context, orderID uuid.UUID, filledDelta decimal.Decimal, settlementID uuid.UUID) (*model.Order, error) {
	filled, err := s.store.Apply(orderID, func(o *model.Order) error {
		if !o.IsOpen() {
			return errs.NewConflictError(fmt.Sprintf("order %s is %s", orderID, o.Status))
		}
		next := o.FilledAmount.Add(filledDelta)
		if next.GreaterThan(o.Amount) {
			return errs.NewConflictError(fmt.Sprintf("fill of %s exceeds order amount", filledDelta))
		}
		o.FilledAmount = next
		if o.FilledAmount.Equal(o.Amount) {
			o.Status = model.StatusFilled
		} else {
			o.Status = model.StatusPartial
		}
		sid := settlementID
		o.SettlementID = &sid
		o.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	eventType := model.EventOrderPartiallyFilled
	if filled.Status == model.StatusFilled {
		eventType = model.EventOrderFilled
	}
	s.notifier.Publish(ctx, model.NewOrderEvent(eventType, filled.Pair, filled.ID))
	s.logger.Info("fill applied",
		zap.String("order_id", orderID.String()),
		zap.String("settlement_id", settlementID.String()),
		zap.String("filled_delta", filledDelta.String()),
		zap.String("status", filled.Status))

	return filled, nil
}

// Snapshot aggregates open orders into price levels per side, bids sorted by
// descending price and asks ascending, truncated to depth. Only price and
// total remaining amount per level are exposed.
func (s *Service) Snapshot(ctx context.Context, pair string, depth int) (*model.BookSnapshot, error) {
	if depth <= 0 || depth > s.cfg.SnapshotDepth {
		depth = s.cfg.SnapshotDepth
	}

	if cached := s.cachedSnapshot(ctx, pair, depth); cached != nil {
		return cached, nil
	}

	snap := &model.BookSnapshot{
		Pair:      pair,
		Bids:      s.store.SideLevels(pair, model.SideBuy, depth),
		Asks:      s.store.SideLevels(pair, model.SideSell, depth),
		Timestamp: time.Now().UTC(),
	}

	s.cacheSnapshot(ctx, pair, depth, snap)
	return snap, nil
}

// PendingDepth exposes the work queue depth for metrics endpoints
func (s *Service) PendingDepth() int {
	return s.store.PendingDepth()
}

func snapshotKey(pair string, depth int) string {
	return fmt.Sprintf("darkpool:snapshot:%s:%d", pair, depth)
}

func (s *Service) cachedSnapshot(ctx context.Context, pair string, depth int) *model.BookSnapshot {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, snapshotKey(pair, depth)).Bytes()
	if err != nil {
		return nil
	}
	var snap model.BookSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil
	}
	return &snap
}

func (s *Service) cacheSnapshot(ctx context.Context, pair string, depth int, snap *model.BookSnapshot) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, snapshotKey(pair, depth), raw, s.cacheTTL).Err(); err != nil {
		s.logger.Debug("snapshot cache write failed", zap.Error(err))
	}
}
