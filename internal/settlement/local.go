package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianex/darkpool/internal/model"
)

// LocalComputeService is an in-process stand-in for the confidential
// computation cluster, used for development and tests. It confirms every
// submitted intent at its proposed price and amount. Production deployments
// must substitute a vetted MPC implementation behind the same contract.
type LocalComputeService struct {
	mu       sync.Mutex
	queued   map[Handle][]byte
	latency  time.Duration
	failNext error
}

// NewLocalComputeService creates a local compute stand-in with the given
// simulated finalization latency
func NewLocalComputeService(latency time.Duration) *LocalComputeService {
	return &LocalComputeService{
		queued:  make(map[Handle][]byte),
		latency: latency,
	}
}

// FailNext makes the next Submit call fail with the given error. Test hook.
func (l *LocalComputeService) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// EncryptIntent implements ComputeService. The local scheme is plain JSON;
// it stands in for the real service's ciphertext, nothing more.
func (l *LocalComputeService) EncryptIntent(intent model.MatchIntent) (EncryptedIntent, error) {
	payload, err := json.Marshal(intent)
	if err != nil {
		return nil, fmt.Errorf("failed to encode intent: %w", err)
	}
	return EncryptedIntent(payload), nil
}

// Submit implements ComputeService
func (l *LocalComputeService) Submit(ctx context.Context, intent EncryptedIntent) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return "", err
	}

	handle := Handle(uuid.New().String())
	l.queued[handle] = intent
	return handle, nil
}

// AwaitFinalization implements ComputeService
func (l *LocalComputeService) AwaitFinalization(ctx context.Context, handle Handle, timeout time.Duration) (*FinalizationResult, error) {
	l.mu.Lock()
	payload, ok := l.queued[handle]
	l.mu.Unlock()
	if !ok {
		return nil, ErrInvalidInput
	}

	select {
	case <-time.After(l.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &FinalizationResult{Finalized: true, EncryptedResult: payload}, nil
}

// DecryptResult implements ComputeService
func (l *LocalComputeService) DecryptResult(encrypted []byte) (*model.MatchResult, error) {
	var intent model.MatchIntent
	if err := json.Unmarshal(encrypted, &intent); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &model.MatchResult{
		Matched:     true,
		MatchPrice:  intent.Price,
		MatchAmount: intent.Amount,
		BuyOrderID:  intent.BuyOrderID,
		SellOrderID: intent.SellOrderID,
	}, nil
}
