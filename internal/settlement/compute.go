package settlement

import (
	"context"
	"time"

	"github.com/obsidianex/darkpool/internal/model"
)

// EncryptedIntent is an opaque ciphertext of a match intent. The encryption
// scheme belongs to the confidential-computation service, not to this core.
type EncryptedIntent []byte

// Handle identifies a queued computation on the external service
type Handle string

// FinalizationResult is the terminal outcome of one computation
type FinalizationResult struct {
	Finalized       bool
	EncryptedResult []byte
}

// ComputeService is the contract the settlement client requires from the
// external confidential-computation cluster. Unmatched order details never
// leave the encrypted domain.
type ComputeService interface {
	// EncryptIntent hides a match intent's contents under the service's scheme
	EncryptIntent(intent model.MatchIntent) (EncryptedIntent, error)

	// Submit queues the encrypted intent for computation
	Submit(ctx context.Context, intent EncryptedIntent) (Handle, error)

	// AwaitFinalization blocks until the computation finalizes or the timeout
	// elapses
	AwaitFinalization(ctx context.Context, handle Handle, timeout time.Duration) (*FinalizationResult, error)

	// DecryptResult recovers the match result from a finalized computation
	DecryptResult(encrypted []byte) (*model.MatchResult, error)
}
