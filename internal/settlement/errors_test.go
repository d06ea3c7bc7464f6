package settlement

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeNetError struct{ timeout bool }

func (e *fakeNetError) Error() string   { return "net down" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		category  Category
		retryable bool
	}{
		{"deadline exceeded", context.DeadlineExceeded, CategoryTimeout, true},
		{"wrapped deadline", fmt.Errorf("await: %w", context.DeadlineExceeded), CategoryTimeout, true},
		{"service unavailable", ErrServiceUnavailable, CategoryServiceUnavailable, true},
		{"circuit open", ErrCircuitOpen, CategoryServiceUnavailable, true},
		{"insufficient balance", ErrInsufficientBalance, CategoryInsufficientBalance, false},
		{"invalid input", ErrInvalidInput, CategoryInvalidInput, false},
		{"net timeout", &fakeNetError{timeout: true}, CategoryTimeout, true},
		{"net failure", &fakeNetError{}, CategoryNetwork, true},
		{"unknown", errors.New("boom"), CategoryUnknown, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			classified := Classify(tc.err)
			assert.Equal(t, tc.category, classified.Category)
			assert.Equal(t, tc.retryable, classified.Category.Retryable())
		})
	}
}

func TestClassify_PassesThroughClassified(t *testing.T) {
	original := &ClassifiedError{Category: CategoryNetwork, Err: errors.New("conn reset")}
	assert.Same(t, original, Classify(original))
	assert.Same(t, original, Classify(fmt.Errorf("wrapped: %w", original)))
}
