package storage

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Error wraps any Store and randomly returns errors based on a
// configured percentage. This is useful for testing error handling and
// the inline-result degradation path.
type Error struct {
	store     Store
	errorRate float64 // Percentage of operations that should fail (0.0 to 1.0)

	rng   *rand.Rand
	rngMu sync.Mutex // Protects rng access (rand.Rand is not thread-safe)

	putErrors  atomic.Int64
	getErrors  atomic.Int64
	listErrors atomic.Int64
}

// NewError creates a new error-injecting wrapper around an existing store.
// errorRate should be between 0.0 (no errors) and 1.0 (all operations fail).
func NewError(store Store, errorRate float64) *Error {
	if errorRate < 0.0 {
		errorRate = 0.0
	}
	if errorRate > 1.0 {
		errorRate = 1.0
	}

	return &Error{
		store:     store,
		errorRate: errorRate,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// shouldError returns true if this operation should fail based on the
// error rate. This method is thread-safe.
func (e *Error) shouldError() bool {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64() < e.errorRate
}

// Put stores an object, potentially returning an injected error.
func (e *Error) Put(ctx context.Context, key string, data []byte) error {
	if e.shouldError() {
		e.putErrors.Add(1)
		return fmt.Errorf("error store: simulated Put error (error rate: %.2f%%)", e.errorRate*100)
	}
	return e.store.Put(ctx, key, data)
}

// Get retrieves an object, potentially returning an injected error.
func (e *Error) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if e.shouldError() {
		e.getErrors.Add(1)
		return nil, false, fmt.Errorf("error store: simulated Get error (error rate: %.2f%%)", e.errorRate*100)
	}
	return e.store.Get(ctx, key)
}

// Exists checks presence, potentially returning an injected error.
func (e *Error) Exists(ctx context.Context, key string) (bool, error) {
	if e.shouldError() {
		return false, fmt.Errorf("error store: simulated Exists error (error rate: %.2f%%)", e.errorRate*100)
	}
	return e.store.Exists(ctx, key)
}

// List lists keys, potentially returning an injected error.
func (e *Error) List(ctx context.Context, prefix string) ([]string, error) {
	if e.shouldError() {
		e.listErrors.Add(1)
		return nil, fmt.Errorf("error store: simulated List error (error rate: %.2f%%)", e.errorRate*100)
	}
	return e.store.List(ctx, prefix)
}

// Clear clears the underlying store. Never injected: clearing is an
// operator action, not a request path.
func (e *Error) Clear(ctx context.Context) error {
	return e.store.Clear(ctx)
}

// Close closes the underlying store.
func (e *Error) Close() error {
	return e.store.Close()
}

// Stats returns the number of errors injected per operation type.
// This method is thread-safe.
func (e *Error) Stats() (putErrors, getErrors, listErrors int64) {
	return e.putErrors.Load(), e.getErrors.Load(), e.listErrors.Load()
}
