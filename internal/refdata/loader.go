// Package refdata implements the one-shot reference-data loader pattern
// shared by both venues (§4.6 of the design spec). Construction spawns a
// background load; concurrent callers to Get block until it completes (or
// failed), and resume with a copy of the result or the load error. Once
// loaded, reference data is immutable for the process lifetime.
package refdata

import (
	"context"
	"fmt"
	"sync"

	"github.com/synthfi-arb/arb/pkg/types"
)

// Source performs the venue-specific fetch-and-index work: batched account
// reads plus binary deserialization for the DEX, a single REST call for the
// CEX. Both venues implement the same shape so strategy/engine code can
// treat either loader identically.
type Source interface {
	Load(ctx context.Context) (types.ReferenceData, error)
}

// Loader is a one-shot, memoized reference-data fetch. The background load
// is started by New and runs exactly once; Get blocks until it completes.
type Loader struct {
	done chan struct{}

	mu     sync.Mutex
	result types.ReferenceData
	err    error
}

// New starts the background load immediately and returns a Loader that
// callers can block on via Get.
func New(ctx context.Context, source Source) *Loader {
	l := &Loader{done: make(chan struct{})}
	go func() {
		defer close(l.done)
		result, err := source.Load(ctx)
		l.mu.Lock()
		l.result, l.err = result, err
		l.mu.Unlock()
	}()
	return l
}

// Get blocks until the background load completes (success or failure), or
// ctx is cancelled, whichever happens first. On success it returns a copy
// of the immutable reference data; on failure, the load error.
func (l *Loader) Get(ctx context.Context) (types.ReferenceData, error) {
	select {
	case <-l.done:
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.err != nil {
			return types.ReferenceData{}, fmt.Errorf("reference data load failed: %w", l.err)
		}
		return l.result, nil
	case <-ctx.Done():
		return types.ReferenceData{}, ctx.Err()
	}
}

// MustHaveCurrency verifies that every pair's base/quote currency indices
// are present in the currency table, as required at the end of a load
// (§4.6: "verify that every configured pair's currencies exist").
func MustHaveCurrency(data types.ReferenceData) error {
	for i, pair := range data.Pairs {
		if pair.BaseCurrencyIndex < 0 || pair.BaseCurrencyIndex >= len(data.Currencies) {
			return fmt.Errorf("pair %d: base currency index %d out of range", i, pair.BaseCurrencyIndex)
		}
		if pair.QuoteCurrencyIndex < 0 || pair.QuoteCurrencyIndex >= len(data.Currencies) {
			return fmt.Errorf("pair %d: quote currency index %d out of range", i, pair.QuoteCurrencyIndex)
		}
	}
	return nil
}
