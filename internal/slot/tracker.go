// Package slot implements the slot & blockhash freshness tracker (§4.5 of
// the design spec): it watches slot notifications, refreshes the recent
// blockhash once the observed slot has advanced far enough, and enforces
// monotonic freshness (a stale-but-larger block height never regresses the
// cached blockhash).
package slot

import (
	"context"
	"log/slog"
	"sync"

	"github.com/synthfi-arb/arb/pkg/types"
)

// RefreshWindow is the number of slots that must elapse before a new
// blockhash is fetched (§4.5: slot >= observed_slot + 30).
const RefreshWindow = 30

// BlockhashFetcher fetches a fresh blockhash at "finalized" commitment.
type BlockhashFetcher interface {
	GetLatestBlockhash(ctx context.Context) (types.RecentBlockhash, error)
}

// Counters is the minimal telemetry sink the tracker publishes slot
// observations to.
type Counters interface {
	Gauge(name string, value float64, tags map[string]string)
}

type noopCounters struct{}

func (noopCounters) Gauge(string, float64, map[string]string) {}

// Tracker maintains a rolling recent blockhash with a freshness window.
type Tracker struct {
	fetcher  BlockhashFetcher
	logger   *slog.Logger
	counters Counters

	mu        sync.Mutex
	current   types.RecentBlockhash
	haveValue bool

	subMu sync.Mutex
	subs  []chan types.RecentBlockhash
}

// New constructs a Tracker.
func New(fetcher BlockhashFetcher, logger *slog.Logger, counters Counters) *Tracker {
	if counters == nil {
		counters = noopCounters{}
	}
	return &Tracker{fetcher: fetcher, logger: logger.With("component", "slot_tracker"), counters: counters}
}

// OnSlot processes one slot notification: publishes telemetry and, if the
// freshness window has elapsed, fetches and (monotonically) applies a new
// blockhash.
func (t *Tracker) OnSlot(ctx context.Context, slot uint64) {
	t.counters.Gauge("dex_slot", float64(slot), nil)

	t.mu.Lock()
	needsRefresh := !t.haveValue || t.current.NeedsRefresh(slot, RefreshWindow)
	t.mu.Unlock()
	if !needsRefresh {
		return
	}

	bh, err := t.fetcher.GetLatestBlockhash(ctx)
	if err != nil {
		t.logger.Warn("slot tracker: failed to fetch blockhash", "error", err)
		return
	}
	bh.ObservedSlot = slot

	t.mu.Lock()
	prior := t.current
	havePrior := t.haveValue
	// Monotonic freshness: never regress last_valid_block_height.
	if !havePrior || bh.LastValidBlockHeight > prior.LastValidBlockHeight {
		t.current = bh
		t.haveValue = true
	} else {
		bh = prior
	}
	t.mu.Unlock()

	t.fanOut(bh)
}

// Current returns the latest known blockhash and whether one has been
// observed yet.
func (t *Tracker) Current() (types.RecentBlockhash, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.haveValue
}

// Subscribe registers a channel that receives every new blockhash. If a
// value is already known, it is delivered immediately so late subscribers
// are never left without a starting point.
func (t *Tracker) Subscribe(ch chan types.RecentBlockhash) {
	t.subMu.Lock()
	t.subs = append(t.subs, ch)
	t.subMu.Unlock()

	if current, ok := t.Current(); ok {
		select {
		case ch <- current:
		default:
		}
	}
}

func (t *Tracker) fanOut(bh types.RecentBlockhash) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- bh:
		default:
			t.logger.Warn("slot tracker: subscriber channel full, dropping blockhash update")
		}
	}
}
