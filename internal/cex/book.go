// Package cex implements the centralized-exchange leg of the engine: the
// L2 order-book engine (§4.7.1), REST/WS clients (§4.10-4.11), and HMAC
// auth (§6.5).
package cex

import (
	"fmt"
	"sort"
	"time"

	"github.com/synthfi-arb/arb/pkg/types"
)

// BookUpdate is the event shape subscribers receive: (pair_index, book).
type BookUpdate struct {
	PairIndex int
	Book      *types.Book
}

// Snapshot replaces both sides wholesale. Returns an error (and leaves the
// prior book state untouched upstream — callers must drop the update) if
// the exchange-reported checksum does not match the reconstructed book.
func Snapshot(book *types.Book, bids, asks []types.Level, exchangeChecksum uint32, exchangeTime time.Time) error {
	sortedBids := sortLevels(bids, types.SideBid)
	sortedAsks := sortLevels(asks, types.SideAsk)

	computed := Checksum(sortedBids, sortedAsks)
	if computed != exchangeChecksum {
		return fmt.Errorf("cex book snapshot: checksum mismatch pair=%d computed=%d exchange=%d",
			book.PairIndex, computed, exchangeChecksum)
	}

	book.Bids = sortedBids
	book.Asks = sortedAsks
	book.ExchangeTime = exchangeTime
	book.ReceiveTime = time.Now()
	return nil
}

// DeltaEntry is one (side, price, qty) update from an "update" message.
type DeltaEntry struct {
	Side     types.Side
	Price    types.Price
	Quantity types.Quantity
}

// ApplyDelta applies a batch of level updates via a one-pass linear merge
// that preserves side order (bids descending, asks ascending), then
// re-verifies the checksum. A qty of zero on an existing level deletes it;
// a positive qty on an existing level replaces it; a positive qty on a
// missing level inserts it at the ordered position. On checksum mismatch
// after the merge, the book is considered desynchronized and the error is
// returned for the caller to discard-and-resubscribe; book.Bids/book.Asks
// are left updated regardless, since the caller is expected to throw the
// whole book away on mismatch rather than rely on partial state.
func ApplyDelta(book *types.Book, entries []DeltaEntry, exchangeChecksum uint32, exchangeTime time.Time) error {
	for _, e := range entries {
		side := book.Side(e.Side)
		side = mergeLevel(side, e.Side, e.Price, e.Quantity)
		book.SetSide(e.Side, side)
	}
	book.ExchangeTime = exchangeTime
	book.ReceiveTime = time.Now()

	computed := Checksum(book.Bids, book.Asks)
	if computed != exchangeChecksum {
		return fmt.Errorf("cex book delta: checksum mismatch pair=%d computed=%d exchange=%d, book desynchronized",
			book.PairIndex, computed, exchangeChecksum)
	}
	return nil
}

// mergeLevel performs the one-pass merge for a single (price, qty) update
// against an already-ordered level slice.
func mergeLevel(levels []types.Level, side types.Side, price types.Price, qty types.Quantity) []types.Level {
	idx := sort.Search(len(levels), func(i int) bool {
		if side == types.SideBid {
			return levels[i].Price.LessThanOrEqual(price)
		}
		return levels[i].Price.GreaterThanOrEqual(price)
	})

	if idx < len(levels) && levels[idx].Price.Equal(price) {
		if qty.IsZero() {
			return append(levels[:idx], levels[idx+1:]...)
		}
		levels[idx].Quantity = qty
		return levels
	}

	if qty.IsZero() {
		return levels
	}

	out := make([]types.Level, 0, len(levels)+1)
	out = append(out, levels[:idx]...)
	out = append(out, types.Level{Price: price, Quantity: qty})
	out = append(out, levels[idx:]...)
	return out
}

func sortLevels(levels []types.Level, side types.Side) []types.Level {
	out := append([]types.Level(nil), levels...)
	sort.Slice(out, func(i, j int) bool {
		if side == types.SideBid {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}
