package dex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/synthfi-arb/arb/internal/accountbatch"
	"github.com/synthfi-arb/arb/pkg/types"
)

// BookUpdate is published after every successful book reconstruction.
type BookUpdate struct {
	PairIndex int
	Book      *types.Book
}

// BookCallback receives a BookUpdate whenever a pair's book is refreshed.
type BookCallback func(update BookUpdate)

// Book reconstructs every configured pair's L2 book from its bids/asks
// slab accounts and drains the event queue for staleness bookkeeping
// (§4.7.2). Each pair's bids/asks/event_queue accounts are subscribed to
// independently; Refresh is meant to be invoked whenever any of the three
// fires.
type Book struct {
	batcher *accountbatch.Batcher
	data    types.ReferenceData
	logger  *slog.Logger
	onBook  BookCallback

	books    map[int]*types.Book
	trackers map[int]*EventQueueTracker
}

// eventQueueCapacity is the fixed record count of a reference event queue
// account ((account size - header) / record size); used to size the
// circular-buffer tracker.
const eventQueueCapacity = 2978

// NewBook constructs a DEX Book reconstructor for every pair in data.
func NewBook(batcher *accountbatch.Batcher, data types.ReferenceData, onBook BookCallback, logger *slog.Logger) *Book {
	books := make(map[int]*types.Book, len(data.Pairs))
	trackers := make(map[int]*EventQueueTracker, len(data.Pairs))
	for i := range data.Pairs {
		books[i] = &types.Book{PairIndex: i}
		trackers[i] = NewEventQueueTracker(eventQueueCapacity)
	}
	return &Book{
		batcher:  batcher,
		data:     data,
		logger:   logger.With("component", "dex_book"),
		onBook:   onBook,
		books:    books,
		trackers: trackers,
	}
}

// Refresh fetches the pair's bids, asks, and event-queue accounts in one
// batch, rebuilds both sides from the slab trees, drains newly-arrived
// events for logging, and invokes onBook with the updated book.
func (b *Book) Refresh(ctx context.Context, pairIdx int) error {
	if pairIdx < 0 || pairIdx >= len(b.data.Pairs) {
		return fmt.Errorf("dex book: pair index %d out of range", pairIdx)
	}
	pair := b.data.Pairs[pairIdx]

	infos, err := b.batcher.GetMultipleAccounts(ctx, []types.PublicKey{pair.Bids, pair.Asks, pair.EventQueue})
	if err != nil {
		return fmt.Errorf("dex book: fetch accounts for pair %d: %w", pairIdx, err)
	}
	if infos[0] == nil || infos[0].Data == nil || infos[1] == nil || infos[1].Data == nil {
		return fmt.Errorf("dex book: bids/asks account missing for pair %d", pairIdx)
	}

	baseDecimals := b.data.Currencies[pair.BaseCurrencyIndex].Decimals
	quoteDecimals := b.data.Currencies[pair.QuoteCurrencyIndex].Decimals

	bidsLevels, err := b.decodeSide(infos[0].Data, types.SideBid, pair, baseDecimals, quoteDecimals)
	if err != nil {
		return fmt.Errorf("dex book: decode bids for pair %d: %w", pairIdx, err)
	}
	asksLevels, err := b.decodeSide(infos[1].Data, types.SideAsk, pair, baseDecimals, quoteDecimals)
	if err != nil {
		return fmt.Errorf("dex book: decode asks for pair %d: %w", pairIdx, err)
	}

	book := b.books[pairIdx]
	book.Bids = bidsLevels
	book.Asks = asksLevels
	book.ReceiveTime = time.Now()

	if infos[2] != nil && infos[2].Data != nil {
		header, err := DecodeQueueHeader(infos[2].Data)
		if err != nil {
			b.logger.Warn("dex book: malformed event queue header", "pair", pairIdx, "error", err)
		} else {
			events, missed, err := b.trackers[pairIdx].Drain(infos[2].Data, header)
			if err != nil {
				b.logger.Warn("dex book: event queue drain failed", "pair", pairIdx, "error", err)
			} else {
				if missed {
					b.logger.Warn("dex book: event queue overflow, some fills were not observed", "pair", pairIdx)
				}
				if len(events) > 0 {
					b.logger.Debug("dex book: drained events", "pair", pairIdx, "count", len(events))
				}
			}
		}
	}

	if b.onBook != nil {
		// onBook may run on another goroutine's strand well after Refresh
		// returns; hand it a cloned copy rather than the live book pointer,
		// since the next Refresh call reassigns book.Bids/Asks in place and
		// would otherwise race with a still-pending callback read.
		b.onBook(BookUpdate{PairIndex: pairIdx, Book: book.Clone()})
	}
	return nil
}

func (b *Book) decodeSide(data []byte, side types.Side, pair types.TradingPair, baseDecimals, quoteDecimals int) ([]types.Level, error) {
	header, err := DecodeSlabHeader(data)
	if err != nil {
		return nil, err
	}
	leaves, err := Leaves(data, header)
	if err != nil {
		return nil, err
	}
	return LeavesToLevels(leaves, side, pair.BaseLotSize, pair.QuoteLotSize, baseDecimals, quoteDecimals), nil
}

// Get returns the current reconstructed book for a pair.
func (b *Book) Get(pairIdx int) *types.Book {
	return b.books[pairIdx]
}
