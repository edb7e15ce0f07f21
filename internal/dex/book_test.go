package dex

import (
	"context"
	"log/slog"
	"testing"

	"github.com/synthfi-arb/arb/internal/accountbatch"
	"github.com/synthfi-arb/arb/pkg/types"
)

// buildTestSlab constructs a minimal slab account with a single leaf node
// at the given price and quantity (in lots) and sequence number.
func buildTestSlab(t *testing.T, priceLots, qtyLots uint64, seq uint64) []byte {
	t.Helper()
	header := make([]byte, slabHeaderSize)
	putLE64(header[0:8], 0)  // accountFlags
	putLE64(header[8:16], 1) // bumpIndex
	putLE64(header[16:24], 0)
	putLE32(header[24:28], 0) // freeListHead
	putLE32(header[28:32], 0) // rootNode (index 0)
	putLE64(header[32:40], 1) // leafCount

	node := make([]byte, slabNodeSize)
	putLE32(node[0:4], nodeTagLeaf)
	node[4] = 0 // ownerSlot
	node[5] = 0 // feeTier
	putLE64(node[8:16], seq)
	putLE64(node[16:24], priceLots)
	putLE64(node[56:64], qtyLots)
	putLE64(node[64:72], 777)

	return append(header, node...)
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putLE32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

type dexBookFetcher struct {
	byKey map[types.PublicKey][]byte
}

func (f *dexBookFetcher) FetchMultipleAccounts(_ context.Context, keys []types.PublicKey) ([]*accountbatch.AccountInfo, error) {
	out := make([]*accountbatch.AccountInfo, len(keys))
	for i, k := range keys {
		if d, ok := f.byKey[k]; ok {
			out[i] = &accountbatch.AccountInfo{Owner: k, Data: d}
		}
	}
	return out, nil
}

func TestDexBookRefreshReconstructsLevels(t *testing.T) {
	bidsAddr := mustPubkeyFromBytes(t, mustPubkeyBytes(10))
	asksAddr := mustPubkeyFromBytes(t, mustPubkeyBytes(11))
	eventQueueAddr := mustPubkeyFromBytes(t, mustPubkeyBytes(12))

	fetcher := &dexBookFetcher{byKey: map[types.PublicKey][]byte{
		bidsAddr: buildTestSlab(t, 100, 5, 0),
		asksAddr: buildTestSlab(t, 110, 3, 1<<63),
	}}
	batcher := accountbatch.New(fetcher, 0)

	data := types.ReferenceData{
		Currencies: []types.Currency{{Name: "SOL", Decimals: 9}, {Name: "USDC", Decimals: 6}},
		Pairs: []types.TradingPair{{
			BaseCurrencyIndex: 0, QuoteCurrencyIndex: 1,
			Bids: bidsAddr, Asks: asksAddr, EventQueue: eventQueueAddr,
			BaseLotSize: 1, QuoteLotSize: 1,
		}},
	}

	var update BookUpdate
	book := NewBook(batcher, data, func(u BookUpdate) { update = u }, slog.Default())
	if err := book.Refresh(context.Background(), 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(update.Book.Bids) != 1 || len(update.Book.Asks) != 1 {
		t.Fatalf("bids=%d asks=%d, want 1/1", len(update.Book.Bids), len(update.Book.Asks))
	}
	if !update.Book.Bids[0].Quantity.Equal(lotsToQuantity(5, 1, 9)) {
		t.Fatalf("bid quantity = %s", update.Book.Bids[0].Quantity)
	}
}

func TestDexBookRefreshMissingAccount(t *testing.T) {
	fetcher := &dexBookFetcher{byKey: map[types.PublicKey][]byte{}}
	batcher := accountbatch.New(fetcher, 0)
	data := types.ReferenceData{
		Currencies: []types.Currency{{Name: "SOL"}, {Name: "USDC"}},
		Pairs:      []types.TradingPair{{BaseCurrencyIndex: 0, QuoteCurrencyIndex: 1}},
	}
	book := NewBook(batcher, data, nil, slog.Default())
	if err := book.Refresh(context.Background(), 0); err == nil {
		t.Fatal("expected error for missing bids/asks accounts")
	}
}
