package cex

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/synthfi-arb/arb/pkg/types"
)

func lvl(price, qty int64) types.Level {
	return types.Level{Price: decimal.NewFromInt(price), Quantity: decimal.NewFromInt(qty)}
}

func levelsEqual(t *testing.T, got, want []types.Level) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %v, want %v", got, want)
	}
	for i := range got {
		if !got[i].Price.Equal(want[i].Price) || !got[i].Quantity.Equal(want[i].Quantity) {
			t.Fatalf("level %d mismatch: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestApplyDeltaSequence(t *testing.T) {
	book := &types.Book{
		PairIndex: 0,
		Bids:      []types.Level{lvl(100, 5), lvl(99, 3), lvl(98, 1)},
		Asks:      []types.Level{},
	}

	steps := []struct {
		entries []DeltaEntry
		want    []types.Level
	}{
		{
			entries: []DeltaEntry{{Side: types.SideBid, Price: decimal.NewFromInt(99), Quantity: decimal.Zero}},
			want:    []types.Level{lvl(100, 5), lvl(98, 1)},
		},
		{
			entries: []DeltaEntry{{Side: types.SideBid, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(7)}},
			want:    []types.Level{lvl(100, 7), lvl(98, 1)},
		},
		{
			entries: []DeltaEntry{{Side: types.SideBid, Price: decimal.NewFromInt(101), Quantity: decimal.NewFromInt(2)}},
			want:    []types.Level{lvl(101, 2), lvl(100, 7), lvl(98, 1)},
		},
	}

	for i, step := range steps {
		checksum := Checksum(mergeLevel(append([]types.Level(nil), book.Bids...), types.SideBid, step.entries[0].Price, step.entries[0].Quantity), book.Asks)
		if err := ApplyDelta(book, step.entries, checksum, time.Now()); err != nil {
			t.Fatalf("step %d: ApplyDelta failed: %v", i, err)
		}
		levelsEqual(t, book.Bids, step.want)
	}
}

func TestApplyDeltaChecksumMismatchReported(t *testing.T) {
	book := &types.Book{
		PairIndex: 0,
		Bids:      []types.Level{lvl(100, 5)},
		Asks:      []types.Level{},
	}
	entries := []DeltaEntry{{Side: types.SideBid, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(9)}}
	err := ApplyDelta(book, entries, 0xDEADBEEF, time.Now())
	if err == nil {
		t.Fatal("expected checksum mismatch error, got nil")
	}
}

func TestSnapshotReplacesAndVerifies(t *testing.T) {
	book := &types.Book{PairIndex: 1}
	bids := []types.Level{lvl(99, 3), lvl(100, 5)}
	asks := []types.Level{lvl(102, 2), lvl(101, 4)}

	want := Checksum([]types.Level{lvl(100, 5), lvl(99, 3)}, []types.Level{lvl(101, 4), lvl(102, 2)})
	if err := Snapshot(book, bids, asks, want, time.Now()); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	levelsEqual(t, book.Bids, []types.Level{lvl(100, 5), lvl(99, 3)})
	levelsEqual(t, book.Asks, []types.Level{lvl(101, 4), lvl(102, 2)})
}

func TestSnapshotChecksumMismatch(t *testing.T) {
	book := &types.Book{PairIndex: 1}
	bids := []types.Level{lvl(100, 5)}
	asks := []types.Level{lvl(101, 4)}
	if err := Snapshot(book, bids, asks, 0x12345678, time.Now()); err == nil {
		t.Fatal("expected checksum mismatch error, got nil")
	}
}
