package store

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSaveAndLoadSnapshot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	snap := InventorySnapshot{
		Currency:        "SOL",
		DEXPosition:     decimal.NewFromFloat(-2.5),
		CEXPosition:     decimal.NewFromFloat(0.5),
		ObservedAtNanos: 1700000000000000000,
	}

	if err := s.SaveSnapshot(snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	loaded, err := s.LoadSnapshot("SOL")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadSnapshot returned nil")
	}
	if !loaded.DEXPosition.Equal(snap.DEXPosition) {
		t.Errorf("DEXPosition = %s, want %s", loaded.DEXPosition, snap.DEXPosition)
	}
	if !loaded.CEXPosition.Equal(snap.CEXPosition) {
		t.Errorf("CEXPosition = %s, want %s", loaded.CEXPosition, snap.CEXPosition)
	}
	if loaded.ObservedAtNanos != snap.ObservedAtNanos {
		t.Errorf("ObservedAtNanos = %d, want %d", loaded.ObservedAtNanos, snap.ObservedAtNanos)
	}
}

func TestLoadSnapshotMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadSnapshot("nonexistent")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing snapshot, got %+v", loaded)
	}
}

func TestSaveSnapshotOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	snap1 := InventorySnapshot{Currency: "SOL", DEXPosition: decimal.NewFromInt(10)}
	snap2 := InventorySnapshot{Currency: "SOL", DEXPosition: decimal.NewFromInt(20)}

	_ = s.SaveSnapshot(snap1)
	_ = s.SaveSnapshot(snap2)

	loaded, err := s.LoadSnapshot("SOL")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if !loaded.DEXPosition.Equal(decimal.NewFromInt(20)) {
		t.Errorf("DEXPosition = %s, want 20 (latest save)", loaded.DEXPosition)
	}
}

func TestLoadAll(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.SaveSnapshot(InventorySnapshot{Currency: "SOL", DEXPosition: decimal.NewFromInt(1)})
	_ = s.SaveSnapshot(InventorySnapshot{Currency: "USDC", DEXPosition: decimal.NewFromInt(2)})

	all, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
	if !all["SOL"].DEXPosition.Equal(decimal.NewFromInt(1)) {
		t.Errorf("SOL DEXPosition = %s, want 1", all["SOL"].DEXPosition)
	}
	if !all["USDC"].DEXPosition.Equal(decimal.NewFromInt(2)) {
		t.Errorf("USDC DEXPosition = %s, want 2", all["USDC"].DEXPosition)
	}
}
