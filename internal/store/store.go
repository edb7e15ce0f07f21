// Package store provides crash-safe inventory snapshot persistence using
// JSON files.
//
// Each currency's cross-venue position snapshot is stored as a separate
// file: inv_<currency>.json. Writes use atomic file replacement (write to
// .tmp, then rename) to prevent corruption from partial writes or crashes
// mid-save. The engine calls SaveSnapshot for every currency on every
// wallet update from either venue, and LoadAll on startup to log the
// last-known positions; the loaded snapshots are not fed into the
// strategy core.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

const filePrefix = "inv_"

// InventorySnapshot records one currency's last-known position on each
// venue, as reported by that venue's wallet stream, plus when it was
// observed.
type InventorySnapshot struct {
	Currency        string          `json:"currency"`
	DEXPosition     decimal.Decimal `json:"dex_position"`
	CEXPosition     decimal.Decimal `json:"cex_position"`
	ObservedAtNanos int64           `json:"observed_at_nanos"`
}

// Store persists inventory snapshots to JSON files in a designated
// directory. All operations are mutex-protected to prevent concurrent
// file corruption.
type Store struct {
	dir string     // directory containing inv_*.json files
	mu  sync.Mutex // serializes all file operations
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

func (s *Store) path(currency string) string {
	return filepath.Join(s.dir, filePrefix+currency+".json")
}

// SaveSnapshot atomically persists the current cross-venue position for a
// currency. It writes to a .tmp file first, then renames over the target
// to ensure the file is never left in a partial state (crash-safe).
func (s *Store) SaveSnapshot(snap InventorySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal inventory snapshot: %w", err)
	}

	path := s.path(snap.Currency)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write inventory snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadSnapshot restores a currency's snapshot from disk.
// Returns nil, nil if no saved snapshot exists (fresh currency).
func (s *Store) LoadSnapshot(currency string) (*InventorySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(currency))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read inventory snapshot: %w", err)
	}

	var snap InventorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal inventory snapshot: %w", err)
	}
	return &snap, nil
}

// LoadAll restores every snapshot found in the store directory, keyed by
// currency. Used on engine startup to log the last-known positions.
func (s *Store) LoadAll() (map[string]InventorySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	out := make(map[string]InventorySnapshot)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var snap InventorySnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", name, err)
		}
		out[snap.Currency] = snap
	}
	return out, nil
}
