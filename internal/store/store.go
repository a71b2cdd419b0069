// Package store provides crash-safe persistence of daemon state using JSON files.
//
// The engine, ledger and factory are saved together as one snapshot in
// snapshot.json so that a restart never sees escrow from one point in time
// and balances from another. Writes use atomic file replacement (write to
// .tmp, then rename) to prevent corruption from partial writes or crashes
// mid-save. The service calls Save after each engine event and Load on startup.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"maker-auction/internal/amm"
	"maker-auction/internal/auction"
	"maker-auction/internal/token"
)

const snapshotFile = "snapshot.json"

// Snapshot is everything needed to resume the daemon.
type Snapshot struct {
	Version int              `json:"version"`
	SavedAt time.Time        `json:"saved_at"`
	Engine  auction.State    `json:"engine"`
	Ledger  token.State      `json:"ledger"`
	Factory amm.FactoryState `json:"factory"`
}

const snapshotVersion = 1

// Store persists snapshots to a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string     // directory containing snapshot.json
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

// Save atomically replaces the stored snapshot.
func (s *Store) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.Version = snapshotVersion
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	path := filepath.Join(s.dir, snapshotFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load restores the last snapshot from disk.
// Returns nil, nil if nothing has been saved yet (fresh deployment).
func (s *Store) Load() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d not supported", snap.Version)
	}
	return &snap, nil
}
