// Package store persists tracked order state across restarts.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"trading-connector-go/order"
)

// stateFile is the on-disk document. Timestamp records when the snapshot
// was taken, not when individual orders last changed.
type stateFile struct {
	Timestamp int64                     `json:"timestamp"`
	Orders    map[string]order.Snapshot `json:"orders"`
}

// FileStore writes order snapshots to a single JSON file. Writes go
// through a temp file and rename so a crash mid-write never corrupts the
// previous snapshot.
type FileStore struct {
	path string
}

// NewFileStore builds a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string { return s.path }

// Save writes the given order snapshots to disk.
func (s *FileStore) Save(orders map[string]order.Snapshot) error {
	doc := stateFile{
		Timestamp: time.Now().UTC().UnixNano(),
		Orders:    orders,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads the order snapshots from disk. A missing file returns an
// empty map so first boot needs no special casing.
func (s *FileStore) Load() (map[string]order.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]order.Snapshot{}, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var doc stateFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	if doc.Orders == nil {
		doc.Orders = map[string]order.Snapshot{}
	}
	return doc.Orders, nil
}
