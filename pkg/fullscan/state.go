// Package fullscan walks every vehicle type under a strict daily call
// budget, persisting a checkpoint after each row so the scan can resume
// on the following day exactly where it paused.
package fullscan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultStatePath is where the resumable checkpoint lives.
const DefaultStatePath = ".state/full_scan.json"

// Checkpoint is the persisted scan position. Indices address the
// depth-first position (type, brand, model, year option); Used counts
// calls already spent on Date.
type Checkpoint struct {
	Date       string `json:"date"`
	Used       int    `json:"used"`
	TypeIndex  int    `json:"type_index"`
	BrandIndex int    `json:"brand_index"`
	ModelIndex int    `json:"model_index"`
	YearIndex  int    `json:"year_index"`
	Reference  string `json:"reference"`
	OutDir     string `json:"out_dir"`
}

// StateManager handles saving and loading the scan checkpoint.
type StateManager struct {
	path string
}

// NewStateManager creates a state manager for the given checkpoint path.
func NewStateManager(path string) *StateManager {
	if path == "" {
		path = DefaultStatePath
	}
	return &StateManager{path: path}
}

// Load returns the saved checkpoint, or nil when none exists.
func (m *StateManager) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Save persists the checkpoint atomically enough for a single-writer
// crawler: full rewrite of a small JSON file.
func (m *StateManager) Save(cp *Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint after a completed scan.
func (m *StateManager) Clear() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
