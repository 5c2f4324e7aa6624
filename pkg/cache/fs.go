package cache

import (
	"context"
	"os"
	"path/filepath"
)

// FSStore caches listings as JSON files under
// root/{reference}/{vehicleType}/{name}.json.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-backed listing cache rooted at root.
func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

func (s *FSStore) path(key Key) string {
	return filepath.Join(s.root, key.Reference, key.VehicleType, key.Name+".json")
}

// Get implements Store.
func (s *FSStore) Get(_ context.Context, key Key) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			Misses.WithLabelValues("fs").Inc()
			return nil, ErrCacheMiss
		}
		Errors.WithLabelValues("fs", "get").Inc()
		return nil, err
	}
	Hits.WithLabelValues("fs").Inc()
	return data, nil
}

// Set implements Store.
func (s *FSStore) Set(_ context.Context, key Key, data []byte) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		Errors.WithLabelValues("fs", "set").Inc()
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		Errors.WithLabelValues("fs", "set").Inc()
		return err
	}
	return nil
}
