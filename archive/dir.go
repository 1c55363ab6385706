package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DirStore writes one pretty-printed JSON file per record under a local
// directory, using the canonical object name.
type DirStore struct {
	dir string
}

func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

func (s *DirStore) Save(_ context.Context, rec Record) error {
	path := filepath.Join(s.dir, ObjectName(rec))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}
