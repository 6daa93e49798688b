// Package statestore persists BatchState documents to disk atomically, so a
// crash mid-write never leaves a half-written JSON file for resume to trip
// over: every save writes a ".tmp" sibling, fsyncs it, then renames it over
// the real path.
package statestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
)

// Store is a directory of one JSON file per batch, named "<batch_id>.json".
type Store struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, vmerrors.NewConfigurationError("creating state directory %s: %v", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(batchID string) string {
	return filepath.Join(s.dir, batchID+".json")
}

// Save atomically overwrites the state document for state.BatchID.
func (s *Store) Save(state *v1.BatchState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	final := s.path(state.BatchID)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return vmerrors.NewIntegrityError("opening state tmp file: %v", err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return vmerrors.NewIntegrityError("writing state tmp file: %v", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return vmerrors.NewIntegrityError("fsyncing state tmp file: %v", err)
	}
	if err := f.Close(); err != nil {
		return vmerrors.NewIntegrityError("closing state tmp file: %v", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return vmerrors.NewIntegrityError("renaming state file into place: %v", err)
	}
	return nil
}

// Load reads the state document for batchID.
func (s *Store) Load(batchID string) (*v1.BatchState, error) {
	raw, err := os.ReadFile(s.path(batchID))
	if os.IsNotExist(err) {
		return nil, vmerrors.NewNotFoundError("no state for batch %s", batchID)
	}
	if err != nil {
		return nil, err
	}
	var state v1.BatchState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, vmerrors.NewIntegrityError("state file for batch %s is corrupt: %v", batchID, err)
	}
	return &state, nil
}

// List returns every batch ID with a saved state document.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".json" {
			ids = append(ids, name[:len(name)-len(".json")])
		}
	}
	return ids, nil
}

// Delete removes the state document for batchID.
func (s *Store) Delete(batchID string) error {
	err := os.Remove(s.path(batchID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
