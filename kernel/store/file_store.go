package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/hostctl/kernel/model"
)

// FileStore persists resource snapshots as JSON so the last known states can be displayed without
// a running controller. Persisted snapshots are never fed back into a controller.
type FileStore struct {
	Path string
	mu   sync.RWMutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load returns the persisted snapshots sorted by resource id. A missing file yields no snapshots.
func (s *FileStore) Load() ([]model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var snapshots map[string]model.Snapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	result := make([]model.Snapshot, 0, len(snapshots))
	for _, snapshot := range snapshots {
		result = append(result, snapshot)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ResourceId < result[j].ResourceId })
	return result, nil
}

// Save replaces the file contents with the given snapshots.
func (s *FileStore) Save(snapshots []model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byId := make(map[string]model.Snapshot, len(snapshots))
	for _, snapshot := range snapshots {
		byId[snapshot.ResourceId] = snapshot
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(byId, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshots: %w", err)
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Track saves src after every transition until ctx is done.
func (s *FileStore) Track(ctx context.Context, src StateStore) error {
	transitions, cancel := src.Subscribe(64)
	defer cancel()

	if err := s.Save(src.List()); err != nil {
		pfxlog.Logger().WithError(err).Warn("unable to persist initial snapshots")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-transitions:
			if !ok {
				return nil
			}
			if err := s.Save(src.List()); err != nil {
				pfxlog.Logger().WithError(err).WithField("resource", t.ResourceId).Warn("unable to persist snapshots")
			}
		}
	}
}
