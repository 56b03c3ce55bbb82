// Package localstore keeps a local JSON copy of the tracker state so it can
// be shown while the record store is unreachable.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zulandar/great12/internal/view"
)

// Key names the stored blob.
const Key = "great12_data"

// File stores one snapshot at <dir>/great12_data.json.
type File struct {
	path string
}

// New returns a File rooted at dir. The directory is created on first Save.
func New(dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("localstore: dir is required")
	}
	return &File{path: filepath.Join(dir, Key+".json")}, nil
}

// Path returns the snapshot file location.
func (f *File) Path() string { return f.path }

// Load reads the saved snapshot. ok is false when nothing has been saved.
func (f *File) Load() (state view.TrackerState, ok bool, err error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return view.TrackerState{}, false, nil
	}
	if err != nil {
		return view.TrackerState{}, false, fmt.Errorf("localstore: read %s: %w", f.path, err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return view.TrackerState{}, false, fmt.Errorf("localstore: parse %s: %w", f.path, err)
	}
	if state.Goals == nil {
		state.Goals = []view.Goal{}
	}
	if state.Weeks == nil {
		state.Weeks = map[int]view.WeekData{}
	}
	return state, true, nil
}

// Save replaces the snapshot atomically.
func (f *File) Save(state view.TrackerState) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("localstore: create dir: %w", err)
	}
	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("localstore: marshal: %w", err)
	}
	out = append(out, '\n')
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return fmt.Errorf("localstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("localstore: replace %s: %w", f.path, err)
	}
	return nil
}

// Clear removes the snapshot. Clearing an empty store is not an error.
func (f *File) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("localstore: remove %s: %w", f.path, err)
	}
	return nil
}
