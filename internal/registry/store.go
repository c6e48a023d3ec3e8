package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"llmtrayd/pkg/types"
)

// State is the durable registry document: connection list plus active set.
type State struct {
	Connections []types.Connection `json:"connections"`
	Active      []string           `json:"active"`
}

// Store persists registry state. Save must complete before a mutation is
// acknowledged to the caller.
type Store interface {
	Load() (State, error)
	Save(State) error
}

// FileStore keeps the state as one JSON document on disk.
type FileStore struct {
	path string
}

// NewFileStore resolves the path (expanding a leading '~') and ensures the
// parent directory exists.
func NewFileStore(path string) (*FileStore, error) {
	p, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	return &FileStore{path: p}, nil
}

// Load reads the state document. A missing file yields an empty state.
func (s *FileStore) Load() (State, error) {
	var st State
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, err
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

// Save writes the document via a temp file and rename so a crash mid-write
// never leaves a torn state file.
func (s *FileStore) Save(st State) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// expandHome expands a leading '~' to the user's home directory.
func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}
