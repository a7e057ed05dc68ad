package theme

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore keeps preferences in a single YAML file.
type FileStore struct {
	mu    sync.Mutex
	path  string
	prefs map[string]Theme
}

// OpenFileStore loads path if it exists.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, prefs: make(map[string]Theme)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &s.prefs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if s.prefs == nil {
		s.prefs = make(map[string]Theme)
	}
	return s, nil
}

func (s *FileStore) Load(key string) (Theme, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.prefs[key]
	if !ok {
		return "", false, nil
	}
	if _, err := Parse(string(t)); err != nil {
		return "", false, nil
	}
	return t, true, nil
}

// Save persists t for key. Only clients that pick a theme are stored; the
// in-memory view changes only after the file is written.
func (s *FileStore) Save(key string, t Theme) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]Theme, len(s.prefs)+1)
	for k, v := range s.prefs {
		next[k] = v
	}
	next[key] = t
	if err := s.flush(next); err != nil {
		return err
	}
	s.prefs = next
	return nil
}

func (s *FileStore) flush(prefs map[string]Theme) error {
	data, err := yaml.Marshal(prefs)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// MemoryStore keeps preferences in memory.
type MemoryStore struct {
	mu    sync.Mutex
	prefs map[string]Theme
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prefs: make(map[string]Theme)}
}

func (s *MemoryStore) Load(key string) (Theme, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.prefs[key]
	return t, ok, nil
}

func (s *MemoryStore) Save(key string, t Theme) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[key] = t
	return nil
}
