package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Prefs are the choices a user makes while reviewing, kept between runs.
type Prefs struct {
	Field   string  `yaml:"field"`
	Pattern string  `yaml:"pattern"`
	Rate    float64 `yaml:"rate"`
	Volume  float64 `yaml:"volume"`
	Muted   bool    `yaml:"muted"`
}

func DefaultPrefs() Prefs {
	return Prefs{Pattern: DefaultPattern, Rate: 1, Volume: 1}
}

// PrefStore holds Prefs in memory and writes them back to a YAML file on
// every update.
type PrefStore struct {
	path  string
	mu    sync.RWMutex
	prefs Prefs
}

// OpenPrefs loads the preferences at path. A missing file gives the defaults.
func OpenPrefs(path string) (*PrefStore, error) {
	s := &PrefStore{path: path, prefs: DefaultPrefs()}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.prefs); err != nil {
		return nil, fmt.Errorf("failed to parse preferences: %w", err)
	}
	if s.prefs.Pattern == "" {
		s.prefs.Pattern = DefaultPattern
	}
	return s, nil
}

func (s *PrefStore) Get() Prefs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// Update applies fn and saves the result.
func (s *PrefStore) Update(fn func(*Prefs)) error {
	s.mu.Lock()
	fn(&s.prefs)
	s.mu.Unlock()
	return s.Save()
}

func (s *PrefStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}
	data, err := yaml.Marshal(s.prefs)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return nil
}
