package prefs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Prefs are the persisted user choices.
type Prefs struct {
	Consent        bool   `yaml:"consent" json:"consent"`
	LastDirectory  string `yaml:"last_directory,omitempty" json:"last_directory"`
	LastMicrophone string `yaml:"last_microphone,omitempty" json:"last_microphone"`
}

// Store keeps Prefs in a YAML file. Storage failures are logged and
// otherwise ignored; preferences are a convenience, never a blocker.
type Store struct {
	path string

	mu    sync.Mutex
	prefs Prefs
}

// Open loads the store at path. A missing or unreadable file yields defaults.
func Open(path string) *Store {
	s := &Store{path: path}
	p, err := Load(path)
	if err != nil {
		slog.Warn("prefs unreadable, using defaults", "path", path, "error", err)
	}
	s.prefs = p
	return s
}

// Load reads prefs from path. A missing file is not an error.
func Load(path string) (Prefs, error) {
	var p Prefs
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, fmt.Errorf("read prefs file: %w", err)
	}
	if err = yaml.Unmarshal(data, &p); err != nil {
		return Prefs{}, fmt.Errorf("parse prefs file: %w", err)
	}
	return p, nil
}

// Save writes prefs to path, creating its directory.
func Save(path string, p Prefs) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create prefs directory: %w", err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}
	if err = os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write prefs file: %w", err)
	}
	return nil
}

func (s *Store) Get() Prefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// Update applies fn and persists the result immediately.
func (s *Store) Update(fn func(*Prefs)) Prefs {
	s.mu.Lock()
	fn(&s.prefs)
	p := s.prefs
	s.mu.Unlock()

	if s.path == "" {
		return p
	}
	if err := Save(s.path, p); err != nil {
		slog.Warn("prefs not saved", "path", s.path, "error", err)
	}
	return p
}

func (s *Store) SetConsent(v bool) {
	s.Update(func(p *Prefs) { p.Consent = v })
}

func (s *Store) SetLastDirectory(dir string) {
	s.Update(func(p *Prefs) { p.LastDirectory = dir })
}

func (s *Store) SetLastMicrophone(id string) {
	s.Update(func(p *Prefs) { p.LastMicrophone = id })
}
