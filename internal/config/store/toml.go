package store

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/kestrelhq/wsgateway/internal/config"
)

// tomlDocument is the on-disk shape: a top-level array of tables, one per
// target, the natural TOML rendering of config.Configuration.Targets.
type tomlDocument struct {
	Targets []config.Target `toml:"targets"`
}

// TOML handles configuration persistence as a single human-editable TOML
// file, offered as a static alternative to the File JSON store for
// operators who hand-maintain their target list.
type TOML struct {
	path string
	mu   sync.RWMutex
}

// NewTOML creates a TOML-backed configuration store at path.
func NewTOML(path string) *TOML {
	return &TOML{path: path}
}

// Load reads the configuration from disk, returning a default
// configuration if the file doesn't exist.
func (s *TOML) Load() (*config.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc tomlDocument
	if _, err := toml.DecodeFile(s.path, &doc); err != nil {
		if os.IsNotExist(err) {
			return config.Default(), nil
		}
		return nil, err
	}
	return &config.Configuration{Targets: doc.Targets}, nil
}

// Save writes the configuration to disk.
func (s *TOML) Save(cfg *config.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(tomlDocument{Targets: cfg.Targets}); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
