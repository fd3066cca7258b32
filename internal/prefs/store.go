// Package prefs keeps the controller's runtime settings (service exposure, log level,
// Wi-Fi credentials and bonded peers) across restarts in a small YAML file.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// WifiCredentials are the stored station credentials
type WifiCredentials struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
	Hidden   bool   `yaml:"hidden,omitempty"`
}

type data struct {
	Exposures map[string]bool  `yaml:"exposures,omitempty"`
	LogLevel  *int             `yaml:"log_level,omitempty"`
	Wifi      *WifiCredentials `yaml:"wifi,omitempty"`
	Bonds     []string         `yaml:"bonds,omitempty"`
}

// Store is a preferences store. Every mutation is written through to the file;
// a store without a path lives in memory only.
type Store struct {
	path   string
	logger *logrus.Logger

	mu   sync.Mutex
	data data
}

// Open loads the store at path. A missing file yields an empty store; an empty path
// yields an in-memory store.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Store{path: path, logger: logger}
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.WithField("path", path).Debug("No preferences stored yet")
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading preferences: %w", err)
	}
	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parsing preferences %s: %w", path, err)
	}

	logger.WithFields(logrus.Fields{
		"path":  path,
		"bonds": len(s.data.Bonds),
	}).Debug("Preferences loaded")
	return s, nil
}

// Memory returns an in-memory store
func Memory() *Store {
	s, _ := Open("", nil)
	return s
}

// Path returns the backing file, empty for an in-memory store
func (s *Store) Path() string {
	return s.path
}

// Exposure returns the stored state of the named exposure flag
func (s *Store) Exposure(name string) (on bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	on, ok = s.data.Exposures[name]
	return on, ok
}

// SetExposure stores the state of the named exposure flag
func (s *Store) SetExposure(name string, on bool) error {
	return s.update(func(d *data) {
		if d.Exposures == nil {
			d.Exposures = make(map[string]bool)
		}
		d.Exposures[name] = on
	})
}

// LogLevel returns the stored log level
func (s *Store) LogLevel() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.LogLevel == nil {
		return 0, false
	}
	return *s.data.LogLevel, true
}

// SetLogLevel stores the log level
func (s *Store) SetLogLevel(level int) error {
	return s.update(func(d *data) { d.LogLevel = &level })
}

// Wifi returns the stored credentials
func (s *Store) Wifi() (WifiCredentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Wifi == nil {
		return WifiCredentials{}, false
	}
	return *s.data.Wifi, true
}

// SetWifi stores credentials, replacing any previous ones
func (s *Store) SetWifi(creds WifiCredentials) error {
	return s.update(func(d *data) { d.Wifi = &creds })
}

// ClearWifi forgets the credentials
func (s *Store) ClearWifi() error {
	return s.update(func(d *data) { d.Wifi = nil })
}

// Has reports whether peer is bonded
func (s *Store) Has(peer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return indexOf(s.data.Bonds, strings.ToLower(peer)) >= 0
}

// Add remembers peer as bonded
func (s *Store) Add(peer string) error {
	peer = strings.ToLower(peer)
	return s.update(func(d *data) {
		if indexOf(d.Bonds, peer) < 0 {
			d.Bonds = append(d.Bonds, peer)
		}
	})
}

// List returns bonded peers in bonding order
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.data.Bonds...)
}

// Clear forgets all bonded peers
func (s *Store) Clear() error {
	return s.update(func(d *data) { d.Bonds = nil })
}

func (s *Store) update(fn func(d *data)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.data)
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	raw, err := yaml.Marshal(&s.data)
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating preferences directory: %w", err)
	}

	// write-then-rename
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("writing preferences: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("writing preferences: %w", err)
	}
	return nil
}

func indexOf(items []string, item string) int {
	for i, v := range items {
		if v == item {
			return i
		}
	}
	return -1
}
