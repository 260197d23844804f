// Package prefs persists best-effort local preferences between runs: UI mode,
// write credential, notification watermark and the last search result. The
// roster itself is never stored here.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrInvalidInput = errors.New("invalid input")

type Preferences struct {
	ViewMode       string          `json:"viewMode,omitempty"`
	Credential     string          `json:"credential,omitempty"`
	LastNotifiedID int64           `json:"lastNotifiedId,omitempty"`
	LastResult     json.RawMessage `json:"lastResult,omitempty"`
}

// Backend stores one Preferences snapshot. Load returns (nil, nil) when
// nothing has been saved yet.
type Backend interface {
	Load() (*Preferences, error)
	Save(prefs *Preferences) error
}

type InMemoryBackend struct {
	mu       sync.Mutex
	snapshot *Preferences
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{}
}

func (b *InMemoryBackend) Load() (*Preferences, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	clone := *b.snapshot
	return &clone, nil
}

func (b *InMemoryBackend) Save(prefs *Preferences) error {
	if prefs == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	clone := *prefs
	b.snapshot = &clone
	return nil
}

type JSONFileBackend struct {
	path string
	mu   sync.Mutex
}

func NewJSONFileBackend(path string) *JSONFileBackend {
	return &JSONFileBackend{path: path}
}

func (b *JSONFileBackend) Load() (*Preferences, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var prefs Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.path, err)
	}
	return &prefs, nil
}

func (b *JSONFileBackend) Save(prefs *Preferences) error {
	if prefs == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(b.path, data, 0o600)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".prefs-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// BuildBackendFromDSN selects a backend by scheme: a bare path or file:// is
// the JSON file backend, memory:// is in-memory, postgres:// shares state
// through a database. An empty DSN returns (nil, nil); callers fall back to
// their default.
func BuildBackendFromDSN(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "", "file":
		path := parsed.Path
		if parsed.Opaque != "" {
			path = parsed.Opaque
		}
		if path == "" {
			path = dsn
		}
		return NewJSONFileBackend(path), nil
	case "memory", "mem", "inmem":
		return NewInMemoryBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresBackend(dsn)
	default:
		return nil, fmt.Errorf("unsupported prefs backend scheme: %s", scheme)
	}
}

// Store is a typed view over a Backend with read-through caching. All writes
// persist immediately; persistence failures are returned but callers treat
// them as best-effort.
type Store struct {
	backend Backend

	mu     sync.Mutex
	prefs  Preferences
	loaded bool
}

func NewStore(backend Backend) *Store {
	if backend == nil {
		backend = NewInMemoryBackend()
	}
	return &Store{backend: backend}
}

func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	snapshot, err := s.backend.Load()
	if err != nil {
		return err
	}
	if snapshot != nil {
		s.prefs = *snapshot
	}
	s.loaded = true
	return nil
}

func (s *Store) update(mutate func(p *Preferences)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	mutate(&s.prefs)
	clone := s.prefs
	return s.backend.Save(&clone)
}

func (s *Store) ViewMode() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return "", err
	}
	return s.prefs.ViewMode, nil
}

func (s *Store) SetViewMode(mode string) error {
	return s.update(func(p *Preferences) { p.ViewMode = mode })
}

func (s *Store) Credential() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return "", err
	}
	return s.prefs.Credential, nil
}

func (s *Store) SetCredential(credential string) error {
	return s.update(func(p *Preferences) { p.Credential = credential })
}

func (s *Store) LastNotifiedID() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return 0, err
	}
	return s.prefs.LastNotifiedID, nil
}

// SetLastNotifiedID persists the notification watermark. It never decreases.
func (s *Store) SetLastNotifiedID(id int64) error {
	return s.update(func(p *Preferences) {
		if id > p.LastNotifiedID {
			p.LastNotifiedID = id
		}
	})
}

func (s *Store) LastResult() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	return append(json.RawMessage(nil), s.prefs.LastResult...), nil
}

func (s *Store) SetLastResult(result json.RawMessage) error {
	return s.update(func(p *Preferences) {
		p.LastResult = append(json.RawMessage(nil), result...)
	})
}
