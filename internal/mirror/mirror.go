// Package mirror keeps local working copies of the roster and config
// documents for offline editing, pushing local edits back under optimistic
// concurrency. A conflicted file keeps its local content and is never
// clobbered by later pulls until the conflict is resolved.
package mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/seamosgenios/credport/internal/ghstore"
)

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	LocalDir   string
	RosterPath string
	ConfigPath string
	StateFile  string
	Message    string
	Credential string
	Logger     Logger
}

type Mirror struct {
	store      ghstore.Store
	localDir   string
	stateFile  string
	message    string
	credential string
	logger     Logger
	remote     []string

	mu     sync.Mutex
	state  mirrorState
	loaded bool
}

type mirrorState struct {
	Files map[string]trackedDoc `json:"files"`
}

type trackedDoc struct {
	Revision string `json:"revision"`
	Hash     string `json:"hash"`
	Dirty    bool   `json:"dirty,omitempty"`
}

func New(store ghstore.Store, opts Options) (*Mirror, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	localDir := strings.TrimSpace(opts.LocalDir)
	if localDir == "" {
		return nil, fmt.Errorf("local dir is required")
	}
	localDir = filepath.Clean(localDir)
	rosterPath := strings.TrimSpace(opts.RosterPath)
	if rosterPath == "" {
		rosterPath = "public/estudiantes.json"
	}
	configPath := strings.TrimSpace(opts.ConfigPath)
	if configPath == "" {
		configPath = "public/config.json"
	}
	stateFile := strings.TrimSpace(opts.StateFile)
	if stateFile == "" {
		stateFile = filepath.Join(localDir, ".credport-mirror-state.json")
	}
	message := strings.TrimSpace(opts.Message)
	if message == "" {
		message = "Mirror edit"
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, err
	}
	return &Mirror{
		store:      store,
		localDir:   localDir,
		stateFile:  stateFile,
		message:    message,
		credential: opts.Credential,
		logger:     opts.Logger,
		remote:     []string{rosterPath, configPath},
		state:      mirrorState{Files: map[string]trackedDoc{}},
	}, nil
}

// LocalPath returns where a remote document is mirrored on disk.
func (m *Mirror) LocalPath(remotePath string) string {
	return filepath.Join(m.localDir, filepath.Base(remotePath))
}

// SyncOnce pushes dirty local edits, then pulls remote content for every
// clean document.
func (m *Mirror) SyncOnce(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadStateLocked(); err != nil {
		return err
	}
	conflicted := map[string]struct{}{}
	for _, remotePath := range m.remote {
		if err := m.pushLocked(ctx, remotePath, conflicted); err != nil {
			return err
		}
	}
	for _, remotePath := range m.remote {
		if err := m.pullLocked(ctx, remotePath, conflicted); err != nil {
			return err
		}
	}
	return m.saveStateLocked()
}

func (m *Mirror) pushLocked(ctx context.Context, remotePath string, conflicted map[string]struct{}) error {
	localPath := m.LocalPath(remotePath)
	content, err := os.ReadFile(localPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	hash := hashBytes(content)
	tracked, exists := m.state.Files[remotePath]
	if exists && tracked.Hash == hash && !tracked.Dirty {
		return nil
	}

	if exists && tracked.Dirty {
		// A previous conflict: if the remote caught up to our content the
		// conflict resolved itself, adopt the new revision and move on.
		remote, readErr := m.store.Get(ctx, remotePath)
		if readErr == nil && hashBytes(remote.Content) == hash {
			revision, statErr := m.store.Stat(ctx, remotePath, m.credential)
			if statErr == nil {
				m.state.Files[remotePath] = trackedDoc{Revision: revision, Hash: hash}
				return nil
			}
		}
	}

	baseRevision := ""
	if exists {
		baseRevision = tracked.Revision
	}
	newRevision, err := m.store.Put(ctx, remotePath, content, baseRevision, m.message, m.credential)
	if err != nil {
		if errors.Is(err, ghstore.ErrConflict) {
			m.logf("conflict pushing %s; keeping local content", remotePath)
			conflicted[remotePath] = struct{}{}
			tracked.Hash = hash
			tracked.Dirty = true
			m.state.Files[remotePath] = tracked
			return nil
		}
		return err
	}
	m.state.Files[remotePath] = trackedDoc{Revision: newRevision, Hash: hash}
	return nil
}

func (m *Mirror) pullLocked(ctx context.Context, remotePath string, conflicted map[string]struct{}) error {
	if _, skip := conflicted[remotePath]; skip {
		return nil
	}
	if tracked, ok := m.state.Files[remotePath]; ok && tracked.Dirty {
		return nil
	}
	doc, err := m.store.Get(ctx, remotePath)
	if err != nil {
		if errors.Is(err, ghstore.ErrNotFound) {
			return nil
		}
		return err
	}
	revision, err := m.store.Stat(ctx, remotePath, m.credential)
	if err != nil {
		if errors.Is(err, ghstore.ErrNotFound) {
			return nil
		}
		return err
	}
	hash := hashBytes(doc.Content)
	localPath := m.LocalPath(remotePath)
	if current, readErr := os.ReadFile(localPath); readErr != nil || hashBytes(current) != hash {
		if err := writeFileAtomic(localPath, doc.Content, 0o644); err != nil {
			return err
		}
	}
	m.state.Files[remotePath] = trackedDoc{Revision: revision, Hash: hash}
	return nil
}

// Dirty lists the remote paths with unresolved conflicts.
func (m *Mirror) Dirty() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadStateLocked(); err != nil {
		return nil
	}
	var out []string
	for _, remotePath := range m.remote {
		if tracked, ok := m.state.Files[remotePath]; ok && tracked.Dirty {
			out = append(out, remotePath)
		}
	}
	return out
}

func (m *Mirror) loadStateLocked() error {
	if m.loaded {
		return nil
	}
	data, err := os.ReadFile(m.stateFile)
	if os.IsNotExist(err) {
		m.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	var state mirrorState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode mirror state %s: %w", m.stateFile, err)
	}
	if state.Files == nil {
		state.Files = map[string]trackedDoc{}
	}
	m.state = state
	m.loaded = true
	return nil
}

func (m *Mirror) saveStateLocked() error {
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(m.stateFile, data, 0o644)
}

func (m *Mirror) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".mirror-*")
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
