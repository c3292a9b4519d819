package session

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fieldterm/fieldterm/internal/adapters/realfs"
	"github.com/fieldterm/fieldterm/internal/ports"
)

// Prefs holds per-session display preferences restored across app restarts.
type Prefs struct {
	Title        string `json:"title,omitempty"`
	AgentSession bool   `json:"agent_session,omitempty"`
}

// PrefsStore persists session preferences keyed by connection and remote
// session ID.
type PrefsStore struct {
	path  string
	prefs map[string]Prefs
	mu    sync.RWMutex
	fs    ports.FileSystem
}

// PrefsStoreOption configures a PrefsStore.
type PrefsStoreOption func(*PrefsStore)

// WithFileSystem sets the filesystem used by PrefsStore.
func WithFileSystem(fs ports.FileSystem) PrefsStoreOption {
	return func(s *PrefsStore) {
		s.fs = fs
	}
}

// WithStorePath sets a custom storage path (for testing).
func WithStorePath(path string) PrefsStoreOption {
	return func(s *PrefsStore) {
		s.path = path
	}
}

// NewPrefsStore creates a preferences store at the default path and loads
// any existing entries.
func NewPrefsStore(opts ...PrefsStoreOption) *PrefsStore {
	store := &PrefsStore{
		prefs: make(map[string]Prefs),
		fs:    realfs.New(),
	}

	for _, opt := range opts {
		opt(store)
	}

	if store.path == "" {
		store.path = store.defaultPath()
	}

	store.load()

	return store
}

func (s *PrefsStore) defaultPath() string {
	home, err := s.fs.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}

	dir := filepath.Join(home, ".cache", "fieldterm")
	if err := s.fs.MkdirAll(dir, 0700); err != nil {
		slog.Warn("failed to create cache dir, using /tmp", slog.String("error", err.Error()))
		dir = "/tmp"
	}

	return filepath.Join(dir, "prefs.json")
}

// prefsKey builds the map key for one remote session on one connection.
func prefsKey(connectionID, sessionID string) string {
	return connectionID + "/" + sessionID
}

// Save persists preferences for one session.
func (s *PrefsStore) Save(connectionID, sessionID string, p Prefs) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs[prefsKey(connectionID, sessionID)] = p
	s.persist()
}

// Get retrieves preferences for one session.
func (s *PrefsStore) Get(connectionID, sessionID string) (Prefs, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prefs[prefsKey(connectionID, sessionID)]
	return p, ok
}

// Delete removes preferences for one session.
func (s *PrefsStore) Delete(connectionID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.prefs, prefsKey(connectionID, sessionID))
	s.persist()
}

func (s *PrefsStore) load() {
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to load prefs store", slog.String("error", err.Error()))
		}
		return
	}

	if err := json.Unmarshal(data, &s.prefs); err != nil {
		slog.Warn("failed to parse prefs store", slog.String("error", err.Error()))
		s.prefs = make(map[string]Prefs)
	}
}

func (s *PrefsStore) persist() {
	data, err := json.MarshalIndent(s.prefs, "", "  ")
	if err != nil {
		slog.Warn("failed to marshal prefs store", slog.String("error", err.Error()))
		return
	}

	if err := s.fs.WriteFile(s.path, data, 0600); err != nil {
		slog.Warn("failed to write prefs store", slog.String("error", err.Error()))
	}
}
