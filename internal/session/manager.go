package session

import (
	"log/slog"
	"sync"

	"github.com/varden/mindloom/internal/storage"
)

// Manager tracks open sessions, one per map path.
type Manager struct {
	store storage.Provider
	opts  Options

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager over the given store.
func NewManager(store storage.Provider, opts Options) *Manager {
	return &Manager{
		store:    store,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Open returns the existing session for path, or opens a new one.
func (m *Manager) Open(path string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[path]; ok {
		return s, nil
	}
	s, err := Open(m.store, path, m.opts)
	if err != nil {
		return nil, err
	}
	m.sessions[path] = s
	return s, nil
}

// Get returns the open session for path, if any.
func (m *Manager) Get(path string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[path]
	return s, ok
}

// Close tears down the session for path, if open.
func (m *Manager) Close(path string) {
	m.mu.Lock()
	s, ok := m.sessions[path]
	delete(m.sessions, path)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// CloseAll tears down every open session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}

// HandleFileEvent reconciles an open session with a watcher-reported file
// change. Deletions close the session; writes trigger an external reload
// (ignored when the on-disk text matches the session baseline, i.e. the
// change was the session's own save).
func (m *Manager) HandleFileEvent(kind, path string, logger *slog.Logger) {
	s, ok := m.Get(path)
	if !ok {
		return
	}
	switch kind {
	case "deleted":
		logger.Info("session: backing file deleted, closing", slog.String("path", path))
		m.Close(path)
	case "created", "updated":
		if err := s.ReloadFromDisk(); err != nil {
			logger.Warn("session: external reload failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
}
