package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dachongbaba/openbotgate/internal/common/config"
	"github.com/dachongbaba/openbotgate/internal/common/logger"
)

// Manager is the in-memory source of truth for user sessions. Mutations mark
// the store dirty; a single writer goroutine owns the file and writes the
// full map once the debounce window passes without further changes.
type Manager struct {
	path        string
	debounce    time.Duration
	defaultTool string
	logger      *logger.Logger

	mu       sync.Mutex
	sessions map[string]*UserSession

	dirty   chan struct{}
	flushCh chan chan error
	closeCh chan struct{}
	stopped chan struct{}
	once    sync.Once
	lastErr error
	writes  int // successful saves, owned by the writer goroutine
}

// NewManager loads the session file, if any, and starts the writer.
func NewManager(cfg config.SessionsConfig, defaultTool string, log *logger.Logger) (*Manager, error) {
	debounce := cfg.SaveDebounceDuration()
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	m := &Manager{
		path:        cfg.FilePath,
		debounce:    debounce,
		defaultTool: defaultTool,
		logger:      log.WithFields(zap.String("component", "session-manager")),
		sessions:    make(map[string]*UserSession),
		dirty:       make(chan struct{}, 1),
		flushCh:     make(chan chan error),
		closeCh:     make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	go m.run()
	return m, nil
}

func (m *Manager) defaults() UserSession {
	return UserSession{Tool: m.defaultTool}
}

// GetSession returns the user's session, creating it with defaults on first access.
func (m *Manager) GetSession(userID string) UserSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.getLocked(userID)
}

// UpdateSession shallow-merges patch into the user's session.
func (m *Manager) UpdateSession(userID string, patch Patch) UserSession {
	return m.mutate(userID, patch.apply)
}

// ResetSession clears the session id, model, agent and new-session flag.
// Tool and working directory are kept.
func (m *Manager) ResetSession(userID string) UserSession {
	return m.mutate(userID, func(s *UserSession) {
		s.SessionID = ""
		s.Model = ""
		s.Agent = ""
		s.NewSessionRequested = false
	})
}

// RequestNewSession makes the next tool run start a fresh conversation.
func (m *Manager) RequestNewSession(userID string) UserSession {
	return m.mutate(userID, func(s *UserSession) {
		s.NewSessionRequested = true
		s.SessionID = ""
		s.Model = ""
		s.Agent = ""
	})
}

// ClearNewSessionRequest drops the new-session flag.
func (m *Manager) ClearNewSessionRequest(userID string) UserSession {
	return m.mutate(userID, func(s *UserSession) {
		s.NewSessionRequested = false
	})
}

// FullReset returns the user to defaults, including tool and working directory.
func (m *Manager) FullReset(userID string) UserSession {
	m.mu.Lock()
	delete(m.sessions, userID)
	s := *m.getLocked(userID)
	m.mu.Unlock()
	m.markDirty()
	return s
}

// Users returns the ids of all known users, sorted.
func (m *Manager) Users() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Flush writes pending changes immediately.
func (m *Manager) Flush() error {
	reply := make(chan error, 1)
	select {
	case m.flushCh <- reply:
		return <-reply
	case <-m.stopped:
		return m.lastErr
	}
}

// Close writes pending changes and stops the writer. Later mutations stay in memory only.
func (m *Manager) Close() error {
	m.once.Do(func() { close(m.closeCh) })
	<-m.stopped
	return m.lastErr
}

func (m *Manager) getLocked(userID string) *UserSession {
	s, ok := m.sessions[userID]
	if !ok {
		d := m.defaults()
		s = &d
		m.sessions[userID] = s
	}
	return s
}

func (m *Manager) mutate(userID string, fn func(*UserSession)) UserSession {
	m.mu.Lock()
	s := m.getLocked(userID)
	fn(s)
	out := *s
	m.mu.Unlock()
	m.markDirty()
	return out
}

func (m *Manager) markDirty() {
	select {
	case m.dirty <- struct{}{}:
	default:
	}
}

// run is the writer loop. It is the only goroutine touching the file.
func (m *Manager) run() {
	defer close(m.stopped)
	timer := time.NewTimer(m.debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-m.dirty:
			pending = true
			timer.Reset(m.debounce)
		case <-timer.C:
			if pending {
				pending = false
				m.lastErr = m.save()
			}
		case reply := <-m.flushCh:
			timer.Stop()
			drain(m.dirty, &pending)
			var err error
			if pending {
				pending = false
				err = m.save()
				m.lastErr = err
			}
			reply <- err
		case <-m.closeCh:
			timer.Stop()
			drain(m.dirty, &pending)
			if pending {
				m.lastErr = m.save()
			}
			return
		}
	}
}

func drain(dirty <-chan struct{}, pending *bool) {
	select {
	case <-dirty:
		*pending = true
	default:
	}
}

func (m *Manager) load() error {
	if m.path == "" {
		return nil
	}
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read session file: %w", err)
	}

	var stored map[string]json.RawMessage
	if err := json.Unmarshal(data, &stored); err != nil {
		m.logger.Warn("ignoring unreadable session file", zap.String("path", m.path), zap.Error(err))
		return nil
	}
	for userID, raw := range stored {
		s := m.defaults()
		if err := json.Unmarshal(raw, &s); err != nil {
			m.logger.Warn("skipping unreadable session", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		m.sessions[userID] = &s
	}
	m.logger.Info("loaded sessions", zap.String("path", m.path), zap.Int("count", len(m.sessions)))
	return nil
}

// save writes the full map atomically: temp file in the same directory, then rename.
func (m *Manager) save() error {
	if m.path == "" {
		return nil
	}
	m.mu.Lock()
	snapshot := make(map[string]UserSession, len(m.sessions))
	for id, s := range m.sessions {
		snapshot[id] = *s
	}
	m.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.logger.Error("failed to create session directory", zap.String("dir", dir), zap.Error(err))
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".*.tmp")
	if err != nil {
		m.logger.Error("failed to save sessions", zap.Error(err))
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmpName)
		m.logger.Error("failed to save sessions", zap.Error(err))
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		_ = os.Remove(tmpName)
		m.logger.Error("failed to save sessions", zap.Error(err))
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	m.writes++
	m.logger.Debug("saved sessions", zap.Int("count", len(snapshot)))
	return nil
}
