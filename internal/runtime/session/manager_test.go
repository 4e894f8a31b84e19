package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dachongbaba/openbotgate/internal/common/config"
	"github.com/dachongbaba/openbotgate/internal/common/logger"
)

func newTestManager(t *testing.T, path string) *Manager {
	t.Helper()
	m, err := NewManager(config.SessionsConfig{FilePath: path, SaveDebounce: 50}, "claudecode", logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestGetSessionDefaults(t *testing.T) {
	m := newTestManager(t, "")

	s := m.GetSession("u1")
	assert.Equal(t, UserSession{Tool: "claudecode"}, s)
	assert.Equal(t, []string{"u1"}, m.Users())
}

func TestGetSessionReturnsCopy(t *testing.T) {
	m := newTestManager(t, "")
	s := m.GetSession("u1")
	s.Tool = "mutated"
	assert.Equal(t, "claudecode", m.GetSession("u1").Tool)
}

func TestUpdateSessionShallowMerge(t *testing.T) {
	m := newTestManager(t, "")
	m.UpdateSession("u1", Patch{Model: String("opus"), Cwd: String("/repo")})

	s := m.UpdateSession("u1", Patch{SessionID: String("abc")})

	assert.Equal(t, UserSession{Tool: "claudecode", SessionID: "abc", Model: "opus", Cwd: "/repo"}, s)
}

func TestResetSessionKeepsToolAndCwd(t *testing.T) {
	m := newTestManager(t, "")
	m.UpdateSession("u1", Patch{
		Tool:                String("codex"),
		SessionID:           String("abc"),
		Model:               String("o3"),
		Agent:               String("plan"),
		Cwd:                 String("/repo"),
		NewSessionRequested: Bool(true),
	})

	s := m.ResetSession("u1")

	assert.Equal(t, UserSession{Tool: "codex", Cwd: "/repo"}, s)
}

func TestRequestNewSession(t *testing.T) {
	m := newTestManager(t, "")
	m.UpdateSession("u2", Patch{SessionID: String("old"), Model: String("m"), Agent: String("a")})

	m.RequestNewSession("u2")
	s := m.GetSession("u2")
	assert.True(t, s.NewSessionRequested)
	assert.Empty(t, s.SessionID)
	assert.Empty(t, s.Model)
	assert.Empty(t, s.Agent)

	m.ClearNewSessionRequest("u2")
	s = m.UpdateSession("u2", Patch{SessionID: String("fresh")})
	assert.False(t, s.NewSessionRequested)
	assert.Equal(t, "fresh", s.SessionID)
}

func TestFullReset(t *testing.T) {
	m := newTestManager(t, "")
	m.UpdateSession("u1", Patch{Tool: String("codex"), Cwd: String("/repo"), SessionID: String("x")})

	s := m.FullReset("u1")

	assert.Equal(t, UserSession{Tool: "claudecode"}, s)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "sessions.json")
	m := newTestManager(t, path)
	m.UpdateSession("u1", Patch{Tool: String("codex"), SessionID: String("abc"), Model: String("o3"), Cwd: String("/repo")})
	m.RequestNewSession("u2")
	m.UpdateSession("u3", Patch{Agent: String("plan")})
	require.NoError(t, m.Close())

	reloaded := newTestManager(t, path)
	for _, id := range []string{"u1", "u2", "u3"} {
		assert.Equal(t, m.GetSession(id), reloaded.GetSession(id), id)
	}
	assert.Equal(t, []string{"u1", "u2", "u3"}, reloaded.Users())
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"u1":{"sessionId":"abc"},"u2":{"tool":"codex","unknownField":1}}`), 0o644))

	m := newTestManager(t, path)

	assert.Equal(t, UserSession{Tool: "claudecode", SessionID: "abc"}, m.GetSession("u1"))
	assert.Equal(t, UserSession{Tool: "codex"}, m.GetSession("u2"))
}

func TestLoadIgnoresCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))

	m := newTestManager(t, path)

	assert.Equal(t, UserSession{Tool: "claudecode"}, m.GetSession("u1"))
}

func TestDebounceCoalescesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	m := newTestManager(t, path)

	for i := 0; i < 20; i++ {
		m.UpdateSession("u1", Patch{SessionID: String(string(rune('a' + i)))})
	}
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "write must wait for the debounce window")

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, m.Flush())
	assert.Equal(t, 1, m.writes)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var stored map[string]UserSession
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, "t", stored["u1"].SessionID)
}

func TestFlushWritesImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	m, err := NewManager(config.SessionsConfig{FilePath: path, SaveDebounce: 60000}, "opencode", logger.NewNop())
	require.NoError(t, err)
	defer m.Close()

	m.UpdateSession("u1", Patch{Model: String("m")})
	require.NoError(t, m.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"model": "m"`)
}

func TestCloseFlushesPendingWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	m, err := NewManager(config.SessionsConfig{FilePath: path, SaveDebounce: 60000}, "opencode", logger.NewNop())
	require.NoError(t, err)

	m.UpdateSession("u1", Patch{Cwd: String("/work")})
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cwd": "/work"`)
}
