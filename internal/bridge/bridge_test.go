package bridge

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dachongbaba/openbotgate/internal/common/config"
	"github.com/dachongbaba/openbotgate/internal/common/logger"
	"github.com/dachongbaba/openbotgate/internal/runtime/executor"
	"github.com/dachongbaba/openbotgate/internal/runtime/session"
	"github.com/dachongbaba/openbotgate/internal/runtime/task"
	"github.com/dachongbaba/openbotgate/internal/runtime/tools"
)

type sent struct {
	title   string
	content string
}

type recorder struct {
	mu      sync.Mutex
	replies []string
	sends   []sent
}

func (r *recorder) Reply(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, text)
	return nil
}

func (r *recorder) Send(_ context.Context, title, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, sent{title: title, content: content})
	return nil
}

func (r *recorder) allReplies() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.replies, "\n")
}

func (r *recorder) allSends() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sends...)
}

func newTestConfig(t *testing.T) *config.Config {
	return &config.Config{
		Execution: config.ExecutionConfig{
			Timeout:         10000,
			MaxOutputLength: 10000,
			KillGrace:       1000,
			HelperTimeout:   5000,
		},
		AllowedCodeTools:     []string{"qwencode", "claudecode"},
		AllowedShellCommands: []string{"git", "echo"},
		Executables:          map[string]string{},
		Tasks:                config.TasksConfig{MaxPerUser: 10, TimeoutSeconds: 60, CleanupInterval: 60},
		Sessions: config.SessionsConfig{
			FilePath:     filepath.Join(t.TempDir(), "sessions.json"),
			SaveDebounce: 50,
		},
		Streaming: config.StreamingConfig{Throttle: 50, ChunkSize: 8000, ChunkDelay: 1},
	}
}

func newTestBridge(t *testing.T, cfg *config.Config) *Bridge {
	t.Helper()
	log := logger.NewNop()
	registry := tools.NewRegistry(cfg, executor.New(cfg.Execution, log), log)
	tasks := task.NewManager(cfg.Tasks, registry, nil, log)
	sessions, err := session.NewManager(cfg.Sessions, registry.DefaultTool(), log)
	require.NoError(t, err)
	t.Cleanup(func() {
		tasks.Stop()
		_ = sessions.Close()
	})
	return New(cfg, registry, tasks, sessions, log)
}

// writeScript creates an executable sh script standing in for a tool binary.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tool binaries are sh scripts")
	}
	path := filepath.Join(t.TempDir(), "fake-tool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestExecutePrompt_NewSessionThenContinue(t *testing.T) {
	cfg := newTestConfig(t)
	argsFile := filepath.Join(t.TempDir(), "args")
	cfg.Executables["qwencode"] = writeScript(t,
		`echo "$@" >> `+argsFile+`
echo '{"type":"result","result":"ok","session_id":"q-1"}'`)
	b := newTestBridge(t, cfg)
	ctx := context.Background()

	b.NewSession("u1")
	s := b.Status("u1").Session
	require.True(t, s.NewSessionRequested)
	require.Equal(t, "qwencode", s.Tool)

	res, err := b.ExecutePrompt(ctx, "u1", "first", &recorder{})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "ok", res.Output)

	s = b.Status("u1").Session
	assert.False(t, s.NewSessionRequested)
	assert.Equal(t, "q-1", s.SessionID)

	_, err = b.ExecutePrompt(ctx, "u1", "second", &recorder{})
	require.NoError(t, err)

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "-p --output-format json first", lines[0])
	assert.Equal(t, "-p --resume q-1 --output-format json second", lines[1])
}

func TestExecutePrompt_StreamsAndDeliversResult(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Executables["claudecode"] = writeScript(t, `echo "working on it"`)
	b := newTestBridge(t, cfg)
	_, err := b.SwitchTool("u1", "claude")
	require.NoError(t, err)

	sink := &recorder{}
	res, err := b.ExecutePrompt(context.Background(), "u1", "hi", sink)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	out := sink.allReplies()
	assert.Contains(t, out, "claudecode Output")
	assert.Equal(t, 2, strings.Count(out, "working on it"), "streamed once and delivered once")

	tasks := b.ListTasks("u1")
	require.Len(t, tasks, 1)
	assert.Equal(t, task.StatusCompleted, tasks[0].Status)
}

func TestExecutePrompt_FailureKeepsNewSessionRequest(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Executables["qwencode"] = writeScript(t, `echo "boom" >&2; exit 3`)
	b := newTestBridge(t, cfg)

	b.NewSession("u1")
	sink := &recorder{}
	res, err := b.ExecutePrompt(context.Background(), "u1", "go", sink)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, sink.allReplies(), "boom")
	assert.True(t, b.Status("u1").Session.NewSessionRequested)
}

func TestRunShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	b := newTestBridge(t, newTestConfig(t))
	ctx := context.Background()

	t.Run("allowed command", func(t *testing.T) {
		res, err := b.RunShell(ctx, "u1", "echo hi", &recorder{})
		require.NoError(t, err)
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "hi", res.Output)
		assert.Equal(t, tools.ToolShell, res.Tool)
	})

	t.Run("disallowed command", func(t *testing.T) {
		sink := &recorder{}
		res, err := b.RunShell(ctx, "u1", "rm -rf /tmp/nothing", sink)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, sink.allReplies(), "not in allowed shell commands")
	})
}

func TestSplitShell(t *testing.T) {
	tool, cmd := splitShell("git status -s")
	assert.Equal(t, tools.ToolGit, tool)
	assert.Equal(t, "status -s", cmd)

	tool, cmd = splitShell("  ls -la ")
	assert.Equal(t, tools.ToolShell, tool)
	assert.Equal(t, "ls -la", cmd)
}

func TestRunAsync_DeliversThroughSend(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Executables["qwencode"] = writeScript(t, `echo '{"result":"async done","session_id":"q-9"}'`)
	b := newTestBridge(t, cfg)

	sink := &recorder{}
	id := b.RunAsync(context.Background(), "u1", "later", sink)
	require.NotEmpty(t, id)
	b.Wait()

	sends := sink.allSends()
	require.Len(t, sends, 1)
	assert.Equal(t, "Task "+ShortID(id)+" completed", sends[0].title)
	assert.Equal(t, "async done", sends[0].content)
	assert.Equal(t, "q-9", b.Status("u1").Session.SessionID)
}

func TestCancelTask_OwnTasksOnly(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Executables["qwencode"] = writeScript(t, `sleep 10`)
	b := newTestBridge(t, cfg)

	sink := &recorder{}
	id := b.RunAsync(context.Background(), "owner", "slow", sink)
	require.Eventually(t, func() bool {
		tasks := b.ListTasks("owner")
		return len(tasks) == 1 && tasks[0].Status == task.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	_, err := b.CancelTask("intruder", id)
	assert.ErrorIs(t, err, task.ErrTaskNotFound)

	ok, err := b.CancelTask("owner", ShortID(id))
	require.NoError(t, err)
	assert.True(t, ok)
	b.Wait()

	sends := sink.allSends()
	require.Len(t, sends, 1)
	assert.Equal(t, "Task "+ShortID(id)+" failed", sends[0].title)
	assert.Equal(t, task.CancelledMessage, sends[0].content)
}

func TestCancelTask_FinishedTask(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Executables["qwencode"] = writeScript(t, `echo '{"result":"done"}'`)
	b := newTestBridge(t, cfg)

	res, err := b.ExecutePrompt(context.Background(), "u1", "quick", &recorder{})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	tasks := b.ListTasks("u1")
	require.Len(t, tasks, 1)

	ok, err := b.CancelTask("u1", tasks[0].ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, task.StatusCompleted, b.ListTasks("u1")[0].Status)
}

func TestSwitchTool(t *testing.T) {
	b := newTestBridge(t, newTestConfig(t))
	b.sessions.UpdateSession("u1", session.Patch{SessionID: session.String("old"), Model: session.String("m")})

	a, err := b.SwitchTool("u1", "claude")
	require.NoError(t, err)
	assert.Equal(t, "claudecode", a.Name())

	s := b.Status("u1").Session
	assert.Equal(t, "claudecode", s.Tool)
	assert.Empty(t, s.SessionID)
	assert.Empty(t, s.Model)

	_, err = b.SwitchTool("u1", "codex")
	assert.ErrorIs(t, err, ErrToolNotAllowed)

	_, err = b.SwitchTool("u1", "nope")
	assert.ErrorIs(t, err, tools.ErrUnknownTool)
	assert.Equal(t, "claudecode", b.Status("u1").Session.Tool)
}

func TestSetModelAndAgent_RequireCapability(t *testing.T) {
	b := newTestBridge(t, newTestConfig(t))

	assert.ErrorIs(t, b.SetModel("u1", "qwen3-coder"), ErrUnsupported)
	assert.ErrorIs(t, b.SetAgent("u1", "plan"), ErrUnsupported)

	_, err := b.SwitchTool("u1", "claudecode")
	require.NoError(t, err)
	require.NoError(t, b.SetModel("u1", " claude-opus-4-20250514 "))
	require.NoError(t, b.SetAgent("u1", "plan"))

	s := b.Status("u1").Session
	assert.Equal(t, "claude-opus-4-20250514", s.Model)
	assert.Equal(t, "plan", s.Agent)
}

func TestSetCwd(t *testing.T) {
	b := newTestBridge(t, newTestConfig(t))
	dir := t.TempDir()

	got, err := b.SetCwd("u1", dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.Equal(t, dir, b.Status("u1").Session.Cwd)

	_, err = b.SetCwd("u1", filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrInvalidCwd)
	assert.Equal(t, dir, b.Status("u1").Session.Cwd)

	got, err = b.SetCwd("u1", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListModels(t *testing.T) {
	b := newTestBridge(t, newTestConfig(t))

	_, err := b.ListModels(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = b.SwitchTool("u1", "claude")
	require.NoError(t, err)
	models, err := b.ListModels(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, models)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abcdefgh", ShortID("abcdefgh-1234"))
	assert.Equal(t, "abc", ShortID("abc"))
}
