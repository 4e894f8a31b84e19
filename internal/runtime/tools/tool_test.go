package tools

import (
	"context"
	"os"
	"os/exec"
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
)

func newTestConfig() *config.Config {
	return &config.Config{
		Execution: config.ExecutionConfig{
			Timeout:       10000,
			KillGrace:     1000,
			HelperTimeout: 5000,
		},
		AllowedCodeTools:     []string{"claudecode", "qwencode", "opencode"},
		AllowedShellCommands: []string{"git", "echo", "ls"},
		Executables:          map[string]string{},
	}
}

func newTestRegistry(t *testing.T, cfg *config.Config) *Registry {
	t.Helper()
	log := logger.NewNop()
	return NewRegistry(cfg, executor.New(cfg.Execution, log), log)
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

func TestExecute_DisallowedToolDoesNotSpawn(t *testing.T) {
	cfg := newTestConfig()
	marker := filepath.Join(t.TempDir(), "spawned")
	cfg.Executables["codex"] = writeScript(t, "touch "+marker)
	r := newTestRegistry(t, cfg)

	a, ok := r.Get("codex")
	require.True(t, ok)
	res := a.Execute(context.Background(), "hello", RunOptions{})

	assert.False(t, res.Success)
	assert.Equal(t, "Codex is not in allowed code tools", res.Error)
	assert.Zero(t, res.Duration)
	assert.NoFileExists(t, marker)
}

func TestExecute_CapturesSessionAndOutput(t *testing.T) {
	cfg := newTestConfig()
	cfg.Executables["qwen"] = writeScript(t, `echo "{\"type\":\"result\",\"result\":\"all done\",\"session_id\":\"q-42\"}"`)
	r := newTestRegistry(t, cfg)

	res := r.RunTool(context.Background(), "qwencode", "do work", RunOptions{})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "qwencode", res.Tool)
	assert.Equal(t, "all done", res.Output)
	assert.Equal(t, "q-42", res.SessionID)
	assert.Empty(t, res.Error)
}

func TestExecute_PassesPromptVerbatim(t *testing.T) {
	cfg := newTestConfig()
	cfg.Executables["claudecode"] = writeScript(t, `for a in "$@"; do echo "[$a]"; done`)
	r := newTestRegistry(t, cfg)

	prompt := `it's "quoted" $HOME; rm -rf /`
	res := r.RunTool(context.Background(), "claudecode", prompt, RunOptions{SessionID: "abc"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "[-p]\n[-r]\n[abc]\n["+prompt+"]", res.Output)
}

func TestExecute_FailureUsesStderrOrGenericMessage(t *testing.T) {
	cfg := newTestConfig()
	cfg.Executables["claude"] = writeScript(t, "echo broken >&2; exit 2")
	r := newTestRegistry(t, cfg)

	res := r.RunTool(context.Background(), "claudecode", "p", RunOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, "broken", res.Error)

	cfg.Executables["claude"] = writeScript(t, "exit 1")
	res = r.RunTool(context.Background(), "claudecode", "p", RunOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, "Command failed", res.Error)
}

func TestExecute_StreamsCleanedChunks(t *testing.T) {
	cfg := newTestConfig()
	cfg.Executables["opencode"] = writeScript(t, `printf '\033[32m  first  \033[0m\n'; sleep 0.1; printf '   \n'; sleep 0.1; echo second`)
	r := newTestRegistry(t, cfg)

	var mu sync.Mutex
	var chunks []string
	res := r.RunTool(context.Background(), "opencode", "p", RunOptions{OnOutput: func(c string) {
		mu.Lock()
		defer mu.Unlock()
		chunks = append(chunks, c)
	}})

	require.True(t, res.Success, res.Error)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, chunks)
}

func TestExecute_OutputCallbackIsSerialized(t *testing.T) {
	cfg := newTestConfig()
	cfg.Executables["opencode"] = writeScript(t, `for i in 1 2 3 4 5 6 7 8; do echo out$i; echo err$i >&2; done`)
	r := newTestRegistry(t, cfg)

	// No locking: the race detector flags overlapping calls.
	var chunks []string
	res := r.RunTool(context.Background(), "opencode", "p", RunOptions{OnOutput: func(c string) {
		chunks = append(chunks, c)
	}})

	require.True(t, res.Success, res.Error)
	joined := strings.Join(chunks, "\n")
	assert.Contains(t, joined, "out8")
	assert.Contains(t, joined, "err8")
}

func TestExecute_StreamsEscapeSplitAcrossReads(t *testing.T) {
	cfg := newTestConfig()
	cfg.Executables["opencode"] = writeScript(t, `printf '\033[3'; sleep 0.2; printf '1mred\033[0m\n'; printf 'par'; sleep 0.2; printf 'tial'`)
	r := newTestRegistry(t, cfg)

	var mu sync.Mutex
	var chunks []string
	res := r.RunTool(context.Background(), "opencode", "p", RunOptions{OnOutput: func(c string) {
		mu.Lock()
		defer mu.Unlock()
		chunks = append(chunks, c)
	}})

	require.True(t, res.Success, res.Error)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"red", "partial"}, chunks)
}

func TestExecute_TimeoutOverride(t *testing.T) {
	cfg := newTestConfig()
	cfg.Executables["claude"] = writeScript(t, "sleep 10")
	r := newTestRegistry(t, cfg)

	res := r.RunTool(context.Background(), "claudecode", "p", RunOptions{Timeout: 300 * time.Millisecond})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
}

func TestTimeoutResolution(t *testing.T) {
	cfg := newTestConfig()
	tool := NewTool(ClaudeCode{}, cfg, nil, logger.NewNop())

	assert.Equal(t, 10*time.Second, tool.timeout(0))
	cfg.Execution.CodeTimeout = 20000
	assert.Equal(t, 20*time.Second, tool.timeout(0))
	cfg.Execution.ToolTimeouts = map[string]int{"claudecode": 30000}
	assert.Equal(t, 30*time.Second, tool.timeout(0))
	assert.Equal(t, time.Second, tool.timeout(time.Second))
}

func TestBinaryOverride(t *testing.T) {
	cfg := newTestConfig()
	assert.Equal(t, "qodercli", NewTool(QoderCode{}, cfg, nil, logger.NewNop()).Binary())
	assert.Equal(t, "agent", NewTool(CursorCode{}, cfg, nil, logger.NewNop()).Binary())

	cfg.Executables["claude"] = "/opt/claude"
	assert.Equal(t, "/opt/claude", NewTool(ClaudeCode{}, cfg, nil, logger.NewNop()).Binary())
	cfg.Executables["claudecode"] = "/usr/local/bin/claude"
	assert.Equal(t, "/usr/local/bin/claude", NewTool(ClaudeCode{}, cfg, nil, logger.NewNop()).Binary())
}

func TestBuildCommandQuotesPrompt(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX quoting")
	}
	tool := NewTool(ClaudeCode{}, newTestConfig(), nil, logger.NewNop())
	assert.Equal(t, `claude -p -r abc 'hello world'`, tool.BuildCommand("hello world", RunOptions{SessionID: "abc"}))
	assert.Equal(t, `claude -p 'hello world'`, tool.BuildCommand("hello world", RunOptions{SessionID: "abc", NewSession: true}))
}

func TestListHelpers(t *testing.T) {
	cfg := newTestConfig()
	cfg.Executables["opencode"] = writeScript(t, `case "$1" in models) printf 'a/one\nb/two\n';; agent) echo build;; *) exit 1;; esac`)
	r := newTestRegistry(t, cfg)
	a, ok := r.Get("opencode")
	require.True(t, ok)
	ctx := context.Background()

	assert.Equal(t, []string{"a/one", "b/two"}, a.ListModels(ctx))
	assert.Equal(t, []string{"build"}, a.ListAgents(ctx))
	assert.Empty(t, a.ListSessions(ctx), "failed helper degrades to empty")

	kimi, ok := r.Get("kimicode")
	require.True(t, ok)
	assert.Nil(t, kimi.ListModels(ctx))
}

func TestRegistryLookup(t *testing.T) {
	r := newTestRegistry(t, newTestConfig())

	a, ok := r.GetByCommand("claude")
	require.True(t, ok)
	assert.Equal(t, "claudecode", a.Name())

	a, ok = r.GetByCommand("qwencode")
	require.True(t, ok)
	assert.Equal(t, "qwencode", a.Name())

	_, err := r.Lookup("nope")
	assert.ErrorIs(t, err, ErrUnknownTool)

	assert.Len(t, r.List(), 11)

	var enabled []string
	for _, e := range r.Enabled() {
		enabled = append(enabled, e.Name())
	}
	assert.Equal(t, []string{"claudecode", "qwencode", "opencode"}, enabled)
	assert.Equal(t, "claudecode", r.DefaultTool())
}

func TestDefaultToolFallback(t *testing.T) {
	cfg := newTestConfig()
	cfg.AllowedCodeTools = nil
	assert.Equal(t, FallbackTool, newTestRegistry(t, cfg).DefaultTool())
}

func TestRunTool_UnknownTool(t *testing.T) {
	r := newTestRegistry(t, newTestConfig())

	res := r.RunTool(context.Background(), "mystery", "x", RunOptions{})

	assert.False(t, res.Success)
	assert.Equal(t, "Unknown tool: mystery", res.Error)
}

func TestRunTool_Shell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX echo")
	}
	r := newTestRegistry(t, newTestConfig())
	ctx := context.Background()

	res := r.RunTool(ctx, ToolShell, "echo hi there", RunOptions{})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "shell", res.Tool)
	assert.Equal(t, "hi there", res.Output)

	res = r.RunTool(ctx, ToolShell, "rm -rf /tmp/whatever", RunOptions{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not in allowed shell commands")
	assert.Zero(t, res.Duration)

	res = r.RunTool(ctx, ToolShell, "   ", RunOptions{})
	assert.False(t, res.Success)
}

func TestRunTool_ShellOperatorsAreLiteral(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX sh")
	}
	r := newTestRegistry(t, newTestConfig())
	ctx := context.Background()
	dir := t.TempDir()
	marker := filepath.Join(dir, "created")

	for _, command := range []string{
		"ls && touch " + marker,
		"ls; touch " + marker,
		"ls | touch " + marker,
		"ls $(touch " + marker + ")",
		"ls `touch " + marker + "`",
		"ls\ntouch " + marker,
		"echo > " + marker,
	} {
		r.RunTool(ctx, ToolShell, command, RunOptions{Cwd: dir})
		assert.NoFileExists(t, marker, command)
	}

	res := r.RunTool(ctx, ToolShell, `echo "a  b" 'c;d' $HOME`, RunOptions{})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "a  b c;d $HOME", res.Output)

	res = r.RunTool(ctx, ToolShell, `echo "unterminated`, RunOptions{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Invalid command")
}

func TestRunTool_GitOperatorsAreLiteral(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX sh")
	}
	cfg := newTestConfig()
	argsFile := filepath.Join(t.TempDir(), "args")
	cfg.Executables["git"] = writeScript(t, `printf '%s\n' "$@" > `+argsFile)
	r := newTestRegistry(t, cfg)
	marker := filepath.Join(t.TempDir(), "created")

	res := r.RunTool(context.Background(), ToolGit, "--version; touch "+marker, RunOptions{})

	require.True(t, res.Success, res.Error)
	assert.NoFileExists(t, marker)
	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "--version;\ntouch\n"+marker+"\n", string(data))
}

func TestRunTool_ShellExecutableOverride(t *testing.T) {
	cfg := newTestConfig()
	cfg.Executables["ls"] = writeScript(t, `echo "listing $*"`)
	r := newTestRegistry(t, cfg)

	res := r.RunTool(context.Background(), ToolShell, "ls -la", RunOptions{})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "listing -la", res.Output)
}

func TestRunTool_Git(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	r := newTestRegistry(t, newTestConfig())
	ctx := context.Background()

	init := r.RunTool(ctx, ToolGit, "init", RunOptions{Cwd: dir})
	require.True(t, init.Success, init.Error)

	res := r.RunTool(ctx, ToolGit, "status", RunOptions{Cwd: dir})
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, "git", res.Tool)
	assert.True(t, strings.Contains(res.Output, "branch") || strings.Contains(res.Output, "commits"))
}

func TestRunTool_GitRequiresAllowList(t *testing.T) {
	cfg := newTestConfig()
	cfg.AllowedShellCommands = []string{"ls"}
	r := newTestRegistry(t, cfg)

	res := r.RunTool(context.Background(), ToolGit, "status", RunOptions{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "'git'")
}
