package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaudeCodeSessionFlags(t *testing.T) {
	d := ClaudeCode{}

	resume := d.Build("claude", "fix it", RunOptions{SessionID: "abc"}).Args()
	assert.Equal(t, []string{"claude", "-p", "-r", "abc", "fix it"}, resume)

	fresh := d.Build("claude", "fix it", RunOptions{SessionID: "abc", NewSession: true}).Args()
	assert.Equal(t, []string{"claude", "-p", "fix it"}, fresh)
	assert.NotContains(t, fresh, "-r")
	assert.NotContains(t, fresh, "-c")

	cont := d.Build("claude", "fix it", RunOptions{Model: "opus", Agent: "plan"}).Args()
	assert.Equal(t, []string{"claude", "-p", "-c", "--model", "opus", "--agent", "plan", "fix it"}, cont)
}

func TestDialectCommands(t *testing.T) {
	opts := RunOptions{SessionID: "s1", Model: "m1", Agent: "a1"}
	tests := []struct {
		name    string
		dialect Dialect
		want    []string
	}{
		{"opencode", OpenCode{}, []string{"opencode", "run", "-s", "s1", "-m", "m1", "--agent", "a1", "p"}},
		{"codex", Codex{}, []string{"codex", "exec", "resume", "s1", "-m", "m1", "--full-auto", "--json", "p"}},
		{"qwencode", QwenCode{}, []string{"qwen", "-p", "--resume", "s1", "--output-format", "json", "p"}},
		{"kimicode", KimiCode{}, []string{"kimi", "ask", "--session", "s1", "p"}},
		{"openclaw", OpenClaw{}, []string{"openclaw", "agent", "--message", "p", "--session-id", "s1", "--agent", "a1", "--json"}},
		{"nanobot", Nanobot{}, []string{"nanobot", "agent", "--message", "p", "--session", "s1"}},
		{"cursorcode", CursorCode{}, []string{"agent", "-p", "p"}},
		{"geminicode", GeminiCode{}, []string{"gemini", "-p", "p", "-m", "m1", "--resume", "s1"}},
		{"codebuddy", CodeBuddy{}, []string{"codebuddy", "-p", "p", "-y"}},
		{"qodercode", QoderCode{}, []string{"qodercli", "-p", "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.dialect.Info()
			assert.Equal(t, tt.name, info.Name)
			bin := info.Executable
			if bin == "" {
				bin = info.CommandName
			}
			assert.Equal(t, tt.want, tt.dialect.Build(bin, "p", opts).Args())
		})
	}
}

func TestNewSessionDropsContinuation(t *testing.T) {
	opts := RunOptions{SessionID: "s1", NewSession: true}
	for _, d := range DefaultDialects() {
		info := d.Info()
		t.Run(info.Name, func(t *testing.T) {
			args := d.Build(info.CommandName, "p", opts).Args()
			assert.NotContains(t, args, "s1")
			for _, flag := range []string{"-c", "--continue", "--resume", "-r"} {
				assert.NotContains(t, args, flag)
			}
		})
	}
}

func TestContinueWithoutSessionID(t *testing.T) {
	assert.Equal(t, []string{"qwen", "-p", "--continue", "--output-format", "json", "p"},
		QwenCode{}.Build("qwen", "p", RunOptions{}).Args())
	assert.Equal(t, []string{"gemini", "-p", "p", "--resume"},
		GeminiCode{}.Build("gemini", "p", RunOptions{}).Args())
	assert.Equal(t, []string{"opencode", "run", "p"},
		OpenCode{}.Build("opencode", "p", RunOptions{}).Args())
}

func TestNanobotEnv(t *testing.T) {
	assert.Equal(t, "utf-8", Nanobot{}.Env()["PYTHONIOENCODING"])
}
