// Package tools adapts AI coding CLIs and allow-listed shell commands to a
// single execution contract.
package tools

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownTool is reported when a name matches no adapter and no shell path.
var ErrUnknownTool = errors.New("unknown tool")

// Capabilities declares which optional features a tool supports.
type Capabilities struct {
	Session      bool `json:"session"`
	Model        bool `json:"model"`
	Agent        bool `json:"agent"`
	Compact      bool `json:"compact"`
	ListModels   bool `json:"listModels"`
	ListSessions bool `json:"listSessions"`
	ListAgents   bool `json:"listAgents"`
}

// RunOptions are passed from the caller through the adapter to the executor.
type RunOptions struct {
	SessionID string
	Model     string
	Agent     string
	Cwd       string
	// Timeout overrides the per-tool and global defaults when positive.
	Timeout time.Duration
	// OnOutput receives ANSI-stripped, trimmed, non-empty output, one or more
	// whole lines per call. Calls are serialized and never overlap.
	OnOutput func(chunk string)
	// NewSession starts a fresh conversation: no resume or continue flags.
	NewSession bool
}

// ToolResult is returned by every execution path, success or failure.
// A failed result always carries Error or an empty Output.
type ToolResult struct {
	Tool      string        `json:"tool"`
	Success   bool          `json:"success"`
	Output    string        `json:"output"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	SessionID string        `json:"sessionId,omitempty"`
}

// SessionInfo describes one conversation reported by a tool's list command.
type SessionInfo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updatedAt"`
}

// Adapter is the contract every AI coding tool exposes.
type Adapter interface {
	Name() string
	CommandName() string
	DisplayName() string
	Capabilities() Capabilities
	BuildCommand(prompt string, opts RunOptions) string
	Execute(ctx context.Context, prompt string, opts RunOptions) *ToolResult
	ListModels(ctx context.Context) []string
	ListSessions(ctx context.Context) []SessionInfo
	ListAgents(ctx context.Context) []string
}

// Info is the static identity of a dialect.
type Info struct {
	// Name is the internal adapter name used in allow-lists, e.g. "claudecode".
	Name string
	// CommandName is the chat command and default binary, e.g. "claude".
	CommandName string
	DisplayName string
	// Executable overrides CommandName as the default binary when set.
	Executable   string
	Capabilities Capabilities
}

// Dialect encodes one tool's CLI flags. Optional behavior is added by
// implementing SessionParser, OutputParser, ModelLister, SessionLister, AgentLister or EnvProvider.
type Dialect interface {
	Info() Info
	Build(bin, prompt string, opts RunOptions) Command
}

// HelperRunner runs the tool binary with args under the short helper timeout
// and returns its cleaned stdout, or "" on failure.
type HelperRunner func(ctx context.Context, args ...string) string

// SessionParser extracts a continuation id from raw tool output.
type SessionParser interface {
	ParseSessionID(output string) string
}

// OutputParser extracts the answer text from structured tool output.
type OutputParser interface {
	ParseOutput(stdout string) string
}

// ModelLister lists models the tool can use.
type ModelLister interface {
	Models(ctx context.Context, run HelperRunner) []string
}

// SessionLister lists the tool's stored conversations.
type SessionLister interface {
	Sessions(ctx context.Context, run HelperRunner) []SessionInfo
}

// AgentLister lists the tool's agents or personas.
type AgentLister interface {
	Agents(ctx context.Context, run HelperRunner) []string
}

// EnvProvider adds environment variables to every run of the tool.
type EnvProvider interface {
	Env() map[string]string
}
