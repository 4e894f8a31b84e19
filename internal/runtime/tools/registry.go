package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dachongbaba/openbotgate/internal/common/config"
	"github.com/dachongbaba/openbotgate/internal/common/logger"
	"github.com/dachongbaba/openbotgate/internal/runtime/encoding"
	"github.com/dachongbaba/openbotgate/internal/runtime/executor"
)

// Pseudo tool names dispatched to the restricted shell path.
const (
	ToolGit   = "git"
	ToolShell = "shell"
)

// FallbackTool is used when no code tool is allow-listed.
const FallbackTool = "opencode"

// DefaultDialects returns every supported tool in display order.
func DefaultDialects() []Dialect {
	return []Dialect{
		OpenCode{},
		ClaudeCode{},
		Codex{},
		QwenCode{},
		KimiCode{},
		OpenClaw{},
		Nanobot{},
		CursorCode{},
		GeminiCode{},
		CodeBuddy{},
		QoderCode{},
	}
}

// Registry holds the adapters and dispatches RunTool calls.
type Registry struct {
	cfg          *config.Config
	exec         *executor.Executor
	logger       *logger.Logger
	shellDecoder encoding.Decoder

	mu        sync.RWMutex
	adapters  map[string]Adapter
	byCommand map[string]Adapter
	order     []string
}

// NewRegistry builds a registry for dialects, or for DefaultDialects when none
// are given. The shell output decoder is chosen once here.
func NewRegistry(cfg *config.Config, exec *executor.Executor, log *logger.Logger, dialects ...Dialect) *Registry {
	if len(dialects) == 0 {
		dialects = DefaultDialects()
	}
	r := &Registry{
		cfg:          cfg,
		exec:         exec,
		logger:       log.WithFields(zap.String("component", "tool-registry")),
		shellDecoder: encoding.Detect(cfg.Execution.ShellOutputEncoding),
		adapters:     make(map[string]Adapter),
		byCommand:    make(map[string]Adapter),
	}
	for _, d := range dialects {
		r.Register(NewTool(d, cfg, exec, log))
	}
	r.logger.Debug("tool registry ready",
		zap.Strings("tools", r.order),
		zap.String("shell_encoding", r.shellDecoder.Name()))
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToLower(a.Name())
	if _, exists := r.adapters[name]; !exists {
		r.order = append(r.order, name)
	}
	r.adapters[name] = a
	r.byCommand[strings.ToLower(a.CommandName())] = a
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	return a, ok
}

// GetByCommand resolves a chat command name such as "claude", falling back to adapter names.
func (r *Registry) GetByCommand(command string) (Adapter, bool) {
	key := strings.ToLower(strings.TrimSpace(command))
	r.mu.RLock()
	a, ok := r.byCommand[key]
	r.mu.RUnlock()
	if ok {
		return a, true
	}
	return r.Get(key)
}

// Lookup resolves name as an adapter or command name. Unknown names wrap ErrUnknownTool.
func (r *Registry) Lookup(name string) (Adapter, error) {
	if a, ok := r.GetByCommand(name); ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

// List returns all adapters in registration order.
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}

// Enabled returns the allow-listed adapters in allow-list order.
func (r *Registry) Enabled() []Adapter {
	var out []Adapter
	for _, name := range r.cfg.AllowedCodeTools {
		if a, ok := r.Get(name); ok {
			out = append(out, a)
		}
	}
	return out
}

// DefaultTool is the first allow-listed code tool, or FallbackTool.
func (r *Registry) DefaultTool() string {
	if len(r.cfg.AllowedCodeTools) > 0 {
		return r.cfg.AllowedCodeTools[0]
	}
	return FallbackTool
}

// RunTool is the single execution entry point. It dispatches to an adapter,
// the git path or the shell path, and reports unknown names as a failed result.
func (r *Registry) RunTool(ctx context.Context, tool, command string, opts RunOptions) *ToolResult {
	if a, ok := r.Get(tool); ok {
		return a.Execute(ctx, command, opts)
	}
	switch strings.ToLower(tool) {
	case ToolGit:
		return r.runShell(ctx, ToolGit, "git "+strings.TrimSpace(command), opts)
	case ToolShell:
		return r.runShell(ctx, ToolShell, command, opts)
	}
	r.logger.Warn("unknown tool requested", zap.String("tool", tool))
	return &ToolResult{
		Tool:  tool,
		Error: fmt.Sprintf("Unknown tool: %s", tool),
	}
}
