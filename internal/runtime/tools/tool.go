package tools

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dachongbaba/openbotgate/internal/common/config"
	"github.com/dachongbaba/openbotgate/internal/common/logger"
	"github.com/dachongbaba/openbotgate/internal/common/stringutil"
	"github.com/dachongbaba/openbotgate/internal/common/tracing"
	"github.com/dachongbaba/openbotgate/internal/runtime/encoding"
	"github.com/dachongbaba/openbotgate/internal/runtime/executor"
)

var _ Adapter = (*Tool)(nil)

// Tool is the shared Adapter implementation. It owns allow-list checks,
// timeout resolution, output cleanup and session id capture; the Dialect
// only supplies flags.
type Tool struct {
	dialect Dialect
	info    Info
	cfg     *config.Config
	exec    *executor.Executor
	logger  *logger.Logger
	helpers singleflight.Group
}

// NewTool wraps a dialect.
func NewTool(d Dialect, cfg *config.Config, exec *executor.Executor, log *logger.Logger) *Tool {
	info := d.Info()
	return &Tool{
		dialect: d,
		info:    info,
		cfg:     cfg,
		exec:    exec,
		logger:  log.WithTool(info.Name),
	}
}

func (t *Tool) Name() string               { return t.info.Name }
func (t *Tool) CommandName() string        { return t.info.CommandName }
func (t *Tool) DisplayName() string        { return t.info.DisplayName }
func (t *Tool) Capabilities() Capabilities { return t.info.Capabilities }

// Binary returns the executable, honoring overrides keyed by adapter or command name.
func (t *Tool) Binary() string {
	fallback := t.info.Executable
	if fallback == "" {
		fallback = t.info.CommandName
	}
	return t.cfg.Executable(fallback, t.info.Name, t.info.CommandName)
}

// BuildCommand renders the shell line for prompt.
func (t *Tool) BuildCommand(prompt string, opts RunOptions) string {
	return t.dialect.Build(t.Binary(), prompt, opts).String()
}

// Execute runs prompt through the tool. Disallowed tools fail immediately
// with zero duration and no subprocess.
func (t *Tool) Execute(ctx context.Context, prompt string, opts RunOptions) *ToolResult {
	if !t.cfg.IsCodeToolAllowed(t.info.Name) {
		return &ToolResult{
			Tool:  t.info.Name,
			Error: fmt.Sprintf("%s is not in allowed code tools", t.info.DisplayName),
		}
	}

	ctx, span := tracing.TraceToolExecute(ctx, t.info.Name, opts.SessionID, opts.NewSession)
	defer span.End()

	command := t.BuildCommand(prompt, opts)
	t.logger.Debug("tool command", zap.String("command", command))

	stdout := newLineForwarder(t.forward(opts.OnOutput))
	stderr := newLineForwarder(t.forward(opts.OnOutput))

	start := time.Now()
	res := t.exec.Execute(ctx, command, executor.Options{
		Timeout:    t.timeout(opts.Timeout),
		WorkingDir: opts.Cwd,
		Env:        t.env(),
		Decoder:    encoding.UTF8,
		OnStdout:   stdout.callback(),
		OnStderr:   stderr.callback(),
	})
	stdout.Flush()
	stderr.Flush()

	result := &ToolResult{
		Tool:     t.info.Name,
		Success:  res.Success,
		Output:   res.Stdout,
		Duration: time.Since(start),
	}
	if !res.Success {
		result.Error = res.Stderr
		if result.Error == "" {
			result.Error = "Command failed"
		}
	}
	if parser, ok := t.dialect.(OutputParser); ok && res.Success {
		if text := parser.ParseOutput(res.Stdout); text != "" {
			result.Output = text
		}
	}
	if parser, ok := t.dialect.(SessionParser); ok {
		result.SessionID = parser.ParseSessionID(res.Stdout)
	}

	tracing.TraceToolResult(span, result.Success, result.Duration, result.Error)
	t.logger.Info("tool finished",
		zap.Bool("success", result.Success),
		zap.Duration("duration", result.Duration),
		zap.String("session_id", result.SessionID))
	return result
}

// timeout resolves requested, then the per-tool override, then codeTimeout,
// then the global default.
func (t *Tool) timeout(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if d := t.cfg.Execution.ToolTimeoutDuration(t.info.Name); d > 0 {
		return d
	}
	if d := t.cfg.Execution.CodeTimeoutDuration(); d > 0 {
		return d
	}
	return t.cfg.Execution.TimeoutDuration()
}

func (t *Tool) env() map[string]string {
	if p, ok := t.dialect.(EnvProvider); ok {
		return p.Env()
	}
	return nil
}

func (t *Tool) forward(onOutput func(string)) func(string) {
	if onOutput == nil {
		return nil
	}
	return func(text string) {
		t.logger.Debug("tool output", zap.String("chunk", stringutil.TruncateStringWithEllipsis(text, 200)))
		onOutput(text)
	}
}

// ListModels returns the tool's models, or nil when unsupported.
func (t *Tool) ListModels(ctx context.Context) []string {
	if l, ok := t.dialect.(ModelLister); ok {
		return l.Models(ctx, t.runHelper)
	}
	return nil
}

// ListSessions returns the tool's stored sessions, or nil when unsupported.
func (t *Tool) ListSessions(ctx context.Context) []SessionInfo {
	if l, ok := t.dialect.(SessionLister); ok {
		return l.Sessions(ctx, t.runHelper)
	}
	return nil
}

// ListAgents returns the tool's agents, or nil when unsupported.
func (t *Tool) ListAgents(ctx context.Context) []string {
	if l, ok := t.dialect.(AgentLister); ok {
		return l.Agents(ctx, t.runHelper)
	}
	return nil
}

// runHelper runs a list subcommand. Concurrent identical calls share one process.
func (t *Tool) runHelper(ctx context.Context, args ...string) string {
	cmd := NewCommand(append([]string{t.Binary()}, args...)...).String()
	v, _, _ := t.helpers.Do(cmd, func() (interface{}, error) {
		res := t.exec.Execute(ctx, cmd, executor.Options{
			Timeout: t.cfg.Execution.HelperTimeoutDuration(),
			Env:     t.env(),
			Decoder: encoding.UTF8,
		})
		if !res.Success {
			t.logger.Debug("helper command failed",
				zap.String("command", cmd),
				zap.String("stderr", stringutil.TruncateStringWithEllipsis(res.Stderr, 200)))
			return "", nil
		}
		return res.Stdout, nil
	})
	out, _ := v.(string)
	return out
}
