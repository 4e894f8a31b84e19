package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"github.com/dachongbaba/openbotgate/internal/runtime/executor"
)

// runShell executes an allow-listed shell command. The line is split into
// words and every word is quoted, so operators such as `;`, `&&` or `$(..)`
// reach the command as literal arguments. The first word must be in
// allowedShellCommands and may be replaced by a configured executable.
func (r *Registry) runShell(ctx context.Context, tool, command string, opts RunOptions) *ToolResult {
	words, err := shlex.Split(command)
	if err != nil {
		return &ToolResult{Tool: tool, Error: fmt.Sprintf("Invalid command: %v", err)}
	}
	if len(words) == 0 {
		return &ToolResult{Tool: tool, Error: "Empty command"}
	}
	first := words[0]
	if !r.cfg.IsShellCommandAllowed(first) {
		r.logger.Warn("shell command rejected", zap.String("command", first))
		return &ToolResult{
			Tool:  tool,
			Error: fmt.Sprintf("Command '%s' is not in allowed shell commands", first),
		}
	}
	bin := r.cfg.Executable(executor.QuoteArg(first), first)
	line := NewCommand(append([]string{bin}, words[1:]...)...).String()

	stdout := newLineForwarder(opts.OnOutput)
	stderr := newLineForwarder(opts.OnOutput)

	start := time.Now()
	res := r.exec.Execute(ctx, line, executor.Options{
		Timeout:    opts.Timeout,
		WorkingDir: opts.Cwd,
		Decoder:    r.shellDecoder,
		OnStdout:   stdout.callback(),
		OnStderr:   stderr.callback(),
	})
	stdout.Flush()
	stderr.Flush()

	result := &ToolResult{
		Tool:     tool,
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
	return result
}
