// Package executor runs shell commands as child processes with bounded
// timeouts, streamed output and SIGTERM to SIGKILL escalation.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dachongbaba/openbotgate/internal/common/config"
	"github.com/dachongbaba/openbotgate/internal/common/logger"
	"github.com/dachongbaba/openbotgate/internal/common/stringutil"
	"github.com/dachongbaba/openbotgate/internal/common/tracing"
	"github.com/dachongbaba/openbotgate/internal/runtime/encoding"
)

const readChunkSize = 4096

// progressLine matches opencode status lines such as "> build · gpt-5".
var progressLine = regexp.MustCompile(`(?m)^>\s*(build|think|write|run)\s*·.*$\n?`)

// Options control a single execution.
type Options struct {
	// Timeout overrides the default timeout. It is capped at config.MaxExecutionTimeout.
	Timeout time.Duration
	// WorkingDir is the child's working directory; empty means the gateway's.
	WorkingDir string
	// Env is merged over the parent environment.
	Env map[string]string
	// Decoder converts raw output to UTF-8. Nil means UTF-8.
	Decoder encoding.Decoder
	// OnStdout and OnStderr receive decoded chunks in emission order. The
	// two callbacks are serialized: at most one of them runs at a time.
	OnStdout func(chunk string)
	OnStderr func(chunk string)
}

// Result is the raw outcome of one execution.
type Result struct {
	Success bool
	// ExitCode is nil when the process could not be spawned. A process
	// terminated by a signal reports -1.
	ExitCode  *int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	TimedOut  bool
	Cancelled bool
}

// Killed reports whether the executor had to terminate the process.
func (r *Result) Killed() bool {
	return r.TimedOut || r.Cancelled
}

// Executor spawns commands through the platform shell. It holds no per-run
// state and is safe for concurrent use.
type Executor struct {
	defaultTimeout  time.Duration
	killGrace       time.Duration
	maxOutputLength int
	logger          *logger.Logger
}

// New creates an Executor from the execution config.
func New(cfg config.ExecutionConfig, log *logger.Logger) *Executor {
	return &Executor{
		defaultTimeout:  cfg.TimeoutDuration(),
		killGrace:       cfg.KillGraceDuration(),
		maxOutputLength: cfg.MaxOutputLength,
		logger:          log.WithFields(zap.String("component", "executor")),
	}
}

// Execute runs command and waits for it to finish. It never returns an
// error: spawn failures, timeouts and non-zero exits are all reported on
// the Result. Cancelling ctx terminates the process the same way a timeout does.
func (e *Executor) Execute(ctx context.Context, command string, opts Options) *Result {
	timeout := e.effectiveTimeout(opts.Timeout)
	ctx, span := tracing.TraceExecutorRun(ctx, timeout)
	defer span.End()

	decoder := opts.Decoder
	if decoder == nil {
		decoder = encoding.UTF8
	}

	start := time.Now()
	prog, args := shellExecArgs(command)
	cmd := exec.Command(prog, args...)
	cmd.Dir = opts.WorkingDir
	cmd.Env = mergeEnv(opts.Env)
	// Stdin stays nil so the child reads from the null device and never blocks on input.
	setProcGroup(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return e.spawnFailure(span, start, fmt.Errorf("failed to attach stdout: %w", err))
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return e.spawnFailure(span, start, fmt.Errorf("failed to attach stderr: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return e.spawnFailure(span, start, err)
	}

	e.logger.Debug("process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("command", command),
		zap.String("working_dir", opts.WorkingDir),
		zap.Duration("timeout", timeout),
		zap.String("encoding", decoder.Name()))

	var emitMu sync.Mutex
	serialize := func(fn func(string)) func(string) {
		if fn == nil {
			return nil
		}
		return func(chunk string) {
			emitMu.Lock()
			defer emitMu.Unlock()
			fn(chunk)
		}
	}

	var stdout, stderr strings.Builder
	var readers errgroup.Group
	readers.Go(func() error {
		return readOutput(decoder.Reader(stdoutPipe), &stdout, serialize(opts.OnStdout))
	})
	readers.Go(func() error {
		return readOutput(decoder.Reader(stderrPipe), &stderr, serialize(opts.OnStderr))
	})

	done := make(chan error, 1)
	go func() {
		if err := readers.Wait(); err != nil {
			e.logger.Debug("process output read error", zap.Error(err))
		}
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	result := &Result{}
	var waitErr error
	select {
	case waitErr = <-done:
	case <-timer.C:
		result.TimedOut = true
		waitErr = e.terminate(cmd.Process.Pid, done, stdoutPipe, stderrPipe)
	case <-ctx.Done():
		result.Cancelled = true
		waitErr = e.terminate(cmd.Process.Pid, done, stdoutPipe, stderrPipe)
	}

	result.Duration = time.Since(start)
	exitCode := exitCodeOf(cmd, waitErr)
	result.ExitCode = &exitCode
	result.Success = waitErr == nil && exitCode == 0 && !result.Killed()
	result.Stdout = e.clean(stdout.String())
	result.Stderr = e.clean(stderr.String())

	switch {
	case result.TimedOut:
		result.Stderr = prefixLine(fmt.Sprintf("Execution timed out after %dms.", timeout.Milliseconds()), result.Stderr)
	case result.Cancelled:
		result.Stderr = prefixLine("Execution cancelled.", result.Stderr)
	}

	e.logger.Debug("process exited",
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("exit_code", exitCode),
		zap.Bool("timed_out", result.TimedOut),
		zap.Bool("cancelled", result.Cancelled),
		zap.Duration("duration", result.Duration))
	tracing.TraceExecutorResult(span, exitCode, result.Killed(), nil)

	return result
}

func (e *Executor) effectiveTimeout(requested time.Duration) time.Duration {
	timeout := requested
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	if timeout <= 0 || timeout > config.MaxExecutionTimeout {
		timeout = config.MaxExecutionTimeout
	}
	return timeout
}

// terminate sends SIGTERM to the process group and escalates to SIGKILL
// when the process is still alive after the grace window. A descendant that
// left the group can keep the output pipes open; after one more grace window
// the read ends are closed so the readers, and with them Wait, return.
func (e *Executor) terminate(pid int, done <-chan error, pipes ...io.Closer) error {
	if err := terminateProcessGroup(pid); err != nil {
		e.logger.Debug("graceful termination failed", zap.Int("pid", pid), zap.Error(err))
	}
	grace := time.NewTimer(e.killGrace)
	defer grace.Stop()
	select {
	case err := <-done:
		return err
	case <-grace.C:
	}

	e.logger.Warn("process ignored SIGTERM, killing", zap.Int("pid", pid))
	if err := killProcessGroup(pid); err != nil {
		e.logger.Debug("force kill failed", zap.Int("pid", pid), zap.Error(err))
	}
	grace.Reset(e.killGrace)
	select {
	case err := <-done:
		return err
	case <-grace.C:
	}

	e.logger.Warn("output still open after kill, closing pipes", zap.Int("pid", pid))
	for _, p := range pipes {
		_ = p.Close()
	}
	return <-done
}

// spawnFailure reports a process that never started. ExitCode stays nil.
func (e *Executor) spawnFailure(span trace.Span, start time.Time, err error) *Result {
	e.logger.Warn("failed to start process", zap.Error(err))
	tracing.TraceExecutorResult(span, -1, false, err)
	return &Result{
		Success:  false,
		Stderr:   err.Error(),
		Duration: time.Since(start),
	}
}

// clean strips ANSI sequences and progress lines, trims, and truncates.
func (e *Executor) clean(s string) string {
	s = stringutil.StripANSI(s)
	s = progressLine.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	return stringutil.TruncateWithMarker(s, e.maxOutputLength)
}

func readOutput(r io.Reader, sink *strings.Builder, forward func(string)) error {
	buf := bufio.NewReaderSize(r, readChunkSize)
	data := make([]byte, readChunkSize)
	for {
		n, err := buf.Read(data)
		if n > 0 {
			chunk := string(data[:n])
			sink.WriteString(chunk)
			if forward != nil {
				forward(chunk)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, fs.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func exitCodeOf(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func prefixLine(prefix, s string) string {
	if s == "" {
		return prefix
	}
	return prefix + "\n" + s
}
