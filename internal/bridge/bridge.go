// Package bridge is the surface a chat gateway calls. It ties the user's
// session, the tool registry, the task manager and output streaming together
// for one inbound message.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dachongbaba/openbotgate/internal/common/config"
	"github.com/dachongbaba/openbotgate/internal/common/logger"
	"github.com/dachongbaba/openbotgate/internal/runtime/session"
	"github.com/dachongbaba/openbotgate/internal/runtime/streaming"
	"github.com/dachongbaba/openbotgate/internal/runtime/task"
	"github.com/dachongbaba/openbotgate/internal/runtime/tools"
)

var (
	// ErrToolNotAllowed is returned when switching to a tool outside the allow-list.
	ErrToolNotAllowed = errors.New("tool not allowed")
	// ErrUnsupported is returned when the active tool lacks the needed capability.
	ErrUnsupported = errors.New("not supported by tool")
	// ErrInvalidCwd is returned when a working directory does not exist.
	ErrInvalidCwd = errors.New("invalid working directory")
)

// Status is a snapshot of one user's state.
type Status struct {
	Session      session.UserSession
	DisplayName  string
	Capabilities tools.Capabilities
	Tasks        []*task.Task
}

// Bridge executes chat requests on behalf of users.
type Bridge struct {
	cfg      *config.Config
	registry *tools.Registry
	tasks    *task.Manager
	sessions *session.Manager
	logger   *logger.Logger

	wg sync.WaitGroup
}

// New creates a Bridge over already constructed runtime components.
func New(cfg *config.Config, registry *tools.Registry, tasks *task.Manager, sessions *session.Manager, log *logger.Logger) *Bridge {
	return &Bridge{
		cfg:      cfg,
		registry: registry,
		tasks:    tasks,
		sessions: sessions,
		logger:   log.WithFields(zap.String("component", "bridge")),
	}
}

// ExecutePrompt runs prompt with the user's active tool, streams live output
// to sink and delivers the final result. The returned session id, if any, is
// stored for continuation.
func (b *Bridge) ExecutePrompt(ctx context.Context, userID, prompt string, sink streaming.Sink) (*tools.ToolResult, error) {
	s := b.sessions.GetSession(userID)
	result := b.run(ctx, userID, s.Tool, prompt, b.promptOptions(s), sink)
	b.recordContinuation(userID, s, result)
	return result, streaming.SendResult(ctx, sink, result, b.cfg.Streaming, b.logger)
}

// RunShell runs an allow-listed shell command line. Lines starting with git
// go through the git path.
func (b *Bridge) RunShell(ctx context.Context, userID, commandLine string, sink streaming.Sink) (*tools.ToolResult, error) {
	tool, command := splitShell(commandLine)
	s := b.sessions.GetSession(userID)
	result := b.run(ctx, userID, tool, command, tools.RunOptions{Cwd: s.Cwd}, sink)
	return result, streaming.SendResult(ctx, sink, result, b.cfg.Streaming, b.logger)
}

// RunAsync starts prompt in the background and returns the task id at once.
// The outcome is delivered through sink.Send when the task finishes.
func (b *Bridge) RunAsync(ctx context.Context, userID, prompt string, sink streaming.Sink) string {
	s := b.sessions.GetSession(userID)
	t := b.tasks.CreateTask(userID, prompt, s.Tool)
	opts := b.promptOptions(s)

	bg := context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		result := b.tasks.ExecuteTask(bg, t.ID, opts)
		if result == nil {
			return
		}
		b.recordContinuation(userID, s, result)

		title := fmt.Sprintf("Task %s completed", ShortID(t.ID))
		content := result.Output
		if !result.Success {
			title = fmt.Sprintf("Task %s failed", ShortID(t.ID))
			content = result.Error
		}
		if strings.TrimSpace(content) == "" {
			content = fmt.Sprintf("No output from %s.", result.Tool)
		}
		if err := sink.Send(bg, title, content); err != nil {
			b.logger.WithUserID(userID).WithTaskID(t.ID).Warn("failed to deliver async result", zap.Error(err))
		}
	}()
	return t.ID
}

// Wait blocks until every background task started by RunAsync has delivered.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// SwitchTool makes name (adapter or command name) the user's active tool and
// drops any continuation state of the previous one.
func (b *Bridge) SwitchTool(userID, name string) (tools.Adapter, error) {
	a, err := b.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	if !b.cfg.IsCodeToolAllowed(a.Name()) {
		return nil, fmt.Errorf("%s: %w", a.DisplayName(), ErrToolNotAllowed)
	}
	b.sessions.ResetSession(userID)
	b.sessions.UpdateSession(userID, session.Patch{Tool: session.String(a.Name())})
	b.logger.Info("switched tool",
		zap.String("user_id", userID),
		zap.String("tool", a.Name()))
	return a, nil
}

// SetModel selects the model for the active tool. An empty model clears it.
func (b *Bridge) SetModel(userID, model string) error {
	a, err := b.activeAdapter(userID)
	if err != nil {
		return err
	}
	if !a.Capabilities().Model {
		return fmt.Errorf("model selection: %w %s", ErrUnsupported, a.DisplayName())
	}
	b.sessions.UpdateSession(userID, session.Patch{Model: session.String(strings.TrimSpace(model))})
	return nil
}

// SetAgent selects the agent for the active tool. An empty agent clears it.
func (b *Bridge) SetAgent(userID, agent string) error {
	a, err := b.activeAdapter(userID)
	if err != nil {
		return err
	}
	if !a.Capabilities().Agent {
		return fmt.Errorf("agent selection: %w %s", ErrUnsupported, a.DisplayName())
	}
	b.sessions.UpdateSession(userID, session.Patch{Agent: session.String(strings.TrimSpace(agent))})
	return nil
}

// SetCwd sets the working directory for later runs. An empty dir clears it.
func (b *Bridge) SetCwd(userID, dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidCwd, err)
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return "", fmt.Errorf("%w: %s", ErrInvalidCwd, abs)
		}
		dir = abs
	}
	b.sessions.UpdateSession(userID, session.Patch{Cwd: session.String(dir)})
	return dir, nil
}

// NewSession makes the next prompt start a fresh conversation.
func (b *Bridge) NewSession(userID string) {
	b.sessions.RequestNewSession(userID)
}

// ResetSession drops the user's session id, model and agent.
func (b *Bridge) ResetSession(userID string) {
	b.sessions.ResetSession(userID)
}

// ListTasks returns the user's tracked tasks, newest first.
func (b *Bridge) ListTasks(userID string) []*task.Task {
	return b.tasks.GetUserTasks(userID)
}

// CancelTask cancels one of the user's own tasks. id may be a unique prefix.
// It returns false without an error when the task had already finished.
func (b *Bridge) CancelTask(userID, id string) (bool, error) {
	t, err := b.findTask(userID, id)
	if err != nil {
		return false, err
	}
	return b.tasks.CancelTask(t.ID), nil
}

// ListModels returns the models offered by the active tool. Tools with model
// selection but no list command return their presets.
func (b *Bridge) ListModels(ctx context.Context, userID string) ([]string, error) {
	a, err := b.activeAdapter(userID)
	if err != nil {
		return nil, err
	}
	if caps := a.Capabilities(); !caps.ListModels && !caps.Model {
		return nil, fmt.Errorf("model listing: %w %s", ErrUnsupported, a.DisplayName())
	}
	return a.ListModels(ctx), nil
}

// ListSessions returns the stored sessions of the active tool.
func (b *Bridge) ListSessions(ctx context.Context, userID string) ([]tools.SessionInfo, error) {
	a, err := b.activeAdapter(userID)
	if err != nil {
		return nil, err
	}
	if !a.Capabilities().ListSessions {
		return nil, fmt.Errorf("session listing: %w %s", ErrUnsupported, a.DisplayName())
	}
	return a.ListSessions(ctx), nil
}

// UseSession continues the given session id of the active tool.
func (b *Bridge) UseSession(userID, sessionID string) error {
	a, err := b.activeAdapter(userID)
	if err != nil {
		return err
	}
	if !a.Capabilities().Session {
		return fmt.Errorf("session resume: %w %s", ErrUnsupported, a.DisplayName())
	}
	b.sessions.UpdateSession(userID, session.Patch{
		SessionID:           session.String(strings.TrimSpace(sessionID)),
		NewSessionRequested: session.Bool(false),
	})
	return nil
}

// ListAgents returns the agents offered by the active tool.
func (b *Bridge) ListAgents(ctx context.Context, userID string) ([]string, error) {
	a, err := b.activeAdapter(userID)
	if err != nil {
		return nil, err
	}
	if !a.Capabilities().ListAgents {
		return nil, fmt.Errorf("agent listing: %w %s", ErrUnsupported, a.DisplayName())
	}
	return a.ListAgents(ctx), nil
}

// Tools returns the allow-listed adapters in allow-list order.
func (b *Bridge) Tools() []tools.Adapter {
	return b.registry.Enabled()
}

// Status reports the user's session, active tool and tasks.
func (b *Bridge) Status(userID string) Status {
	s := b.sessions.GetSession(userID)
	st := Status{Session: s, DisplayName: s.Tool, Tasks: b.tasks.GetUserTasks(userID)}
	if a, ok := b.registry.Get(s.Tool); ok {
		st.DisplayName = a.DisplayName()
		st.Capabilities = a.Capabilities()
	}
	return st
}

func (b *Bridge) run(ctx context.Context, userID, tool, command string, opts tools.RunOptions, sink streaming.Sink) *tools.ToolResult {
	t := b.tasks.CreateTask(userID, command, tool)
	stream := streaming.NewHandler(ctx, sink.Reply, b.cfg.Streaming.ThrottleDuration(), b.logger)
	opts.OnOutput = stream.OnOutput

	result := b.tasks.ExecuteTask(ctx, t.ID, opts)
	stream.Complete()
	if result == nil {
		// Purged between create and execute.
		return &tools.ToolResult{Tool: tool, Error: task.ErrTaskNotFound.Error()}
	}
	return result
}

func (b *Bridge) promptOptions(s session.UserSession) tools.RunOptions {
	return tools.RunOptions{
		SessionID:  s.SessionID,
		Model:      s.Model,
		Agent:      s.Agent,
		Cwd:        s.Cwd,
		NewSession: s.NewSessionRequested,
	}
}

// recordContinuation clears a pending new-session request once a run went
// through and stores a session id reported by the tool.
func (b *Bridge) recordContinuation(userID string, s session.UserSession, result *tools.ToolResult) {
	if s.NewSessionRequested && (result.Success || result.SessionID != "") {
		b.sessions.ClearNewSessionRequest(userID)
	}
	if result.SessionID != "" {
		cur := b.sessions.GetSession(userID)
		if cur.Tool == s.Tool {
			b.sessions.UpdateSession(userID, session.Patch{SessionID: session.String(result.SessionID)})
		}
	}
}

func (b *Bridge) activeAdapter(userID string) (tools.Adapter, error) {
	return b.registry.Lookup(b.sessions.GetSession(userID).Tool)
}

func (b *Bridge) findTask(userID, id string) (*task.Task, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, task.ErrTaskNotFound
	}
	var match *task.Task
	for _, t := range b.tasks.GetUserTasks(userID) {
		if t.ID == id {
			return t, nil
		}
		if strings.HasPrefix(t.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("ambiguous task id %q", id)
			}
			match = t
		}
	}
	if match == nil {
		return nil, task.ErrTaskNotFound
	}
	return match, nil
}

// splitShell maps a command line to the git or shell tool.
func splitShell(line string) (tool, command string) {
	line = strings.TrimSpace(line)
	first, rest, _ := strings.Cut(line, " ")
	if strings.EqualFold(first, tools.ToolGit) {
		return tools.ToolGit, strings.TrimSpace(rest)
	}
	return tools.ToolShell, line
}

// ShortID returns the first eight characters of a task id.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
