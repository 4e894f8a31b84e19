package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dachongbaba/openbotgate/internal/bridge"
	"github.com/dachongbaba/openbotgate/internal/common/config"
	"github.com/dachongbaba/openbotgate/internal/common/stringutil"
	"github.com/dachongbaba/openbotgate/internal/runtime/streaming"
	"github.com/dachongbaba/openbotgate/internal/runtime/tools"
)

const helpText = `Commands:
  <text>              send a prompt to the active tool
  /code [tool]        show tools or switch the active tool
  /new                start a fresh conversation on the next prompt
  /reset              forget session, model and agent
  /model [name]       list models or select one
  /agent [name]       list agents or select one
  /sessions           list the tool's sessions
  /session <id>       continue a listed session
  /cwd [dir]          show or set the working directory
  /async <text>       run a prompt in the background
  /tasks              list your tasks
  /cancel <id>        cancel a task
  /status             show the current session
  /git <args>         run git
  /<cmd> [args]       run an allow-listed shell command`

// consoleSink writes replies to the console. Writes are serialized so
// concurrent runs do not interleave mid-line.
type consoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

var _ streaming.Sink = (*consoleSink)(nil)

func (s *consoleSink) Reply(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.out, text)
	return err
}

func (s *consoleSink) Send(_ context.Context, title, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "== %s ==\n%s\n", title, content)
	return err
}

// console routes input lines to the bridge as one user.
type console struct {
	bridge *bridge.Bridge
	cfg    *config.Config
	sink   *consoleSink
	user   string

	wg sync.WaitGroup
}

func newConsole(b *bridge.Bridge, cfg *config.Config, out io.Writer) *console {
	return &console{
		bridge: b,
		cfg:    cfg,
		sink:   &consoleSink{out: out},
		user:   consoleUser,
	}
}

// Serve reads lines until EOF or ctx is done. Runs execute concurrently;
// Serve returns after the last one finished.
func (c *console) Serve(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	defer c.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			c.handle(ctx, line)
		}
	}
}

// handle runs one message. Prompts and shell commands run in the background
// so /cancel and /tasks stay responsive.
func (c *console) handle(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, "/") {
		c.spawn(func() { _, _ = c.bridge.ExecutePrompt(ctx, c.user, line, c.sink) })
		return
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	name = strings.ToLower(name)
	arg = strings.TrimSpace(arg)

	switch name {
	case "help", "start":
		c.reply(ctx, helpText)
	case "code":
		c.code(ctx, arg)
	case "new":
		c.bridge.NewSession(c.user)
		c.reply(ctx, "Next prompt starts a new session.")
	case "reset":
		c.bridge.ResetSession(c.user)
		c.reply(ctx, "Session reset.")
	case "model":
		c.model(ctx, arg)
	case "agent":
		c.agent(ctx, arg)
	case "sessions":
		c.sessions(ctx)
	case "session":
		if arg == "" {
			c.reply(ctx, "Usage: /session <id>")
			return
		}
		c.replyErr(ctx, c.bridge.UseSession(c.user, arg), "Continuing session "+arg+".")
	case "cwd":
		c.cwd(ctx, arg)
	case "async":
		if arg == "" {
			c.reply(ctx, "Usage: /async <prompt>")
			return
		}
		id := c.bridge.RunAsync(ctx, c.user, arg, c.sink)
		c.reply(ctx, fmt.Sprintf("Started task %s.", bridge.ShortID(id)))
	case "tasks":
		c.tasks(ctx)
	case "cancel":
		ok, err := c.bridge.CancelTask(c.user, arg)
		switch {
		case err != nil:
			c.reply(ctx, err.Error())
		case ok:
			c.reply(ctx, "Task cancelled.")
		default:
			c.reply(ctx, "Task already finished.")
		}
	case "status":
		c.status(ctx)
	default:
		if name == tools.ToolGit || c.cfg.IsShellCommandAllowed(name) {
			command := strings.TrimPrefix(line, "/")
			c.spawn(func() { _, _ = c.bridge.RunShell(ctx, c.user, command, c.sink) })
			return
		}
		c.reply(ctx, fmt.Sprintf("Unknown command: /%s. Try /help.", name))
	}
}

func (c *console) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *console) reply(ctx context.Context, text string) {
	_ = c.sink.Reply(ctx, text)
}

func (c *console) replyErr(ctx context.Context, err error, okText string) {
	if err != nil {
		c.reply(ctx, err.Error())
		return
	}
	c.reply(ctx, okText)
}

func (c *console) code(ctx context.Context, arg string) {
	if arg == "" {
		active := c.bridge.Status(c.user).Session.Tool
		var b strings.Builder
		b.WriteString("Tools:")
		for _, a := range c.bridge.Tools() {
			marker := " "
			if a.Name() == active {
				marker = "*"
			}
			fmt.Fprintf(&b, "\n %s %s (/code %s)", marker, a.DisplayName(), a.CommandName())
		}
		c.reply(ctx, b.String())
		return
	}
	a, err := c.bridge.SwitchTool(c.user, arg)
	if err != nil {
		c.reply(ctx, err.Error())
		return
	}
	c.reply(ctx, fmt.Sprintf("Switched to %s.", a.DisplayName()))
}

func (c *console) model(ctx context.Context, arg string) {
	if arg != "" {
		c.replyErr(ctx, c.bridge.SetModel(c.user, arg), "Model set to "+arg+".")
		return
	}
	models, err := c.bridge.ListModels(ctx, c.user)
	c.replyList(ctx, "Models", models, err)
}

func (c *console) agent(ctx context.Context, arg string) {
	if arg != "" {
		c.replyErr(ctx, c.bridge.SetAgent(c.user, arg), "Agent set to "+arg+".")
		return
	}
	agents, err := c.bridge.ListAgents(ctx, c.user)
	c.replyList(ctx, "Agents", agents, err)
}

func (c *console) sessions(ctx context.Context) {
	list, err := c.bridge.ListSessions(ctx, c.user)
	if err != nil {
		c.reply(ctx, err.Error())
		return
	}
	items := make([]string, 0, len(list))
	for _, s := range list {
		item := s.ID
		if s.Title != "" {
			item += "  " + s.Title
		}
		if s.UpdatedAt != "" {
			item += "  (" + s.UpdatedAt + ")"
		}
		items = append(items, item)
	}
	c.replyList(ctx, "Sessions", items, nil)
}

func (c *console) replyList(ctx context.Context, title string, items []string, err error) {
	if err != nil {
		c.reply(ctx, err.Error())
		return
	}
	if len(items) == 0 {
		c.reply(ctx, fmt.Sprintf("No %s found.", strings.ToLower(title)))
		return
	}
	c.reply(ctx, title+":\n  "+strings.Join(items, "\n  "))
}

func (c *console) cwd(ctx context.Context, arg string) {
	if arg == "" {
		dir := c.bridge.Status(c.user).Session.Cwd
		if dir == "" {
			dir = "(process working directory)"
		}
		c.reply(ctx, "Working directory: "+dir)
		return
	}
	dir, err := c.bridge.SetCwd(c.user, arg)
	c.replyErr(ctx, err, "Working directory set to "+dir+".")
}

func (c *console) tasks(ctx context.Context) {
	list := c.bridge.ListTasks(c.user)
	if len(list) == 0 {
		c.reply(ctx, "No tasks.")
		return
	}
	var b strings.Builder
	b.WriteString("Tasks:")
	for _, t := range list {
		fmt.Fprintf(&b, "\n  %s  %-9s %-10s %s  %s",
			bridge.ShortID(t.ID), t.Status, t.Tool,
			t.CreatedAt.Format(time.TimeOnly),
			stringutil.TruncateStringWithEllipsis(strings.ReplaceAll(t.Command, "\n", " "), 40))
	}
	c.reply(ctx, b.String())
}

func (c *console) status(ctx context.Context) {
	st := c.bridge.Status(c.user)
	s := st.Session
	lines := []string{
		"Tool: " + st.DisplayName,
		"Session: " + orNone(s.SessionID),
		"Model: " + orNone(s.Model),
		"Agent: " + orNone(s.Agent),
		"Cwd: " + orNone(s.Cwd),
	}
	if s.NewSessionRequested {
		lines = append(lines, "Next prompt starts a new session.")
	}
	lines = append(lines, fmt.Sprintf("Tasks: %d", len(st.Tasks)))
	c.reply(ctx, strings.Join(lines, "\n"))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
