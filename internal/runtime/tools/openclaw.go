package tools

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	_ Dialect       = (*OpenClaw)(nil)
	_ SessionParser = (*OpenClaw)(nil)
	_ ModelLister   = (*OpenClaw)(nil)
	_ SessionLister = (*OpenClaw)(nil)
	_ AgentLister   = (*OpenClaw)(nil)
)

// OpenClaw drives `openclaw agent --message ... --json`.
type OpenClaw struct{}

func (OpenClaw) Info() Info {
	return Info{
		Name:        "openclaw",
		CommandName: "openclaw",
		DisplayName: "OpenClaw",
		Capabilities: Capabilities{
			Session:      true,
			Model:        true,
			Agent:        true,
			ListModels:   true,
			ListSessions: true,
			ListAgents:   true,
		},
	}
}

func (OpenClaw) Build(bin, prompt string, opts RunOptions) Command {
	return Cmd(bin, "agent").
		Prompt(NewParam("--message", "{prompt}"), prompt).
		Resume(NewParam("--session-id"), opts.SessionID, opts.NewSession).
		FlagIf(opts.Agent, "--agent").
		Flag("--json").
		Build()
}

func (OpenClaw) ParseSessionID(output string) string {
	return jsonField(output, "session_id", "sessionId")
}

func (OpenClaw) Models(ctx context.Context, run HelperRunner) []string {
	return nonEmptyLines(run(ctx, "models", "list", "--plain"))
}

func (OpenClaw) Sessions(ctx context.Context, run HelperRunner) []SessionInfo {
	return parseOpenClawSessions(run(ctx, "sessions", "--json"))
}

func (OpenClaw) Agents(ctx context.Context, run HelperRunner) []string {
	return parseOpenClawAgents(run(ctx, "agents", "list", "--json"))
}

// parseOpenClawSessions accepts a JSON array of sessions and falls back to a
// plain table when the output is not JSON.
func parseOpenClawSessions(output string) []SessionInfo {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil
	}
	if !gjson.Valid(trimmed) {
		return parseSessionTable(trimmed)
	}
	parsed := gjson.Parse(trimmed)
	if !parsed.IsArray() {
		return nil
	}
	var sessions []SessionInfo
	parsed.ForEach(func(_, s gjson.Result) bool {
		sessions = append(sessions, SessionInfo{
			ID:        firstString(s, "id", "session_id"),
			Title:     firstString(s, "title", "name"),
			UpdatedAt: firstString(s, "updated_at", "updatedAt"),
		})
		return true
	})
	return sessions
}

func parseOpenClawAgents(output string) []string {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil
	}
	if !gjson.Valid(trimmed) {
		return nonEmptyLines(trimmed)
	}
	parsed := gjson.Parse(trimmed)
	if !parsed.IsArray() {
		return nil
	}
	var agents []string
	parsed.ForEach(func(_, a gjson.Result) bool {
		name := a.String()
		if a.IsObject() {
			name = firstString(a, "name", "id")
		}
		if name != "" {
			agents = append(agents, name)
		}
		return true
	})
	return agents
}

func firstString(obj gjson.Result, keys ...string) string {
	for _, key := range keys {
		if v := obj.Get(key); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
