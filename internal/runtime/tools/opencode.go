package tools

import "context"

var (
	_ Dialect       = (*OpenCode)(nil)
	_ ModelLister   = (*OpenCode)(nil)
	_ SessionLister = (*OpenCode)(nil)
	_ AgentLister   = (*OpenCode)(nil)
)

// OpenCode drives `opencode run`.
type OpenCode struct{}

func (OpenCode) Info() Info {
	return Info{
		Name:        "opencode",
		CommandName: "opencode",
		DisplayName: "OpenCode",
		Capabilities: Capabilities{
			Session:      true,
			Model:        true,
			Agent:        true,
			Compact:      true,
			ListModels:   true,
			ListSessions: true,
			ListAgents:   true,
		},
	}
}

func (OpenCode) Build(bin, prompt string, opts RunOptions) Command {
	return Cmd(bin, "run").
		Resume(NewParam("-s"), opts.SessionID, opts.NewSession).
		Model(NewParam("-m", "{model}"), opts.Model).
		FlagIf(opts.Agent, "--agent").
		Prompt(Param{}, prompt).
		Build()
}

func (OpenCode) Models(ctx context.Context, run HelperRunner) []string {
	return nonEmptyLines(run(ctx, "models"))
}

func (OpenCode) Sessions(ctx context.Context, run HelperRunner) []SessionInfo {
	return parseSessionTable(run(ctx, "session", "list"))
}

func (OpenCode) Agents(ctx context.Context, run HelperRunner) []string {
	return nonEmptyLines(run(ctx, "agent", "list"))
}
