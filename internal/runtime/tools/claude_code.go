package tools

import "context"

var (
	_ Dialect     = (*ClaudeCode)(nil)
	_ ModelLister = (*ClaudeCode)(nil)
	_ AgentLister = (*ClaudeCode)(nil)
)

// ClaudeCode drives `claude -p`. Without a session id it continues the most
// recent conversation in the working directory.
type ClaudeCode struct{}

func (ClaudeCode) Info() Info {
	return Info{
		Name:        "claudecode",
		CommandName: "claude",
		DisplayName: "Claude Code",
		Capabilities: Capabilities{
			Session: true,
			Model:   true,
			Agent:   true,
		},
	}
}

func (ClaudeCode) Build(bin, prompt string, opts RunOptions) Command {
	return Cmd(bin, "-p").
		Continue(NewParam("-r"), NewParam("-c"), opts.SessionID, opts.NewSession).
		Model(NewParam("--model", "{model}"), opts.Model).
		FlagIf(opts.Agent, "--agent").
		Prompt(Param{}, prompt).
		Build()
}

func claudeCodeStaticModels() []string {
	return []string{
		"claude-sonnet-4-20250514",
		"claude-opus-4-20250514",
		"claude-haiku-3.5",
	}
}

func (ClaudeCode) Models(context.Context, HelperRunner) []string {
	return claudeCodeStaticModels()
}

func (ClaudeCode) Agents(context.Context, HelperRunner) []string {
	return []string{"plan", "build"}
}
