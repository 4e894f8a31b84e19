package tools

import "context"

var (
	_ Dialect       = (*QwenCode)(nil)
	_ SessionParser = (*QwenCode)(nil)
	_ OutputParser  = (*QwenCode)(nil)
	_ ModelLister   = (*QwenCode)(nil)
)

// QwenCode drives `qwen -p` with JSON output so the session id can be captured.
type QwenCode struct{}

func (QwenCode) Info() Info {
	return Info{
		Name:        "qwencode",
		CommandName: "qwen",
		DisplayName: "Qwen Code",
		Capabilities: Capabilities{
			Session: true,
			Compact: true,
		},
	}
}

func (QwenCode) Build(bin, prompt string, opts RunOptions) Command {
	return Cmd(bin, "-p").
		Continue(NewParam("--resume"), NewParam("--continue"), opts.SessionID, opts.NewSession).
		Flag("--output-format", "json").
		Prompt(Param{}, prompt).
		Build()
}

func (QwenCode) ParseSessionID(output string) string {
	return jsonField(output, "session_id")
}

// ParseOutput returns the final "result" text of the JSON report.
func (QwenCode) ParseOutput(stdout string) string {
	return jsonField(stdout, "result")
}

func (QwenCode) Models(context.Context, HelperRunner) []string {
	return []string{"qwen3-coder-plus", "qwen3-coder"}
}
