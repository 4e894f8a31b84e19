package tools

import "context"

var (
	_ Dialect       = (*Codex)(nil)
	_ SessionParser = (*Codex)(nil)
	_ OutputParser  = (*Codex)(nil)
	_ ModelLister   = (*Codex)(nil)
)

// Codex drives `codex exec --json`; resuming uses the `resume <id>` subcommand.
// Stdout is a stream of JSON events, one per line.
type Codex struct{}

func (Codex) Info() Info {
	return Info{
		Name:        "codex",
		CommandName: "codex",
		DisplayName: "Codex",
		Capabilities: Capabilities{
			Session: true,
			Model:   true,
		},
	}
}

func (Codex) Build(bin, prompt string, opts RunOptions) Command {
	return Cmd(bin, "exec").
		Resume(NewParam("resume"), opts.SessionID, opts.NewSession).
		Model(NewParam("-m", "{model}"), opts.Model).
		Flag("--full-auto").
		Flag("--json").
		Prompt(Param{}, prompt).
		Build()
}

// ParseSessionID reads the thread id from the "thread.started" event. Older
// releases report it as session_id inside a "session_configured" message.
func (Codex) ParseSessionID(output string) string {
	return jsonField(output, "thread_id", "session_id", "msg.session_id", "conversation_id")
}

// ParseOutput returns the text of the last agent message event.
func (Codex) ParseOutput(output string) string {
	var last string
	for _, doc := range jsonDocuments(output) {
		switch {
		case doc.Get("type").String() == "item.completed" && doc.Get("item.type").String() == "agent_message":
			last = doc.Get("item.text").String()
		case doc.Get("msg.type").String() == "agent_message":
			last = doc.Get("msg.message").String()
		}
	}
	return last
}

func (Codex) Models(context.Context, HelperRunner) []string {
	return []string{"o4-mini", "o3", "gpt-4.1"}
}
