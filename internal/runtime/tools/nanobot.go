package tools

var (
	_ Dialect     = (*Nanobot)(nil)
	_ EnvProvider = (*Nanobot)(nil)
)

// Nanobot drives `nanobot agent --message`.
type Nanobot struct{}

func (Nanobot) Info() Info {
	return Info{
		Name:         "nanobot",
		CommandName:  "nanobot",
		DisplayName:  "Nanobot",
		Capabilities: Capabilities{Session: true},
	}
}

func (Nanobot) Build(bin, prompt string, opts RunOptions) Command {
	return Cmd(bin, "agent").
		Prompt(NewParam("--message", "{prompt}"), prompt).
		Resume(NewParam("--session"), opts.SessionID, opts.NewSession).
		Build()
}

// Env forces UTF-8 stdio; Python otherwise uses the console code page on Windows.
func (Nanobot) Env() map[string]string {
	return map[string]string{"PYTHONIOENCODING": "utf-8"}
}
