package tools

var _ Dialect = (*KimiCode)(nil)

// KimiCode drives `kimi ask`.
type KimiCode struct{}

func (KimiCode) Info() Info {
	return Info{
		Name:         "kimicode",
		CommandName:  "kimi",
		DisplayName:  "Kimi",
		Capabilities: Capabilities{Session: true},
	}
}

func (KimiCode) Build(bin, prompt string, opts RunOptions) Command {
	return Cmd(bin, "ask").
		Resume(NewParam("--session"), opts.SessionID, opts.NewSession).
		Prompt(Param{}, prompt).
		Build()
}
