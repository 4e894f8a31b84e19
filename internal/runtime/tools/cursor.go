package tools

var _ Dialect = (*CursorCode)(nil)

// CursorCode drives the Cursor CLI, whose binary is named `agent`.
type CursorCode struct{}

func (CursorCode) Info() Info {
	return Info{
		Name:        "cursorcode",
		CommandName: "cursor",
		DisplayName: "Cursor",
		Executable:  "agent",
	}
}

func (CursorCode) Build(bin, prompt string, _ RunOptions) Command {
	return Cmd(bin, "-p").Prompt(Param{}, prompt).Build()
}
