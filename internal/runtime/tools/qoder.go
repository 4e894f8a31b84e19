package tools

var _ Dialect = (*QoderCode)(nil)

// QoderCode drives the Qoder CLI, installed as `qodercli`.
type QoderCode struct{}

func (QoderCode) Info() Info {
	return Info{
		Name:        "qodercode",
		CommandName: "qoder",
		DisplayName: "Qoder",
		Executable:  "qodercli",
	}
}

func (QoderCode) Build(bin, prompt string, _ RunOptions) Command {
	return Cmd(bin).Prompt(NewParam("-p", "{prompt}"), prompt).Build()
}
