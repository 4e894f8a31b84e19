package tools

var _ Dialect = (*CodeBuddy)(nil)

// CodeBuddy drives `codebuddy -p ... -y`; -y skips permission prompts.
type CodeBuddy struct{}

func (CodeBuddy) Info() Info {
	return Info{
		Name:        "codebuddy",
		CommandName: "codebuddy",
		DisplayName: "CodeBuddy",
	}
}

func (CodeBuddy) Build(bin, prompt string, _ RunOptions) Command {
	return Cmd(bin).Prompt(NewParam("-p", "{prompt}"), prompt).Flag("-y").Build()
}
