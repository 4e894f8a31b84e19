package tools

import (
	"strings"

	"github.com/dachongbaba/openbotgate/internal/runtime/executor"
)

// Command is a built argument vector.
type Command struct {
	args []string
}

// NewCommand creates a Command from the given arguments.
func NewCommand(args ...string) Command {
	return Command{args: append([]string{}, args...)}
}

// Args returns the raw argument slice.
func (c Command) Args() []string { return c.args }

// IsEmpty reports whether the command has no arguments.
func (c Command) IsEmpty() bool { return len(c.args) == 0 }

// String renders the command as one shell line. The binary comes from trusted
// configuration and is kept verbatim so overrides like "npx -y pkg" work;
// every other argument is quoted for the platform shell.
func (c Command) String() string {
	if len(c.args) == 0 {
		return ""
	}
	parts := make([]string, len(c.args))
	parts[0] = c.args[0]
	for i, arg := range c.args[1:] {
		parts[i+1] = executor.QuoteArg(arg)
	}
	return strings.Join(parts, " ")
}

// Param is a flag with its arguments. "{model}" and "{prompt}" placeholders
// are substituted by the builder.
type Param struct {
	args []string
}

// NewParam creates a Param from the given arguments.
func NewParam(args ...string) Param {
	return Param{args: append([]string{}, args...)}
}

// IsEmpty reports whether the param has no arguments.
func (p Param) IsEmpty() bool { return len(p.args) == 0 }

// CmdBuilder constructs CLI commands using a fluent API.
type CmdBuilder struct {
	args []string
}

// Cmd starts building a command from a base command and arguments.
func Cmd(base ...string) *CmdBuilder {
	return &CmdBuilder{args: append([]string{}, base...)}
}

// Model appends a model flag if model is non-empty.
func (b *CmdBuilder) Model(flag Param, model string) *CmdBuilder {
	if flag.IsEmpty() || model == "" {
		return b
	}
	for _, arg := range flag.args {
		b.args = append(b.args, strings.ReplaceAll(arg, "{model}", model))
	}
	return b
}

// Resume appends flag and sessionID unless sessionID is empty or a new
// session was requested.
func (b *CmdBuilder) Resume(flag Param, sessionID string, newSession bool) *CmdBuilder {
	if sessionID == "" || newSession || flag.IsEmpty() {
		return b
	}
	b.args = append(b.args, flag.args...)
	b.args = append(b.args, sessionID)
	return b
}

// Continue appends resume when a session id is known, the continue flag when
// it is not, and nothing for a new session.
func (b *CmdBuilder) Continue(resume, cont Param, sessionID string, newSession bool) *CmdBuilder {
	if newSession {
		return b
	}
	if sessionID != "" {
		return b.Resume(resume, sessionID, false)
	}
	b.args = append(b.args, cont.args...)
	return b
}

// Prompt appends the prompt. An empty flag appends it as a positional argument.
func (b *CmdBuilder) Prompt(flag Param, prompt string) *CmdBuilder {
	if flag.IsEmpty() {
		b.args = append(b.args, prompt)
		return b
	}
	for _, arg := range flag.args {
		b.args = append(b.args, strings.ReplaceAll(arg, "{prompt}", prompt))
	}
	return b
}

// Flag appends arbitrary flag parts to the command.
func (b *CmdBuilder) Flag(parts ...string) *CmdBuilder {
	b.args = append(b.args, parts...)
	return b
}

// FlagIf appends parts when value is non-empty, followed by value.
func (b *CmdBuilder) FlagIf(value string, parts ...string) *CmdBuilder {
	if value == "" {
		return b
	}
	b.args = append(b.args, parts...)
	b.args = append(b.args, value)
	return b
}

// Build returns the final Command value.
func (b *CmdBuilder) Build() Command {
	return Command{args: b.args}
}
