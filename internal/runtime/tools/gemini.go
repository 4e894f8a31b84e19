package tools

import (
	"context"
	"regexp"
	"strings"
)

var (
	_ Dialect       = (*GeminiCode)(nil)
	_ SessionLister = (*GeminiCode)(nil)
)

// geminiSessionLine matches "1. Fix bug in auth (2 days ago) [a1b2c3d4]".
var geminiSessionLine = regexp.MustCompile(`^\s*(\d+)\.\s+(.+?)\s+\(([^)]+)\)\s*(?:\[([^\]]+)\])?`)

// GeminiCode drives `gemini -p`. A bare --resume picks the latest session.
type GeminiCode struct{}

func (GeminiCode) Info() Info {
	return Info{
		Name:        "geminicode",
		CommandName: "gemini",
		DisplayName: "Gemini CLI",
		Capabilities: Capabilities{
			Session:      true,
			Model:        true,
			ListSessions: true,
		},
	}
}

func (GeminiCode) Build(bin, prompt string, opts RunOptions) Command {
	b := Cmd(bin).
		Prompt(NewParam("-p", "{prompt}"), prompt).
		Model(NewParam("-m", "{model}"), opts.Model)
	if !opts.NewSession {
		b.Flag("--resume")
		if opts.SessionID != "" {
			b.Flag(opts.SessionID)
		}
	}
	return b.Build()
}

// Sessions uses the list index as id; `gemini --resume <index>` accepts it.
func (GeminiCode) Sessions(ctx context.Context, run HelperRunner) []SessionInfo {
	return parseGeminiSessions(run(ctx, "--list-sessions"))
}

func parseGeminiSessions(output string) []SessionInfo {
	var sessions []SessionInfo
	for _, line := range nonEmptyLines(output) {
		m := geminiSessionLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		sessions = append(sessions, SessionInfo{
			ID:        m[1],
			Title:     strings.TrimSpace(m[2]),
			UpdatedAt: strings.TrimSpace(m[3]),
		})
	}
	return sessions
}
