//go:build !windows

package executor

import "strings"

// shellExecArgs returns the program and arguments that run command through
// the system shell: sh -c "command".
func shellExecArgs(command string) (prog string, args []string) {
	return "sh", []string{"-c", command}
}

// QuoteArg quotes s as a single POSIX shell word.
func QuoteArg(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuoting) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./=:,@%+", r)
}
