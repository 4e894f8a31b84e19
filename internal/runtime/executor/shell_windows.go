//go:build windows

package executor

import "strings"

// shellExecArgs returns the program and arguments that run command through
// cmd.exe: cmd /c "command".
func shellExecArgs(command string) (prog string, args []string) {
	return "cmd", []string{"/c", command}
}

// QuoteArg quotes s as one cmd.exe argument. Newlines collapse to spaces and
// cmd metacharacters are caret-escaped.
func QuoteArg(s string) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
	if s != "" && !strings.ContainsAny(s, " \t\"&|<>^%") {
		return s
	}
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.NewReplacer("^", "^^", "&", "^&", "|", "^|", "<", "^<", ">", "^>", "%", "^%").Replace(s)
	return `"` + s + `"`
}
