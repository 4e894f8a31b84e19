// Package stringutil provides common string utility functions.
package stringutil

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// TruncationMarker is appended to output cut by TruncateWithMarker.
const TruncationMarker = "\n\n[Output truncated - too long to display]"

// ansiPattern matches ANSI escape sequences (CSI sequences and two-byte escapes).
var ansiPattern = regexp.MustCompile(`\x1b(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// TruncateString truncates a string to at most maxLen bytes without splitting a rune.
func TruncateString(s string, maxLen int) string {
	if maxLen < 0 {
		maxLen = 0
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// TruncateStringWithEllipsis truncates a string to a maximum length and adds "..." suffix.
func TruncateStringWithEllipsis(s string, maxLen int) string {
	if maxLen < 4 {
		return TruncateString(s, maxLen)
	}
	if len(s) <= maxLen {
		return s
	}
	return TruncateString(s, maxLen-3) + "..."
}

// TruncateWithMarker cuts s to maxLen bytes and appends TruncationMarker when it was longer.
func TruncateWithMarker(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return TruncateString(s, maxLen) + TruncationMarker
}

// StripANSI removes ANSI escape sequences.
func StripANSI(s string) string {
	if !strings.Contains(s, "\x1b") {
		return s
	}
	return ansiPattern.ReplaceAllString(s, "")
}

// SplitAtNewlines splits s into chunks of at most maxLen bytes, preferring to cut at
// the last newline inside the window. The newline at a cut point is dropped.
func SplitAtNewlines(s string, maxLen int) []string {
	if maxLen <= 0 {
		return []string{s}
	}
	var chunks []string
	remaining := s
	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			chunks = append(chunks, remaining)
			break
		}
		split := strings.LastIndex(remaining[:maxLen+1], "\n")
		if split == 0 {
			remaining = remaining[1:]
			continue
		}
		if split < 0 {
			chunk := TruncateString(remaining, maxLen)
			if chunk == "" {
				// maxLen smaller than the first rune; take the whole rune.
				_, size := utf8.DecodeRuneInString(remaining)
				chunk = remaining[:size]
			}
			chunks = append(chunks, chunk)
			remaining = remaining[len(chunk):]
			continue
		}
		chunks = append(chunks, remaining[:split])
		remaining = remaining[split+1:]
	}
	return chunks
}
