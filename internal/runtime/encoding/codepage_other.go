//go:build !windows

package encoding

// consoleCodePage is only meaningful on Windows.
func consoleCodePage() (uint32, bool) {
	return 0, false
}
