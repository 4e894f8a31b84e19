//go:build windows

package encoding

import "golang.org/x/sys/windows"

var procGetConsoleOutputCP = windows.NewLazySystemDLL("kernel32.dll").NewProc("GetConsoleOutputCP")

// consoleCodePage returns the active console output code page.
func consoleCodePage() (uint32, bool) {
	if err := procGetConsoleOutputCP.Find(); err != nil {
		return 0, false
	}
	cp, _, _ := procGetConsoleOutputCP.Call()
	if cp == 0 {
		return 0, false
	}
	return uint32(cp), true
}
