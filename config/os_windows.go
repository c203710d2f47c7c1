//go:build windows

package config

import (
	"os"
	"strings"

	"golang.org/x/sys/windows"
	"golang.org/x/term"
)

const forbiddenChars = `<>":/\|?*` + string(os.PathListSeparator)

// trimName drops trailing dots and spaces, Windows silently strips them.
func trimName(name string) string {
	return strings.TrimRight(name, ". ")
}

// EnableColorOutput checks if console is a terminal and switches on VT100
// sequence processing for it. Consoles without VT100 support refuse the mode.
func EnableColorOutput(stream *os.File) bool {
	if !term.IsTerminal(int(stream.Fd())) {
		return false
	}

	h := windows.Handle(stream.Fd())
	var mode uint32
	if err := windows.GetConsoleMode(h, &mode); err != nil {
		return false
	}
	return windows.SetConsoleMode(h, mode|windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING) == nil
}
