// Package misc keeps build-time program identification.
package misc

import (
	"os"
	"path/filepath"
	"strings"
)

// Set by the linker: -X imgspan/misc.version=... -X imgspan/misc.githash=...
var (
	version = "dev"
	githash = "unknown"
)

const appName = "imgspan"

func GetVersion() string {
	return version
}

func GetGitHash() string {
	return githash
}

// GetAppName returns program name without extension, falling back to the
// built-in name when it cannot be determined.
func GetAppName() string {
	if len(os.Args) == 0 || os.Args[0] == "" {
		return appName
	}
	name := strings.TrimSuffix(filepath.Base(os.Args[0]), filepath.Ext(os.Args[0]))
	if name == "" || strings.HasSuffix(name, ".test") {
		return appName
	}
	return name
}
