package config

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// maxFileName is file name length limit (in bytes) of common file systems.
const maxFileName = 255

// CleanFileName removes characters not allowed in file names and shortens
// overly long names keeping their extension.
func CleanFileName(in string) string {
	out := trimName(strings.Map(func(sym rune) rune {
		if sym == 0 || strings.ContainsRune(forbiddenChars, sym) {
			return -1
		}
		return sym
	}, in))
	if len(out) == 0 {
		return "_bad_file_name_"
	}
	if len(out) <= maxFileName {
		return out
	}

	ext := filepath.Ext(out)
	if len(ext) > 16 {
		ext = ""
	}
	stem := out[:maxFileName-len(ext)]
	for len(stem) > 0 && !utf8.ValidString(stem) {
		stem = stem[:len(stem)-1]
	}
	return stem + ext
}
