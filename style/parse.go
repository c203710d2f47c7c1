package style

import (
	"strings"

	"go.uber.org/zap"
)

// Parser turns inline style attribute into Snapshot.
type Parser struct {
	log *zap.Logger
}

// NewParser creates a new style attribute parser.
func NewParser(log *zap.Logger) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{log: log.Named("style")}
}

// ParseAttr is Parse for optional attribute: when attribute is not present
// base is returned.
func (p *Parser) ParseAttr(base Snapshot, text string, present bool) Snapshot {
	if !present {
		return base
	}
	return p.Parse(base, text)
}

// Parse applies declarations from style text on top of base.
//
// Any declaration which does not consist of exactly one key and one value
// aborts parsing and base is returned as is, even if some declarations before
// it were already applied.
func (p *Parser) Parse(base Snapshot, text string) Snapshot {
	s := base
	for _, decl := range split(text, ";") {
		kv := split(decl, ":")
		if len(kv) != 2 {
			p.log.Warn("Unable to parse style attribute, ignoring", zap.String("style", text), zap.String("declaration", decl))
			return base
		}
		key := strings.TrimSpace(strings.ToLower(kv[0]))
		value := strings.TrimSpace(strings.ToLower(kv[1]))

		fn, v, ok := lookupUpdater(key, value)
		if !ok {
			continue
		}
		s = fn(s, v)
	}
	return s
}

// split slices s around sep dropping trailing empty pieces, so "a;" has a
// single piece and "a;;b" has three. String without separator is returned as
// the only piece even when empty.
func split(s, sep string) []string {
	if !strings.Contains(s, sep) {
		return []string{s}
	}
	parts := strings.Split(s, sep)
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}
