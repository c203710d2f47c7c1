// Package css classifies CSS property values found in inline style
// declarations.
package css

import (
	"strconv"
	"unicode"
)

// Value represents a parsed CSS property value.
type Value struct {
	Raw     string  // Original CSS value string (e.g., "30px", "auto", "50%")
	Value   float64 // Numeric value if applicable
	Unit    string  // Unit if applicable: "px", "em", "%", "pt", etc.
	Keyword string  // Keyword if applicable: "auto", "inherit", etc.

	number string // numeric literal as it appeared in the source, sign included
}

// IsNumeric returns true if the value has a numeric component.
// This includes explicit zero values like "0" or "0px".
func (v Value) IsNumeric() bool {
	if v.Unit != "" {
		return true
	}
	if v.Value != 0 && v.Keyword == "" {
		return true
	}
	if v.Raw != "" && v.Keyword == "" {
		first := rune(v.Raw[0])
		if unicode.IsDigit(first) || first == '.' || first == '-' || first == '+' {
			return true
		}
	}
	return false
}

// IsKeyword returns true if the value is a keyword (no numeric component).
func (v Value) IsKeyword() bool {
	return v.Keyword != "" && v.Unit == ""
}

// Int returns numeric component as an integer. It fails when value is not
// numeric or when numeric literal has a fractional part or an exponent.
func (v Value) Int() (int, bool) {
	if v.number == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v.number)
	if err != nil {
		return 0, false
	}
	return n, true
}
