package css

import (
	"strconv"
	"strings"
	"unicode"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// ParseValue converts single declaration value (text after the colon) into a
// Value. Values consisting of more than one significant token are stored as
// keywords with the raw text.
func ParseValue(raw string) Value {
	raw = strings.TrimSpace(raw)
	val := Value{Raw: raw}
	if raw == "" {
		return val
	}

	lexer := css.NewLexer(parse.NewInputString(raw))

	var tokens []token
	for {
		tt, data := lexer.Next()
		if tt == css.ErrorToken {
			break
		}
		if tt == css.WhitespaceToken || tt == css.CommentToken {
			continue
		}
		tokens = append(tokens, token{tt, string(data)})
	}

	if len(tokens) != 1 {
		val.Keyword = raw
		return val
	}

	t := tokens[0]
	switch t.tt {
	case css.DimensionToken:
		val.number, val.Unit = splitDimension(t.data)
		val.Value, _ = strconv.ParseFloat(val.number, 64)
	case css.PercentageToken:
		val.number = strings.TrimSuffix(t.data, "%")
		val.Value, _ = strconv.ParseFloat(val.number, 64)
		val.Unit = "%"
	case css.NumberToken:
		val.number = t.data
		val.Value, _ = strconv.ParseFloat(val.number, 64)
	case css.IdentToken:
		val.Keyword = strings.ToLower(t.data)
	case css.StringToken:
		val.Keyword = unquote(t.data)
	default:
		// hash colors, functions, urls
		val.Keyword = raw
	}
	return val
}

type token struct {
	tt   css.TokenType
	data string
}

// splitDimension separates numeric literal and unit of a dimension token.
// Numeric literal may carry an exponent ("1e2px").
func splitDimension(s string) (string, string) {
	numEnd := 0
	for numEnd < len(s) {
		c := s[numEnd]
		if unicode.IsDigit(rune(c)) || c == '.' || ((c == '-' || c == '+') && numEnd == 0) {
			numEnd++
			continue
		}
		if (c == 'e' || c == 'E') && numEnd > 0 && isExponent(s[numEnd+1:]) {
			numEnd++
			if s[numEnd] == '-' || s[numEnd] == '+' {
				numEnd++
			}
			continue
		}
		break
	}
	if numEnd == 0 {
		return "", ""
	}
	return s[:numEnd], strings.ToLower(s[numEnd:])
}

func isExponent(s string) bool {
	if len(s) > 0 && (s[0] == '-' || s[0] == '+') {
		s = s[1:]
	}
	return len(s) > 0 && s[0] >= '0' && s[0] <= '9'
}

// unquote removes surrounding quotes from a string.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return s
	}
	if (s[0] == '"' && s[len(s)-1] == '"') ||
		(s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
