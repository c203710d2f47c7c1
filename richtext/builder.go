// Package richtext is a minimal append-only rich text buffer with embedded
// object spans. Offsets are counted in runes.
package richtext

import (
	"fmt"
	"slices"
	"strings"

	"imgspan/utils/debug"
)

// ObjectReplacement is placeholder character embedded objects are rendered
// in place of.
const ObjectReplacement = '\uFFFC'

// Object is embedded into text in place of its span range.
type Object interface {
	Size() (width, height int)
}

// Span attaches Object to [Start, End) range of text.
type Span struct {
	Start  int
	End    int
	Object Object
}

// Builder is not safe for concurrent use.
type Builder struct {
	text  []rune
	spans []Span
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Len returns current text length in runes.
func (b *Builder) Len() int {
	return len(b.text)
}

// Append adds s to the end of text.
func (b *Builder) Append(s string) {
	b.text = append(b.text, []rune(s)...)
}

// AppendRune adds single rune to the end of text.
func (b *Builder) AppendRune(r rune) {
	b.text = append(b.text, r)
}

// EndsWith reports whether text ends with r.
func (b *Builder) EndsWith(r rune) bool {
	return len(b.text) > 0 && b.text[len(b.text)-1] == r
}

// PushSpan registers obj over [start, end) range.
func (b *Builder) PushSpan(obj Object, start, end int) error {
	if start < 0 || start > end || end > len(b.text) {
		return fmt.Errorf("span [%d, %d) is out of text bounds [0, %d)", start, end, len(b.text))
	}
	b.spans = append(b.spans, Span{Start: start, End: end, Object: obj})
	return nil
}

// Spans returns registered spans ordered by start offset, spans with equal
// start keep registration order.
func (b *Builder) Spans() []Span {
	out := slices.Clone(b.spans)
	slices.SortStableFunc(out, func(x, y Span) int {
		return x.Start - y.Start
	})
	return out
}

// Slice returns text of [start, end) range.
func (b *Builder) Slice(start, end int) string {
	start = min(max(start, 0), len(b.text))
	end = min(max(end, start), len(b.text))
	return string(b.text[start:end])
}

func (b *Builder) String() string {
	return string(b.text)
}

// Dump returns readable representation of text and spans for debugging.
func (b *Builder) Dump() string {
	tw := debug.NewTreeWriter()
	tw.Line(0, "Text: runes[%d] spans[%d]", len(b.text), len(b.spans))
	tw.Text(1, "Content", strings.ReplaceAll(string(b.text), string(ObjectReplacement), "[obj]"))
	for _, s := range b.Spans() {
		w, h := s.Object.Size()
		tw.Line(1, "Span [%d, %d) %dx%d %v", s.Start, s.End, w, h, s.Object)
	}
	return tw.String()
}
