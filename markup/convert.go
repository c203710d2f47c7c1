// Package markup walks HTML documents producing rich text, image elements
// are handed over to the image handler.
package markup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"

	"imgspan/richtext"
	"imgspan/spanner"
)

// ImageHandler splices image nodes into rich text.
type ImageHandler interface {
	HandleTag(ctx context.Context, node spanner.ImageNode, b *richtext.Builder, start int) *spanner.Placement
}

// Converter is not safe for concurrent use, create one per document.
type Converter struct {
	images   ImageHandler
	codePage encoding.Encoding
	log      *zap.Logger

	pre    int // depth of nested pre elements
	embeds int
}

// NewConverter creates converter. When codePage is nil document encoding is
// detected from BOM, meta elements and content.
func NewConverter(images ImageHandler, codePage encoding.Encoding, log *zap.Logger) *Converter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Converter{
		images:   images,
		codePage: codePage,
		log:      log.Named("markup"),
	}
}

// Embeds returns number of images embedded by the last Convert call.
func (c *Converter) Embeds() int {
	return c.embeds
}

// Convert parses HTML document and builds rich text from it.
func (c *Converter) Convert(ctx context.Context, data []byte, contentType string) (*richtext.Builder, error) {
	r, err := c.reader(data, contentType)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("unable to parse html: %w", err)
	}

	c.pre, c.embeds = 0, 0
	b := richtext.NewBuilder()
	if err := c.walk(ctx, doc, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *Converter) reader(data []byte, contentType string) (io.Reader, error) {
	if c.codePage != nil {
		name, _ := ianaindex.IANA.Name(c.codePage)
		c.log.Debug("Forcing document encoding", zap.String("charset", name))
		return c.codePage.NewDecoder().Reader(bytes.NewReader(data)), nil
	}
	r, err := charset.NewReader(bytes.NewReader(data), contentType)
	if err != nil {
		return nil, fmt.Errorf("unable to detect document encoding: %w", err)
	}
	return r, nil
}

// EncodingByName looks up encoding by its IANA name or alias.
func EncodingByName(name string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("encoding %q is not supported", name)
	}
	return enc, nil
}

var skipped = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Template: true,
	atom.Noscript: true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Blockquote: true, atom.Pre: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Dt: true, atom.Dd: true, atom.Tr: true, atom.Table: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
	atom.Figure: true, atom.Figcaption: true, atom.Hr: true,
}

func (c *Converter) walk(ctx context.Context, n *html.Node, b *richtext.Builder) error {
	switch n.Type {
	case html.TextNode:
		c.text(n.Data, b)
		return nil
	case html.ElementNode:
		if skipped[n.DataAtom] {
			return nil
		}
		if n.DataAtom == atom.Br {
			b.AppendRune('\n')
			return nil
		}
	case html.DocumentNode:
	default:
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	block := n.Type == html.ElementNode && blocks[n.DataAtom]
	if block {
		newline(b)
	}
	if n.DataAtom == atom.Pre {
		c.pre++
		defer func() { c.pre-- }()
	}

	start := b.Len()
	for child := range n.ChildNodes() {
		if err := c.walk(ctx, child, b); err != nil {
			return err
		}
	}

	if spanner.IsImage(n) {
		if c.images.HandleTag(ctx, spanner.NodeFromHTML(n), b, start) != nil {
			c.embeds++
		}
	}
	if block {
		newline(b)
	}
	return nil
}

// text appends character data collapsing whitespace runs outside of pre.
func (c *Converter) text(s string, b *richtext.Builder) {
	if c.pre > 0 {
		b.Append(s)
		return
	}
	var sb strings.Builder
	space := b.Len() == 0 || b.EndsWith(' ') || b.EndsWith('\n')
	for _, r := range s {
		if isSpace(r) {
			if !space {
				sb.WriteRune(' ')
				space = true
			}
			continue
		}
		sb.WriteRune(r)
		space = false
	}
	b.Append(sb.String())
}

func newline(b *richtext.Builder) {
	if b.Len() > 0 && !b.EndsWith('\n') {
		b.AppendRune('\n')
	}
}

// isSpace matches HTML inter-element whitespace, no-break space is kept.
func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f':
		return true
	}
	return false
}
