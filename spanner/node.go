// Package spanner resolves inline image nodes into embeddable placements
// and splices them into rich text.
package spanner

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ImageNode describes image reference found in markup. Optional attributes
// keep track of their presence, empty attribute is not the same as absent.
type ImageNode struct {
	Src       string
	Width     string
	HasWidth  bool
	Height    string
	HasHeight bool
	Style     string
	HasStyle  bool
}

// IsImage reports whether n is an img element.
func IsImage(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode &&
		(n.DataAtom == atom.Img || strings.EqualFold(n.Data, "img"))
}

// NodeFromHTML collects image attributes of n. First occurrence of an
// attribute wins, attribute names are matched case-insensitively.
func NodeFromHTML(n *html.Node) ImageNode {
	var (
		node ImageNode
		seen = make(map[string]bool, 4)
	)
	for _, a := range n.Attr {
		if a.Namespace != "" {
			continue
		}
		key := strings.ToLower(a.Key)
		if seen[key] {
			continue
		}
		seen[key] = true

		switch key {
		case "src":
			node.Src = a.Val
		case "width":
			node.Width, node.HasWidth = a.Val, true
		case "height":
			node.Height, node.HasHeight = a.Val, true
		case "style":
			node.Style, node.HasStyle = a.Val, true
		}
	}
	return node
}
