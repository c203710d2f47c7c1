package render

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/beevik/etree"
	epub "github.com/go-shiori/go-epub"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"imgspan/richtext"
)

const sectionFile = "content.xhtml"

// renderEPUB packs document into single section book, images are kept
// inside the container.
func (w *Writer) renderEPUB(b *richtext.Builder, title, dst string) (*Result, error) {
	if title == "" {
		title = "Untitled"
	}
	book, err := epub.NewEpub(title)
	if err != nil {
		return nil, fmt.Errorf("unable to create book: %w", err)
	}
	book.SetLang(w.cfg.Language)
	book.SetIdentifier("urn:uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(dst)).String())

	mediaType := w.format.MediaType()

	var r *render
	r = w.newRender(dst, func(name string, data []byte) (string, error) {
		// go-epub takes data URIs as image source
		ref, err := book.AddImage("data:"+mediaType+";base64,"+base64.StdEncoding.EncodeToString(data), name)
		if err != nil {
			return "", fmt.Errorf("unable to add image %s to book: %w", name, err)
		}
		r.res.Images = append(r.res.Images, ref)
		return ref, nil
	})

	doc := etree.NewDocument()
	doc.WriteSettings = etree.WriteSettings{
		CanonicalText:    true,
		CanonicalAttrVal: true,
	}
	div := doc.CreateElement("div")
	if err := r.body(div, b); err != nil {
		return nil, err
	}
	section, err := doc.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("unable to serialize section: %w", err)
	}
	if _, err := book.AddSection(section, title, sectionFile, ""); err != nil {
		return nil, fmt.Errorf("unable to add section to book: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("unable to create output directory: %w", err)
	}
	if err := book.Write(dst); err != nil {
		return nil, fmt.Errorf("unable to write book: %w", err)
	}

	w.log.Debug("Book rendered",
		zap.String("path", dst),
		zap.Int("images", len(r.res.Images)),
		zap.Int("skipped", r.res.Skipped))
	return r.res, nil
}
