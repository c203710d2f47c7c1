// Package render writes built rich text as XHTML document with embedded
// images stored next to it or as single section EPUB book.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"imgspan/config"
	"imgspan/richtext"
	"imgspan/spanner"
	"imgspan/utils/images"
)

// Result lists files produced by Render.
type Result struct {
	Document string
	Images   []string // stored image files, names inside container for epub
	Skipped  int      // spans which could not be embedded
}

// Writer renders rich text into XHTML document or EPUB book.
type Writer struct {
	cfg       *config.RenderConfig
	format    images.Format
	overwrite bool
	log       *zap.Logger
}

func New(cfg *config.RenderConfig, overwrite bool, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		cfg:       cfg,
		format:    images.Format(cfg.Format),
		overwrite: overwrite,
		log:       log.Named("render"),
	}
}

// storeFunc saves encoded image under name and returns reference to be used
// in img element.
type storeFunc func(name string, data []byte) (string, error)

// render keeps state of a single Render call.
type render struct {
	*Writer
	put    storeFunc
	res    *Result
	stored map[string]string // source and bounds -> image reference
}

func (w *Writer) newRender(dst string, put storeFunc) *render {
	return &render{
		Writer: w,
		put:    put,
		res:    &Result{Document: dst},
		stored: make(map[string]string),
	}
}

// Render writes b to dst. Destination with ".epub" extension gets EPUB book,
// anything else XHTML document. Paragraphs are separated by new lines in
// text, embedded placements become img elements and their images are scaled
// to placement bounds.
func (w *Writer) Render(b *richtext.Builder, title, dst string) (*Result, error) {
	if err := w.checkTarget(dst); err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(dst), ".epub") {
		return w.renderEPUB(b, title, dst)
	}
	return w.renderXHTML(b, title, dst)
}

// renderXHTML stores images in configured directory relative to dst.
func (w *Writer) renderXHTML(b *richtext.Builder, title, dst string) (*Result, error) {
	dir := filepath.Join(filepath.Dir(dst), w.cfg.ImagesDir)

	var r *render
	r = w.newRender(dst, func(name string, data []byte) (string, error) {
		full := filepath.Join(dir, name)
		if err := w.checkTarget(full); err != nil {
			return "", err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("unable to create images directory: %w", err)
		}
		if err := os.WriteFile(full, data, 0o644); err != nil {
			return "", fmt.Errorf("unable to write image: %w", err)
		}
		r.res.Images = append(r.res.Images, full)
		return path.Join(filepath.ToSlash(w.cfg.ImagesDir), name), nil
	})

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.WriteSettings = etree.WriteSettings{
		CanonicalText:    true,
		CanonicalAttrVal: true,
	}

	html := doc.CreateElement("html")
	html.CreateAttr("xmlns", "http://www.w3.org/1999/xhtml")
	html.CreateAttr("xml:lang", w.cfg.Language)

	head := html.CreateElement("head")
	meta := head.CreateElement("meta")
	meta.CreateAttr("http-equiv", "Content-Type")
	meta.CreateAttr("content", "application/xhtml+xml; charset=utf-8")
	head.CreateElement("title").SetText(title)

	if err := r.body(html.CreateElement("body"), b); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("unable to serialize document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("unable to create output directory: %w", err)
	}
	if err := os.WriteFile(dst, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("unable to write document: %w", err)
	}

	w.log.Debug("Document rendered",
		zap.String("path", dst),
		zap.Int("images", len(r.res.Images)),
		zap.Int("skipped", r.res.Skipped))
	return r.res, nil
}

func (w *Writer) checkTarget(name string) error {
	if w.overwrite {
		return nil
	}
	_, err := os.Stat(name)
	switch {
	case err == nil:
		return fmt.Errorf("output file already exists: %s", name)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("unable to check output file %s: %w", name, err)
	}
}

func (r *render) body(body *etree.Element, b *richtext.Builder) error {
	var (
		text  = []rune(b.String())
		spans = b.Spans()
		p     *etree.Element
		run   strings.Builder
	)

	para := func() *etree.Element {
		if p == nil {
			p = body.CreateElement("p")
		}
		return p
	}
	flush := func() {
		if run.Len() > 0 {
			para().CreateText(run.String())
			run.Reset()
		}
	}

	si := 0
	for i := 0; i < len(text); {
		// overlapping spans are not supported, only first one is embedded
		for si < len(spans) && spans[si].Start < i {
			r.log.Warn("Overlapping span ignored", zap.Int("start", spans[si].Start), zap.Int("end", spans[si].End))
			r.res.Skipped++
			si++
		}
		if si < len(spans) && spans[si].Start == i {
			flush()
			s := spans[si]
			si++
			if err := r.embed(para(), s); err != nil {
				return err
			}
			i = max(i, s.End)
			continue
		}

		switch ch := text[i]; ch {
		case '\n':
			flush()
			p = nil
		case richtext.ObjectReplacement:
			// placeholder of image which was not resolved
		default:
			run.WriteRune(ch)
		}
		i++
	}
	flush()

	for ; si < len(spans); si++ {
		r.log.Warn("Span is out of text range", zap.Int("start", spans[si].Start))
		r.res.Skipped++
	}
	return nil
}

func (r *render) embed(parent *etree.Element, s richtext.Span) error {
	pl, ok := s.Object.(*spanner.Placement)
	if !ok || pl == nil || pl.Image == nil || pl.Image.Img == nil {
		r.log.Warn("Unsupported embedded object, skipping", zap.Any("object", s.Object))
		r.res.Skipped++
		return nil
	}
	if pl.Width <= 0 || pl.Height <= 0 {
		r.log.Warn("Image has empty bounds, skipping", zap.Stringer("placement", pl))
		r.res.Skipped++
		return nil
	}

	key := pl.Src + "\x00" + strconv.Itoa(pl.Width) + "x" + strconv.Itoa(pl.Height)
	href, ok := r.stored[key]
	if !ok {
		var err error
		if href, err = r.store(pl); err != nil {
			return err
		}
		r.stored[key] = href
	}

	img := parent.CreateElement("img")
	img.CreateAttr("src", href)
	img.CreateAttr("alt", "")
	img.CreateAttr("width", strconv.Itoa(pl.Width))
	img.CreateAttr("height", strconv.Itoa(pl.Height))
	return nil
}

// store prepares placement image and hands it to the sink.
func (r *render) store(pl *spanner.Placement) (string, error) {
	name := r.imageName(pl)

	data, err := images.Encode(r.prepare(pl), r.format, r.quality(pl))
	if err != nil {
		return "", fmt.Errorf("unable to encode image %q: %w", pl.Src, err)
	}
	ref, err := r.put(name, data)
	if err != nil {
		return "", err
	}

	r.log.Debug("Image stored", zap.String("src", pl.Src), zap.String("ref", ref), zap.Int("size", len(data)))
	return ref, nil
}

// prepare scales image to placement bounds and converts it to what output
// format can carry.
func (r *render) prepare(pl *spanner.Placement) image.Image {
	img := pl.Image.Img
	if b := img.Bounds(); b.Dx() != pl.Width || b.Dy() != pl.Height {
		img = imaging.Resize(img, pl.Width, pl.Height, imaging.Lanczos)
	}
	if (r.format == images.FormatJPEG || r.cfg.Grayscale) && !isOpaque(img) {
		bg := imaging.New(pl.Width, pl.Height, color.White)
		img = imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
	}
	if r.cfg.Grayscale {
		img = images.ToGray(img)
	}
	return img
}

// quality never goes above quality source JPEG was encoded with.
func (r *render) quality(pl *spanner.Placement) int {
	q := r.cfg.JPEGQuality
	if pl.Image.Quality > 0 && pl.Image.Quality < q {
		q = pl.Image.Quality
	}
	return q
}

// imageName builds stable file name for placement: name of the source (when
// it has one) followed by id derived from the source locator and bounds.
func (r *render) imageName(pl *spanner.Placement) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(pl.Src)).String()[:8]

	base := sourceBase(pl.Src)
	if r.cfg.Transliterate {
		base = slug.Make(base)
	}
	if base == "" {
		base = "img"
	}
	return config.CleanFileName(fmt.Sprintf("%s-%s-%dx%d%s", base, id, pl.Width, pl.Height, r.format.Ext()))
}

// sourceBase returns name of the source without extension, empty for data
// URIs and locators without file name.
func sourceBase(src string) string {
	var name string
	if u, err := url.Parse(src); err == nil {
		switch {
		case u.Scheme == "data":
			return ""
		case u.Fragment != "":
			name = u.Fragment
		case u.Opaque != "":
			name = u.Opaque
		default:
			name = u.Path
		}
	} else {
		name = src
	}
	name = path.Base(strings.TrimRight(strings.ReplaceAll(name, `\`, "/"), "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.TrimSuffix(name, path.Ext(name))
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}
