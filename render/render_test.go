package render

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"go.uber.org/zap/zaptest"

	"imgspan/config"
	"imgspan/loader"
	"imgspan/richtext"
	"imgspan/spanner"
	"imgspan/utils/images"
)

func testConfig(format string) *config.RenderConfig {
	return &config.RenderConfig{
		Container:     "xhtml",
		Language:      "en",
		ImagesDir:     "images",
		Format:        format,
		JPEGQuality:   85,
		Transliterate: true,
	}
}

func placement(src string, nw, nh, w, h int) *spanner.Placement {
	img := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	for y := range nh {
		for x := range nw {
			img.Set(x, y, color.NRGBA{R: uint8(x * 10), G: 200, B: uint8(y * 10), A: 255})
		}
	}
	return &spanner.Placement{
		Src:    src,
		Image:  &loader.Image{Img: img, Format: "png", Width: nw, Height: nh},
		Width:  w,
		Height: h,
	}
}

func embed(t *testing.T, b *richtext.Builder, pl *spanner.Placement) {
	t.Helper()
	start := b.Len()
	b.AppendRune(richtext.ObjectReplacement)
	if err := b.PushSpan(pl, start, b.Len()); err != nil {
		t.Fatalf("PushSpan() error = %v", err)
	}
}

func readDoc(t *testing.T, name string) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(name); err != nil {
		t.Fatalf("failed to read rendered document: %v", err)
	}
	return doc
}

func textOf(e *etree.Element) string {
	var sb strings.Builder
	for _, tok := range e.Child {
		if cd, ok := tok.(*etree.CharData); ok {
			sb.WriteString(cd.Data)
		}
	}
	return sb.String()
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.xhtml")

	b := richtext.NewBuilder()
	b.Append("Hello ")
	embed(t, b, placement("http://example.com/pics/Кот.png", 20, 10, 10, 5))
	b.Append(" there\nSecond")

	res, err := New(testConfig("jpeg"), false, zaptest.NewLogger(t)).Render(b, "Title", dst)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if res.Document != dst || len(res.Images) != 1 || res.Skipped != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	doc := readDoc(t, dst)
	if title := doc.FindElement("//head/title"); title == nil || title.Text() != "Title" {
		t.Errorf("title not rendered")
	}
	paras := doc.FindElements("//body/p")
	if len(paras) != 2 {
		t.Fatalf("expected 2 paragraphs, got %d", len(paras))
	}
	if got := textOf(paras[0]); got != "Hello  there" {
		t.Errorf("first paragraph = %q", got)
	}
	if got := textOf(paras[1]); got != "Second" {
		t.Errorf("second paragraph = %q", got)
	}

	img := paras[0].FindElement("img")
	if img == nil {
		t.Fatal("img element not rendered")
	}
	src := img.SelectAttrValue("src", "")
	if !strings.HasPrefix(src, "images/kot-") || !strings.HasSuffix(src, "-10x5.jpg") {
		t.Errorf("unexpected image reference %q", src)
	}
	if img.SelectAttrValue("width", "") != "10" || img.SelectAttrValue("height", "") != "5" {
		t.Errorf("unexpected image bounds %s x %s", img.SelectAttrValue("width", ""), img.SelectAttrValue("height", ""))
	}

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(src)))
	if err != nil {
		t.Fatalf("image file not written: %v", err)
	}
	if !bytes.Equal(data[2:4], []byte{0xFF, 0xE0}) {
		t.Error("JPEG must start with JFIF APP0")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unable to decode stored image: %v", err)
	}
	if cfg.Width != 10 || cfg.Height != 5 {
		t.Errorf("stored image is %dx%d, want 10x5", cfg.Width, cfg.Height)
	}
}

func TestRenderReusesStoredImages(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.xhtml")

	b := richtext.NewBuilder()
	embed(t, b, placement("a.png", 4, 4, 4, 4))
	embed(t, b, placement("a.png", 4, 4, 4, 4))
	embed(t, b, placement("a.png", 4, 4, 2, 2))

	res, err := New(testConfig("png"), false, zaptest.NewLogger(t)).Render(b, "", dst)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(res.Images) != 2 {
		t.Fatalf("expected 2 stored images, got %v", res.Images)
	}

	imgs := readDoc(t, dst).FindElements("//img")
	if len(imgs) != 3 {
		t.Fatalf("expected 3 img elements, got %d", len(imgs))
	}
	if imgs[0].SelectAttrValue("src", "") != imgs[1].SelectAttrValue("src", "") {
		t.Error("same source and bounds must share stored file")
	}
	if imgs[0].SelectAttrValue("src", "") == imgs[2].SelectAttrValue("src", "") {
		t.Error("different bounds must be stored separately")
	}
}

func TestRenderSkips(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.xhtml")

	b := richtext.NewBuilder()
	b.Append("a")
	embed(t, b, placement("empty.png", 4, 4, 0, 0))
	b.AppendRune(richtext.ObjectReplacement) // unresolved image
	b.Append("b")

	res, err := New(testConfig("jpeg"), false, zaptest.NewLogger(t)).Render(b, "", dst)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if res.Skipped != 1 || len(res.Images) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	doc := readDoc(t, dst)
	if n := len(doc.FindElements("//img")); n != 0 {
		t.Errorf("expected no img elements, got %d", n)
	}
	if got := textOf(doc.FindElement("//body/p")); got != "ab" {
		t.Errorf("paragraph = %q, want %q", got, "ab")
	}
}

func TestRenderOverwrite(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.xhtml")

	build := func() *richtext.Builder {
		b := richtext.NewBuilder()
		embed(t, b, placement("a.png", 4, 4, 4, 4))
		return b
	}

	if _, err := New(testConfig("png"), false, nil).Render(build(), "", dst); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if _, err := New(testConfig("png"), false, nil).Render(build(), "", dst); err == nil {
		t.Fatal("expected error for existing output")
	}
	if _, err := New(testConfig("png"), true, nil).Render(build(), "", dst); err != nil {
		t.Fatalf("Render() with overwrite error = %v", err)
	}
}

func TestRenderGrayscale(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.xhtml")

	cfg := testConfig("png")
	cfg.Grayscale = true

	pl := placement("data:image/png;base64,AAAA", 6, 6, 6, 6)
	pl.Image.Img.(*image.NRGBA).Set(0, 0, color.NRGBA{}) // transparent pixel

	b := richtext.NewBuilder()
	embed(t, b, pl)

	res, err := New(cfg, false, zaptest.NewLogger(t)).Render(b, "", dst)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(res.Images) != 1 {
		t.Fatalf("expected 1 stored image, got %v", res.Images)
	}
	if name := filepath.Base(res.Images[0]); !strings.HasPrefix(name, "img-") || !strings.HasSuffix(name, ".png") {
		t.Errorf("unexpected image name %q", name)
	}

	f, err := os.Open(res.Images[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("unable to decode stored image: %v", err)
	}
	if !images.IsGrayscale(img) {
		t.Error("stored image is not grayscale")
	}
	if g := color.GrayModel.Convert(img.At(0, 0)).(color.Gray); g.Y != 255 {
		t.Errorf("transparent pixel must be flattened onto white, got %d", g.Y)
	}
}

func TestRenderEPUB(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "book", "out.epub")

	b := richtext.NewBuilder()
	b.Append("Intro ")
	embed(t, b, placement("pics/a.png", 8, 8, 4, 4))
	b.Append("\nTail & more")

	res, err := New(testConfig("png"), false, zaptest.NewLogger(t)).Render(b, "Book", dst)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(res.Images) != 1 || res.Skipped != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	zr, err := zip.OpenReader(dst)
	if err != nil {
		t.Fatalf("unable to open book: %v", err)
	}
	defer zr.Close()

	var section string
	var image bool
	for _, f := range zr.File {
		switch {
		case strings.HasSuffix(f.Name, "content.xhtml"):
			rc, err := f.Open()
			if err != nil {
				t.Fatal(err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				t.Fatal(err)
			}
			section = string(data)
		case strings.Contains(f.Name, "images/") && strings.HasSuffix(f.Name, "-4x4.png"):
			image = true
		}
	}
	if !image {
		t.Error("image is missing from the book")
	}
	if !strings.Contains(section, `src="`+res.Images[0]+`"`) {
		t.Errorf("section does not reference %q:\n%s", res.Images[0], section)
	}
	if !strings.Contains(section, "Tail &amp; more") {
		t.Errorf("section text is not escaped:\n%s", section)
	}

	if _, err := New(testConfig("png"), false, nil).Render(b, "Book", dst); err == nil {
		t.Error("expected error for existing book")
	}
}

func TestQuality(t *testing.T) {
	r := &render{Writer: New(testConfig("jpeg"), false, nil)}
	tests := []struct {
		source int
		want   int
	}{
		{0, 85},
		{60, 60},
		{95, 85},
	}
	for _, tt := range tests {
		pl := placement("a.jpg", 1, 1, 1, 1)
		pl.Image.Quality = tt.source
		if got := r.quality(pl); got != tt.want {
			t.Errorf("quality(source %d) = %d, want %d", tt.source, got, tt.want)
		}
	}
}

func TestSourceBase(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"http://example.com/a/b/picture.png?x=1", "picture"},
		{"images/cover.jpg", "cover"},
		{"file:///tmp/book.zip#img/inner.gif", "inner"},
		{"data:image/png;base64,AAAA", ""},
		{"http://example.com/", ""},
		{`C:\pics\photo.bmp`, "photo"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sourceBase(tt.src); got != tt.want {
			t.Errorf("sourceBase(%q) = %q, want %q", tt.src, got, tt.want)
		}
	}
}
