package loader

import (
	"archive/zip"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"

	"imgspan/config"
)

func newTestLoader(t *testing.T, cfg *config.ImagesConfig, base string) *Loader {
	t.Helper()
	l, err := New(cfg, base, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

func imageServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	pngData := encodePNG(t, colorImage(10, 5))
	var hits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/img.png", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if ua := r.Header.Get("User-Agent"); ua != "imgspan-test" {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngData)
	})
	mux.HandleFunc("/big.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2<<20))
	})
	mux.HandleFunc("/text", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("just some text"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetch_HTTP(t *testing.T) {
	srv, hits := imageServer(t)
	l := newTestLoader(t, testConfig(), "")

	img, err := l.Fetch(context.Background(), srv.URL+"/img.png")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if img.Width != 10 || img.Height != 5 {
		t.Errorf("size = %dx%d, want 10x5", img.Width, img.Height)
	}
	if img.Cost != 200 {
		t.Errorf("Cost = %d, want 200", img.Cost)
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}
}

func TestFetch_HTTPFailures(t *testing.T) {
	srv, _ := imageServer(t)
	l := newTestLoader(t, testConfig(), "")

	for _, p := range []string{"/missing.png", "/big.png", "/text"} {
		t.Run(p, func(t *testing.T) {
			_, err := l.Fetch(context.Background(), srv.URL+p)
			if !errors.Is(err, ErrUnavailable) {
				t.Errorf("Fetch() error = %v, want ErrUnavailable", err)
			}
		})
	}
}

func TestFetch_PrivateBlocked(t *testing.T) {
	srv, hits := imageServer(t)
	cfg := testConfig()
	cfg.Transport.AllowPrivate = false
	l := newTestLoader(t, cfg, "")

	_, err := l.Fetch(context.Background(), srv.URL+"/img.png")
	if !errors.Is(err, ErrUnavailable) || !strings.Contains(err.Error(), "blocked") {
		t.Errorf("Fetch() error = %v, want blocked connection", err)
	}
	if hits.Load() != 0 {
		t.Error("private server should not be reached")
	}
}

func TestFetch_Canceled(t *testing.T) {
	srv, _ := imageServer(t)
	l := newTestLoader(t, testConfig(), "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Fetch(ctx, srv.URL+"/img.png"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Fetch() error = %v, want ErrUnavailable", err)
	}
}

func TestFetch_CostUnit(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "img.png")
	if err := os.WriteFile(name, encodePNG(t, colorImage(20, 20)), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Cache.CostUnit = config.CostUnitKilobytes
	l := newTestLoader(t, cfg, "")

	img, err := l.Fetch(context.Background(), name)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	// 20*20*4 = 1600 bytes
	if img.Size != 1600 || img.Cost != 2 {
		t.Errorf("Size = %d Cost = %d, want 1600 and 2", img.Size, img.Cost)
	}
}

func writeZip(t *testing.T, name string, entries map[string][]byte) {
	t.Helper()
	f, err := os.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	w := zip.NewWriter(f)
	for n, data := range entries {
		fw, err := w.Create(n)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestFetch_Local(t *testing.T) {
	dir := t.TempDir()
	pngData := encodePNG(t, colorImage(10, 5))

	if err := os.MkdirAll(filepath.Join(dir, "images"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "images", "a b.png"), pngData, 0644); err != nil {
		t.Fatal(err)
	}
	writeZip(t, filepath.Join(dir, "book.zip"), map[string][]byte{
		"OEBPS/images/fig.png": pngData,
		"OEBPS/text/ch1.html":  []byte("<p>text</p>"),
	})

	svgPercent := "data:image/svg+xml," + url.PathEscape(testSVG)
	pngBase64 := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)

	tests := []struct {
		name    string
		base    string
		locator string
		w, h    int
	}{
		{"bare path", "", filepath.Join(dir, "images", "a b.png"), 10, 5},
		{"file url", "", (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(dir, "images", "a b.png"))}).String(), 10, 5},
		{"relative to base", filepath.Join(dir, "page.html"), "images/a%20b.png", 10, 5},
		{"zip entry", "", filepath.Join(dir, "book.zip") + "#OEBPS/images/fig.png", 10, 5},
		{"relative to zip base", filepath.Join(dir, "book.zip") + "#OEBPS/text/ch1.html", "../images/fig.png", 10, 5},
		{"absolute in zip base", filepath.Join(dir, "book.zip") + "#OEBPS/text/ch1.html", "/OEBPS/images/fig.png", 10, 5},
		{"data base64", "", pngBase64, 10, 5},
		{"data percent", filepath.Join(dir, "page.html"), svgPercent, 100, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLoader(t, testConfig(), tt.base)
			img, err := l.Fetch(context.Background(), tt.locator)
			if err != nil {
				t.Fatalf("Fetch(%q) error = %v", tt.locator, err)
			}
			if img.Width != tt.w || img.Height != tt.h {
				t.Errorf("size = %dx%d, want %dx%d", img.Width, img.Height, tt.w, tt.h)
			}
		})
	}
}

func TestFetch_LocalFailures(t *testing.T) {
	dir := t.TempDir()
	writeZip(t, filepath.Join(dir, "book.zip"), map[string][]byte{"a.png": []byte("x")})

	tests := []string{
		filepath.Join(dir, "missing.png"),
		dir,
		filepath.Join(dir, "book.zip") + "#missing.png",
		filepath.Join(dir, "book.zip") + "#a.png",
		"data:image/png;base64,@@@@",
		"data:image/png;base64",
		"ftp://example.com/a.png",
	}

	l := newTestLoader(t, testConfig(), "")
	for _, loc := range tests {
		t.Run(loc, func(t *testing.T) {
			if _, err := l.Fetch(context.Background(), loc); !errors.Is(err, ErrUnavailable) {
				t.Errorf("Fetch() error = %v, want ErrUnavailable", err)
			}
		})
	}
}

func TestFetch_SizeLimit(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "img.png")
	data := encodePNG(t, colorImage(10, 10))
	if err := os.WriteFile(name, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Transport.MaxResponseSize = int64(len(data) - 1)
	l := newTestLoader(t, cfg, "")

	for _, loc := range []string{name, "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)} {
		if _, err := l.Fetch(context.Background(), loc); !errors.Is(err, ErrUnavailable) {
			t.Errorf("Fetch() error = %v, want ErrUnavailable", err)
		}
	}
}

func TestHTTPTransport_Limit(t *testing.T) {
	srv, _ := imageServer(t)

	cfg := testConfig()
	tr, err := newHTTPTransport(&cfg.Transport, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("newHTTPTransport() error = %v", err)
	}
	t.Cleanup(tr.close)

	u, err := url.Parse(srv.URL + "/big.png")
	if err != nil {
		t.Fatal(err)
	}

	// transport serves as any other reader and honors per call limit
	var read readFunc = tr.read
	tests := []struct {
		limit   int64
		wantErr bool
	}{
		{0, false},
		{4 << 20, false},
		{1 << 20, true},
	}
	for _, tt := range tests {
		data, err := read(context.Background(), u, tt.limit)
		if (err != nil) != tt.wantErr {
			t.Errorf("read(limit %d) error = %v, wantErr %v", tt.limit, err, tt.wantErr)
		}
		if err == nil && len(data) != 2<<20 {
			t.Errorf("read(limit %d) returned %d bytes", tt.limit, len(data))
		}
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		base    string
		locator string
		want    string
	}{
		{"", "img.png", "img.png"},
		{"https://example.com/books/page.html", "img/a.png", "https://example.com/books/img/a.png"},
		{"https://example.com/books/page.html", "/a.png", "https://example.com/a.png"},
		{"https://example.com/books/page.html", "//cdn.example.com/a.png", "https://cdn.example.com/a.png"},
		{"https://example.com/books/page.html", "http://other.org/a.png", "http://other.org/a.png"},
		{"/docs/page.html", "../img/a.png", "file:///img/a.png"},
		{"/docs/book.zip#text/ch1.html", "../images/a.png", "file:///docs/book.zip#images/a.png"},
		{"/docs/book.zip#text/ch1.html", "/docs/book.zip#text/ch2.html", "file:///docs/book.zip#text/ch2.html"},
		{"/docs/page.html", "other.zip#a.png", "file:///docs/other.zip#a.png"},
		{"https://example.com/page.html", "data:image/png;base64,AAAA", "data:image/png;base64,AAAA"},
	}

	for _, tt := range tests {
		t.Run(tt.base+" "+tt.locator, func(t *testing.T) {
			if filepath.Separator != '/' && strings.HasPrefix(tt.base, "/") {
				t.Skip("unix paths")
			}
			l := newTestLoader(t, testConfig(), tt.base)
			u, err := l.Resolve(tt.locator)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got := u.String(); got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew_BadProxy(t *testing.T) {
	cfg := testConfig()
	cfg.Transport.Proxy = "http://user:hunter2@[::1"

	_, err := New(cfg, "", nil)
	if err == nil {
		t.Fatal("expected error for malformed proxy")
	}
	if strings.Contains(err.Error(), "hunter2") || strings.Contains(err.Error(), "user:") {
		t.Errorf("error leaks proxy credentials: %v", err)
	}
}
