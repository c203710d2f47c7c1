package archive

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type zipEntry struct {
	name    string
	content string
}

func makeZip(t *testing.T, entries ...zipEntry) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "book.zip")

	zipFile, err := os.Create(zipPath)
	if err != nil {
		t.Fatalf("Failed to create zip file: %v", err)
	}
	defer zipFile.Close()

	w := zip.NewWriter(zipFile)
	for _, e := range entries {
		if strings.HasSuffix(e.name, "/") {
			hdr := &zip.FileHeader{Name: e.name}
			hdr.SetMode(os.ModeDir | 0755)
			if _, err := w.CreateHeader(hdr); err != nil {
				t.Fatalf("Failed to create directory %s: %v", e.name, err)
			}
			continue
		}
		fw, err := w.Create(e.name)
		if err != nil {
			t.Fatalf("Failed to create file %s in zip: %v", e.name, err)
		}
		if _, err := fw.Write([]byte(e.content)); err != nil {
			t.Fatalf("Failed to write content for %s: %v", e.name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close zip: %v", err)
	}
	return zipPath
}

func TestWalk(t *testing.T) {
	zipPath := makeZip(t,
		zipEntry{"images/", ""},
		zipEntry{"images/cover.png", "cover"},
		zipEntry{"images/fig1.png", "fig1"},
		zipEntry{"text/ch1.html", "chapter"},
	)

	tests := []struct {
		prefix string
		want   int
	}{
		{"images/", 2},
		{"text/", 1},
		{"", 3},
		{"Images/", 0},
		{"nonexistent/", 0},
	}

	for _, tt := range tests {
		t.Run("prefix "+tt.prefix, func(t *testing.T) {
			var visited int
			err := Walk(zipPath, tt.prefix, func(archive string, file *zip.File) error {
				if archive != zipPath {
					t.Errorf("archive = %s, want %s", archive, zipPath)
				}
				if file.FileInfo().IsDir() {
					t.Errorf("directory %s should not be visited", file.Name)
				}
				visited++
				return nil
			})
			if err != nil {
				t.Errorf("Walk() error = %v", err)
			}
			if visited != tt.want {
				t.Errorf("visited %d files, want %d", visited, tt.want)
			}
		})
	}
}

func TestWalk_EarlyTermination(t *testing.T) {
	zipPath := makeZip(t,
		zipEntry{"a.png", "a"},
		zipEntry{"b.png", "b"},
		zipEntry{"c.png", "c"},
	)

	stop := errors.New("stop")
	var visited int
	err := Walk(zipPath, "", func(string, *zip.File) error {
		visited++
		if visited == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Errorf("Walk() error = %v, want %v", err, stop)
	}
	if visited != 2 {
		t.Errorf("visited %d files, want 2", visited)
	}
}

func TestWalk_InvalidArchive(t *testing.T) {
	invalid := filepath.Join(t.TempDir(), "invalid.zip")
	if err := os.WriteFile(invalid, []byte("not a zip file"), 0644); err != nil {
		t.Fatalf("Failed to create invalid zip: %v", err)
	}

	for _, name := range []string{"/nonexistent/file.zip", invalid} {
		if err := Walk(name, "", func(string, *zip.File) error { return nil }); err == nil {
			t.Errorf("Expected error for %s", name)
		}
	}
}

func TestWalk_UnsafePath(t *testing.T) {
	zipPath := makeZip(t, zipEntry{"../evil.png", "x"})

	err := Walk(zipPath, "", func(string, *zip.File) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "unsafe path") {
		t.Errorf("Walk() error = %v, want unsafe path error", err)
	}
}

func TestReadFile(t *testing.T) {
	zipPath := makeZip(t,
		zipEntry{"images/cover.png", "cover"},
		zipEntry{"images/cover.png.bak", "backup"},
		zipEntry{"images/big.png", strings.Repeat("x", 100)},
	)

	t.Run("found", func(t *testing.T) {
		data, err := ReadFile(zipPath, "images/cover.png", 0)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if string(data) != "cover" {
			t.Errorf("ReadFile() = %q, want cover", data)
		}
	})

	t.Run("leading slash", func(t *testing.T) {
		data, err := ReadFile(zipPath, "/images/cover.png", 0)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if string(data) != "cover" {
			t.Errorf("ReadFile() = %q, want cover", data)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := ReadFile(zipPath, "images/cover", 0)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("ReadFile() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("within limit", func(t *testing.T) {
		data, err := ReadFile(zipPath, "images/big.png", 100)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if len(data) != 100 {
			t.Errorf("ReadFile() returned %d bytes, want 100", len(data))
		}
	})

	t.Run("too large", func(t *testing.T) {
		_, err := ReadFile(zipPath, "images/big.png", 99)
		if !errors.Is(err, ErrTooLarge) {
			t.Errorf("ReadFile() error = %v, want ErrTooLarge", err)
		}
	})
}
