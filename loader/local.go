package loader

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"imgspan/archive"
)

// isZipLocator reports whether u points inside zip container:
// path/to/book.zip#inner/path.png
func isZipLocator(u *url.URL) bool {
	return (u.Scheme == "" || u.Scheme == "file") && u.Fragment != "" &&
		strings.EqualFold(path.Ext(u.Path), ".zip")
}

// localPath converts file URL or bare path into OS path.
func localPath(u *url.URL) string {
	p := u.Path
	if u.Scheme == "file" && u.Host != "" && u.Host != "localhost" {
		// UNC path
		p = "//" + u.Host + p
	}
	return filepath.FromSlash(p)
}

func readFile(_ context.Context, u *url.URL, limit int64) ([]byte, error) {
	name := localPath(u)
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if info, err := f.Stat(); err != nil {
		return nil, err
	} else if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", name)
	} else if limit > 0 && info.Size() > limit {
		return nil, fmt.Errorf("file size %d exceeds maximum allowed size (%d bytes)", info.Size(), limit)
	}
	return readLimited(f, limit)
}

func readZipEntry(_ context.Context, u *url.URL, limit int64) ([]byte, error) {
	return archive.ReadFile(localPath(u), u.Fragment, limit)
}

// readDataURI decodes data:[<mediatype>][;base64],<data> payload.
func readDataURI(_ context.Context, u *url.URL, _ int64) ([]byte, error) {
	meta, encoded, found := strings.Cut(u.Opaque, ",")
	if !found {
		return nil, errors.New("invalid data URI: no comma found")
	}

	if !strings.HasSuffix(strings.ToLower(meta), ";base64") {
		data, err := url.PathUnescape(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid data URI: %w", err)
		}
		return []byte(data), nil
	}

	// base64 payload may be percent-encoded too and often carries whitespace
	if decoded, err := url.PathUnescape(encoded); err == nil {
		encoded = decoded
	}
	encoded = strings.Join(strings.Fields(encoded), "")
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// some producers omit padding
		if data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "=")); err != nil {
			return nil, fmt.Errorf("base64 decode error: %w", err)
		}
	}
	return data, nil
}
