package loader

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"imgspan/config"
)

type readFunc func(ctx context.Context, u *url.URL, limit int64) ([]byte, error)

// Loader resolves image locators and produces decoded images. It is safe
// for concurrent use.
type Loader struct {
	base    *url.URL
	http    *httpTransport
	decoder decoder
	unit    config.CostUnit
	limit   int64
	log     *zap.Logger
}

// New creates loader using images configuration. Relative locators are
// resolved against base when it is not empty.
func New(cfg *config.ImagesConfig, base string, log *zap.Logger) (*Loader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("loader")

	ht, err := newHTTPTransport(&cfg.Transport, log)
	if err != nil {
		return nil, err
	}

	l := &Loader{
		http:    ht,
		decoder: decoder{log: log},
		unit:    cfg.Cache.CostUnit,
		limit:   cfg.Transport.MaxResponseSize,
		log:     log,
	}
	if len(base) > 0 {
		if l.base, err = parseBase(base); err != nil {
			return nil, fmt.Errorf("unable to use base locator %q: %w", base, err)
		}
	}
	return l, nil
}

// Close releases idle network connections.
func (l *Loader) Close() {
	l.http.close()
}

// Base returns locator relative sources are resolved against.
func (l *Loader) Base() string {
	if l.base == nil {
		return ""
	}
	return l.base.String()
}

// parseBase makes local bases absolute so relative references keep their
// meaning regardless of working directory.
func parseBase(base string) (*url.URL, error) {
	u, err := parseLocator(base)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "" && u.Scheme != "file" {
		return u, nil
	}
	abs, err := filepath.Abs(localPath(u))
	if err != nil {
		return nil, err
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		// windows drive letter
		p = "/" + p
	}
	return &url.URL{Scheme: "file", Path: p, Fragment: u.Fragment}, nil
}

// parseLocator parses locator leaving data URIs intact, url.Parse would
// choke on some of their payloads.
func parseLocator(locator string) (*url.URL, error) {
	if len(locator) >= 5 && strings.EqualFold(locator[:5], "data:") {
		return &url.URL{Scheme: "data", Opaque: locator[5:]}, nil
	}
	u, err := url.Parse(locator)
	if err != nil {
		return nil, err
	}
	if len(u.Scheme) == 1 {
		// windows drive letter, not a scheme
		return &url.URL{Path: filepath.ToSlash(locator)}, nil
	}
	return u, nil
}

// Resolve returns absolute locator for the source.
func (l *Loader) Resolve(locator string) (*url.URL, error) {
	ref, err := parseLocator(strings.TrimSpace(locator))
	if err != nil {
		return nil, err
	}
	if l.base == nil || ref.Scheme != "" {
		return ref, nil
	}
	if isZipLocator(ref) {
		// another entry addressed through its container
		res := l.base.ResolveReference(&url.URL{Path: ref.Path})
		res.Fragment = ref.Fragment
		return res, nil
	}
	if isZipLocator(l.base) {
		// relative to the entry inside container
		res := *l.base
		if strings.HasPrefix(ref.Path, "/") {
			res.Fragment = path.Clean(ref.Path[1:])
		} else {
			res.Fragment = path.Join(path.Dir(l.base.Fragment), ref.Path)
		}
		return &res, nil
	}
	return l.base.ResolveReference(ref), nil
}

func (l *Loader) reader(u *url.URL) (readFunc, error) {
	switch {
	case u.Scheme == "data":
		return readDataURI, nil
	case u.Scheme == "http" || u.Scheme == "https":
		return l.http.read, nil
	case isZipLocator(u):
		return readZipEntry, nil
	case u.Scheme == "" || u.Scheme == "file":
		return readFile, nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

// Read returns raw content of the source.
func (l *Loader) Read(ctx context.Context, locator string) ([]byte, error) {
	u, err := l.Resolve(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, locator, err)
	}
	read, err := l.reader(u)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, locator, err)
	}
	data, err := read(ctx, u, l.limit)
	if err == nil && l.limit > 0 && int64(len(data)) > l.limit {
		err = fmt.Errorf("content exceeds maximum allowed size (%d bytes)", l.limit)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, locator, err)
	}
	return data, nil
}

// Fetch reads and decodes the source. Every failure wraps ErrUnavailable.
func (l *Loader) Fetch(ctx context.Context, locator string) (*Image, error) {
	data, err := l.Read(ctx, locator)
	if err != nil {
		return nil, err
	}
	img, err := l.decoder.decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, locator, err)
	}
	img.Cost = l.unit.Cost(img.Size)

	l.log.Debug("Image loaded", zap.String("src", locator), zap.Stringer("image", img))
	return img, nil
}
