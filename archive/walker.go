// Package archive gives access to images packed into zip containers.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned by ReadFile when requested entry is absent.
	ErrNotFound = errors.New("entry not found in archive")
	// ErrTooLarge is returned by ReadFile when entry exceeds size limit.
	ErrTooLarge = errors.New("archive entry too large")

	errStop = errors.New("stop walking")
)

// WalkFunc is the type of the function called for each file in archive
// visited by Walk. The archive argument contains path to archive passed to Walk
// The file argument is the zip.File structure for file in archive which satisfies
// match condition. If an error is returned, processing stops.
type WalkFunc func(archive string, file *zip.File) error

// Walk walks the all files in the archive which names start with prefix,
// calling walkFn for each item. Archives with path traversal components
// ("..") or absolute entry names are rejected.
func Walk(archive, prefix string, walkFn WalkFunc) error {

	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		name := f.FileHeader.Name
		if !isSafePath(name) {
			return fmt.Errorf("zip entry %q: unsafe path (absolute or contains path traversal)", name)
		}
		if !f.FileInfo().IsDir() && strings.HasPrefix(name, prefix) {
			if err := walkFn(archive, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadFile returns content of a single archive entry. Leading slash in name
// is ignored. When limit is positive entries larger than limit are refused.
func ReadFile(archive, name string, limit int64) ([]byte, error) {
	name = path.Clean(strings.TrimPrefix(name, "/"))

	var data []byte
	err := Walk(archive, name, func(_ string, f *zip.File) error {
		if f.Name != name {
			return nil
		}
		if limit > 0 && f.UncompressedSize64 > uint64(limit) {
			return fmt.Errorf("%s: %d bytes: %w", name, f.UncompressedSize64, ErrTooLarge)
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()

		var r io.Reader = rc
		if limit > 0 {
			// header sizes could lie
			r = io.LimitReader(rc, limit+1)
		}
		if data, err = io.ReadAll(r); err != nil {
			return err
		}
		if limit > 0 && int64(len(data)) > limit {
			return fmt.Errorf("%s: %w", name, ErrTooLarge)
		}
		return errStop
	})
	switch {
	case errors.Is(err, errStop):
		return data, nil
	case err != nil:
		return nil, err
	}
	return nil, fmt.Errorf("%s in %s: %w", name, archive, ErrNotFound)
}

// isSafePath returns false for paths that could escape the extraction
// directory: absolute paths and those containing ".." components.
func isSafePath(name string) bool {
	if path.IsAbs(name) || strings.HasPrefix(name, `\`) {
		return false
	}
	for part := range strings.SplitSeq(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
