// Package canonlog reads and appends the append-only canonical memory log.
//
// Each entity owns one Markdown file (<author>.md) in the state
// directory. Entries are separated by a horizontal-rule line and carry
// a "## YYYY-MM-DD: title" heading.
package canonlog

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fenwick/mnemon/internal/fingerprint"
)

// FileMeta describes one author file in the state directory.
type FileMeta struct {
	Author    string
	Path      string
	Checksum  string
	UpdatedAt time.Time
}

// Source is the storage capability behind the canonical log. Concrete
// storage is injected; the reader never touches the filesystem directly.
type Source interface {
	// List returns metadata for every author file.
	List() ([]FileMeta, error)
	// Read returns the raw bytes of an author's file. A missing file
	// yields fs.ErrNotExist; a new author simply has no history yet.
	Read(author string) ([]byte, error)
	// Write atomically replaces an author's file.
	Write(author string, content []byte) error
}

// FS implements Source backed by a local state directory.
type FS struct {
	root string
}

// NewFS creates a Source rooted at the given directory. The directory
// must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("canonlog: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("canonlog: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("canonlog: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// skipFile reports whether a directory entry is not an author file.
// Hidden files, underscore-prefixed files, and documentation are ignored.
func skipFile(name string) bool {
	if !strings.HasSuffix(name, ".md") {
		return true
	}
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return true
	}
	switch strings.ToLower(name) {
	case "readme.md", "howto.md":
		return true
	}
	return false
}

// authorPath validates the author id and resolves its file path.
// Author ids become file names, so path separators are rejected.
func (f *FS) authorPath(author string) (string, error) {
	if author == "" || strings.ContainsAny(author, `/\`) || author != filepath.Clean(author) {
		return "", fmt.Errorf("canonlog: invalid author id: %q", author)
	}
	return filepath.Join(f.root, author+".md"), nil
}

// List returns metadata for every author file in the state directory.
func (f *FS) List() ([]FileMeta, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("canonlog: list: %w", err)
	}
	var out []FileMeta
	for _, d := range entries {
		if d.IsDir() || skipFile(d.Name()) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			return nil, fmt.Errorf("canonlog: stat %s: %w", d.Name(), err)
		}
		data, err := os.ReadFile(filepath.Join(f.root, d.Name()))
		if err != nil {
			return nil, fmt.Errorf("canonlog: read %s: %w", d.Name(), err)
		}
		out = append(out, FileMeta{
			Author:    strings.TrimSuffix(d.Name(), ".md"),
			Path:      d.Name(),
			Checksum:  fingerprint.Sum(data),
			UpdatedAt: info.ModTime(),
		})
	}
	return out, nil
}

// Read returns the raw bytes of an author's file.
func (f *FS) Read(author string) ([]byte, error) {
	path, err := f.authorPath(author)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fs.ErrNotExist
		}
		return nil, fmt.Errorf("canonlog: read %s: %w", author, err)
	}
	return data, nil
}

// Write atomically replaces an author's file: tmp file, fsync, rename.
func (f *FS) Write(author string, content []byte) error {
	path, err := f.authorPath(author)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.root, ".mnemon-tmp-*")
	if err != nil {
		return fmt.Errorf("canonlog: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("canonlog: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("canonlog: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("canonlog: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("canonlog: rename: %w", err)
	}
	success = true
	return nil
}
