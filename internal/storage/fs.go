package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/linkfix/internal/apperr"
)

// DefaultExtension selects Markdown documents.
const DefaultExtension = ".md"

const tmpPattern = ".linkfix-tmp-*"

// DiscoveryError reports an entry that could not be traversed.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("storage: discover %s: %v", e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the tree root
	ext  string
}

// NewFS creates a new FS provider rooted at the given directory, selecting
// files whose name ends with ext. The directory must already exist.
func NewFS(root, ext string) (*FS, error) {
	if ext == "" {
		ext = DefaultExtension
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root %s: %w: %v", abs, apperr.ErrRootNotFound, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s: %w", abs, apperr.ErrRootNotFound)
	}
	// The walk does not follow links, so a linked root is resolved once here.
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	return &FS{root: abs, ext: ext}, nil
}

// Root returns the absolute root directory.
func (f *FS) Root() string {
	return f.root
}

// IsDocument reports whether name carries the document extension.
// The comparison is case-sensitive.
func (f *FS) IsDocument(name string) bool {
	return strings.HasSuffix(name, f.ext)
}

// safePath resolves a relative path against the root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s: %w", rel, apperr.ErrOutsideRoot)
	}
	abs := filepath.Join(f.root, cleaned)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: %s: %w", rel, apperr.ErrOutsideRoot)
	}
	return abs, nil
}

// Extension returns the document file extension.
func (f *FS) Extension() string {
	return f.ext
}

// document resolves a document path for Read and Write. The name must
// carry the document extension and no component below the root may be a
// symbolic link, so neither call can touch a file Discover would not yield.
func (f *FS) document(rel string) (string, error) {
	abs, err := f.safePath(rel)
	if err != nil {
		return "", err
	}
	if abs == f.root || !f.IsDocument(abs) {
		return "", fmt.Errorf("storage: %s: %w", rel, apperr.ErrNotDocument)
	}
	if err := f.noLinks(abs); err != nil {
		return "", fmt.Errorf("storage: %s: %w", rel, err)
	}
	return abs, nil
}

// noLinks checks every existing component of abs below the root with
// Lstat. Missing components end the check; the caller reports them.
func (f *FS) noLinks(abs string) error {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return err
	}
	cur := f.root
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("symbolic link %s: %w", part, apperr.ErrOutsideRoot)
		}
	}
	return nil
}

// Rel converts an absolute path under the root to a root-relative path.
func (f *FS) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return "", fmt.Errorf("storage: rel %s: %w", abs, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: %s: %w", abs, apperr.ErrOutsideRoot)
	}
	return rel, nil
}

// Discover walks the whole tree, hidden and VCS directories included.
// Symbolic links are neither followed nor yielded, so link cycles cannot
// recurse. Unreadable directories are reported and skipped. The walk stops
// without a further yield once ctx is done.
func (f *FS) Discover(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		_ = filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
			if ctx.Err() != nil {
				return filepath.SkipAll
			}
			if walkErr != nil {
				rel, _ := filepath.Rel(f.root, p)
				if !yield("", &DiscoveryError{Path: rel, Err: walkErr}) {
					return filepath.SkipAll
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() || !f.IsDocument(d.Name()) {
				return nil
			}
			rel, err := filepath.Rel(f.root, p)
			if err != nil {
				if !yield("", &DiscoveryError{Path: p, Err: err}) {
					return filepath.SkipAll
				}
				return nil
			}
			if !yield(rel, nil) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// Read returns the raw bytes of a document.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.document(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename. The
// permission bits of an existing file are kept.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.document(path)
	if err != nil {
		return err
	}
	mode := fs.FileMode(0o644)
	if info, statErr := os.Lstat(abs); statErr == nil {
		mode = info.Mode().Perm()
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return fmt.Errorf("storage: stat %s: %w", path, statErr)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), tmpPattern)
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return fmt.Errorf("storage: chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}
