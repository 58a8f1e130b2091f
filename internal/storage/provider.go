// Package storage defines the document tree file-system abstraction.
package storage

import (
	"context"
	"iter"
)

// Provider is the interface for document file operations. Paths are
// relative to the tree root.
type Provider interface {
	// Root returns the absolute path of the tree root.
	Root() string
	// Extension returns the suffix that selects documents.
	Extension() string
	// Discover lazily yields the relative path of every document under the
	// root. Entries that cannot be read are yielded as *DiscoveryError and
	// traversal continues until ctx is done.
	Discover(ctx context.Context) iter.Seq2[string, error]
	// Read returns the raw bytes of the document at path. Paths without the
	// document extension fail with apperr.ErrNotDocument, paths through a
	// symbolic link with apperr.ErrOutsideRoot.
	Read(path string) ([]byte, error)
	// Write atomically replaces the content of the document at path, with
	// the same checks as Read.
	Write(path string, content []byte) error
}
