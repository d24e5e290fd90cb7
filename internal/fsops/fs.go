// Package fsops provides filesystem operations for the project tree.
//
// All disk mutations performed by the document directory go through the FS
// interface, which keeps the synchronization layer testable and funnels
// writes through a single place.
//
// Key features:
//   - Atomic writes using temp file + rename
//   - Walk of the project tree with deterministic ordering
//   - Testable via the FS interface
package fsops

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FS provides an abstraction for filesystem operations.
// All disk access by the document directory must go through this interface.
type FS interface {
	// Stat returns file info, following symlinks.
	Stat(path string) (os.FileInfo, error)

	// ReadFile reads the entire contents of a file.
	ReadFile(path string) ([]byte, error)

	// AtomicWrite writes data to path atomically using temp file + rename.
	AtomicWrite(path string, data []byte, perm os.FileMode) error

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm os.FileMode) error

	// Remove removes a file or empty directory.
	Remove(path string) error

	// Rename moves a file or directory from oldPath to newPath.
	Rename(oldPath, newPath string) error

	// WalkDir walks the tree rooted at root in lexical order.
	WalkDir(root string, fn fs.WalkDirFunc) error
}

// RealFS implements FS using actual OS operations.
type RealFS struct{}

// NewRealFS creates a new RealFS.
func NewRealFS() *RealFS {
	return &RealFS{}
}

// Stat returns file info, following symlinks.
func (f *RealFS) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// ReadFile reads the entire contents of a file.
func (f *RealFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// MkdirAll creates a directory and all parent directories.
func (f *RealFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Remove removes a file or empty directory.
func (f *RealFS) Remove(path string) error {
	return os.Remove(path)
}

// Rename moves a file or directory from oldPath to newPath.
func (f *RealFS) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

// WalkDir walks the tree rooted at root in lexical order.
func (f *RealFS) WalkDir(root string, fn fs.WalkDirFunc) error {
	return filepath.WalkDir(root, fn)
}

// AtomicWrite writes data to path atomically using temp file + rename.
// The write either fully succeeds or leaves the previous file intact.
func (f *RealFS) AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on error
	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	// Atomically rename temp file to target
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	// Success - don't clean up temp file
	tmpFile = nil
	return nil
}
