// Package workspace provides the filesystem collaborator: root-jailed reads
// and writes of project files addressed by relative path.
package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Path validation errors.
var (
	ErrPathEscape   = errors.New("path escapes workspace root")
	ErrAbsolutePath = errors.New("absolute paths not allowed")
	ErrInvalidPath  = errors.New("invalid path")
)

// Workspace reads and writes files under a single project root. Paths coming
// from model output are untrusted; everything is resolved through SafeJoin.
type Workspace struct {
	root string
}

// New returns a workspace rooted at dir.
func New(dir string) *Workspace {
	return &Workspace{root: dir}
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// Read returns the current content of a file by relative path. A missing
// file reads as empty: a create block may target a file that does not exist
// yet.
func (w *Workspace) Read(path string) (string, error) {
	abs, err := w.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// Exists reports whether the file is present in the workspace.
func (w *Workspace) Exists(path string) bool {
	abs, err := w.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// Write stores content at the relative path, creating parent directories as
// needed.
func (w *Workspace) Write(path, content string) error {
	abs, err := w.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(content), 0644)
}

func (w *Workspace) resolve(path string) (string, error) {
	if err := ValidateRelativePath(path); err != nil {
		return "", err
	}
	return SafeJoin(w.root, path)
}

// SafeJoin joins a base directory with a relative path, ensuring the result
// stays within the base directory. Uses OS-level path resolution.
// Returns the absolute path if valid, or an error if the path escapes.
func SafeJoin(baseDir, relativePath string) (string, error) {
	if relativePath == "" {
		return "", ErrInvalidPath
	}

	// Join and clean (this resolves . and .. components)
	joined := filepath.Join(baseDir, relativePath)

	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(absBase, absJoined)
	if err != nil {
		return "", err
	}

	// Reject if path escapes: exactly ".." or starts with "../"
	// Note: "..." or "..foo" are valid filenames, not traversals
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathEscape
	}

	return absJoined, nil
}

// ValidateRelativePath checks that a path is valid for use as a relative
// path. It must not be absolute and must not contain null bytes.
func ValidateRelativePath(path string) error {
	if path == "" {
		return ErrInvalidPath
	}
	if filepath.IsAbs(path) {
		return ErrAbsolutePath
	}
	if strings.ContainsRune(path, '\x00') {
		return ErrInvalidPath
	}
	return nil
}
