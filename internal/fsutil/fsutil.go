// Package fsutil provides filesystem reads scoped to a repository root.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReadWithinRoot reads the file at rel, a slash-separated path relative to
// root. The open goes through an os.Root: "..", absolute paths, and symlinks
// resolving outside root all fail instead of escaping it. Relative paths come
// from checkpoints and model replies, which may name anything.
func ReadWithinRoot(root, rel string) ([]byte, error) {
	native := filepath.FromSlash(rel)
	if native == "" || native == "." {
		return nil, fmt.Errorf("invalid file path %q", rel)
	}

	r, err := os.OpenRoot(root)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	f, err := r.Open(native)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}
