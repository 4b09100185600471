//go:build !windows

package state

import (
	"os"

	"github.com/google/renameio/v2"
)

// atomicWriteFile writes data to path so that readers see either the old
// contents or the new, never a torn write. renameio stages the write in a
// temp file on the same filesystem and renames it into place.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
