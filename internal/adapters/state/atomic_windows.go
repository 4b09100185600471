//go:build windows

package state

import (
	"os"
	"path/filepath"
)

// atomicWriteFile writes data to path via a temp file and rename. renameio
// does not support Windows; rename is atomic there when source and target
// share a volume.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tempFile, path); err != nil {
		_ = os.Remove(tempFile)
		return err
	}
	return nil
}
