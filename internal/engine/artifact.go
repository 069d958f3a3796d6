package engine

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteArtifact writes an engine artifact through a temp file and rename, so
// a failed build never leaves a partial artifact at the target path.
func WriteArtifact(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".bertbuild-*")
	if err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}
