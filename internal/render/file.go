package render

import (
	"fmt"
	"io"

	"github.com/google/renameio/v2"
)

// WriteFile writes the output of fn to path atomically: readers see either the old file
// or the complete new one, never a partial write.
func WriteFile(path string, fn func(io.Writer) error) error {
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file %s: %w", path, err)
	}
	defer pendingFile.Cleanup()

	if err := fn(pendingFile); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}
