//go:build unix

package elf

import (
	"os"

	"golang.org/x/sys/unix"
)

// WriteExecutable writes the image and forces the execute bits on,
// so the result runs regardless of the process umask.
func WriteExecutable(path string, image []byte) error {
	if err := os.WriteFile(path, image, 0o755); err != nil {
		return err
	}
	return unix.Chmod(path, 0o755)
}
