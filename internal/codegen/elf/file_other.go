//go:build !unix

package elf

import "os"

// WriteExecutable writes the image. Permission bits only matter on
// unix hosts; elsewhere a plain write is enough.
func WriteExecutable(path string, image []byte) error {
	return os.WriteFile(path, image, 0o755)
}
