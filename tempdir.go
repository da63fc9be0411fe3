package capture

import (
	"os"
)

// TempDir returns a new temporary directory for recorded frames, in /dev/shm
// if possible, otherwise in the OS default temporary directory. Callers remove
// it when done.
func TempDir() (string, error) {
	// Frames are written and read back at the frame rate, keep them in memory
	// when we can. Check that /dev/shm exists first, to not create a directory
	// in /dev when running as root.
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		dir, err := os.MkdirTemp("/dev/shm", "capture-go")
		if err == nil {
			return dir, nil
		}
	}
	return os.MkdirTemp("", "capture-go")
}
