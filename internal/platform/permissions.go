package platform

import (
	"os"
	"runtime"
)

// Chmod sets file permissions. Windows has no Unix permission bits, so
// there it does nothing.
func Chmod(path string, mode os.FileMode) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	return os.Chmod(path, mode)
}

// Loosened reports whether path grants any permission bit outside limit,
// along with its current permissions. A wallet at 0400 passes a 0600 limit;
// one at 0644 does not. Always false on Windows.
func Loosened(path string, limit os.FileMode) (os.FileMode, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false, err
	}
	perm := info.Mode().Perm()
	if runtime.GOOS == "windows" {
		return perm, false, nil
	}
	return perm, perm&^limit != 0, nil
}
