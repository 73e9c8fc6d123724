package platform

import (
	"fmt"
	"os"
)

// FileLock is an exclusive advisory lock held on a sidecar file.
type FileLock struct {
	file *os.File
}

// Lock opens (creating if needed) the file at path and blocks until an
// exclusive lock is held on it.
func Lock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &FileLock{file: f}, nil
}

// Unlock releases the lock and closes the file. The lock file is left in
// place so concurrent lockers always contend on the same inode.
func (l *FileLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	uerr := unlockFile(l.file)
	cerr := l.file.Close()
	l.file = nil
	if uerr != nil {
		return fmt.Errorf("unlocking: %w", uerr)
	}
	return cerr
}
