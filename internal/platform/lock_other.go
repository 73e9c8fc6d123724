//go:build !linux && !darwin && !freebsd

package platform

import "os"

// Without flock the in-process mutex held by callers is the only
// serialization.
func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) error { return nil }
