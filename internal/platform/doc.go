// Package platform wraps the OS-specific filesystem calls the installer
// needs: free disk space, advisory file locks and permission bits. Unix
// builds use golang.org/x/sys/unix; other platforms fall back to
// best-effort implementations.
package platform
