// Package lockfile records installed packages in skills-lock.json under an
// install root. Writes are serialized with an advisory file lock.
package lockfile
