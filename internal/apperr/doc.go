// Package apperr defines the error taxonomy shared by every component:
// a short machine-checkable kind and code, a human remediation hint, and the
// mapping from kind to process exit code.
package apperr
