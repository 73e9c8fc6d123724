// Package install resolves a package graph and installs every node:
// download, extract, record in the lock ledger.
package install
