// Package bundle packs a skill directory into a reproducible tar.gz archive
// and unpacks downloaded archives into an install root with traversal,
// link, size and disk space checks.
package bundle
