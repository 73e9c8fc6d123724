// Package publish validates, packs, uploads and registers a skill directory.
package publish
