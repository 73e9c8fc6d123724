// Package transport moves bundles to and from content-addressed storage:
// size-tiered signed uploads, streaming downloads with content type checks,
// and durability polling on upload status.
package transport
