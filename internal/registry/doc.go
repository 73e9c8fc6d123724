// Package registry is the client for the message-passing registry process
// that indexes skill metadata. Reads go through dry-run queries with a
// bounded retry policy and an in-memory cache; writes are signed messages
// that are never retried, confirmed by polling the message result.
package registry
