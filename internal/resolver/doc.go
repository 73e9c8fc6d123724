// Package resolver expands a package reference into a dependency plan: an
// arena of nodes in topological order, with cycle, depth and version
// conflict detection.
package resolver
