// Package retry implements the bounded retry policy shared by the registry
// client and the bundle transport.
package retry
