// Package clock abstracts the time operations used by caches, retry
// policies and pollers so tests can control elapsed time.
package clock
