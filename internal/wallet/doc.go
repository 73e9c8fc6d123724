// Package wallet loads the ed25519 key that signs registry messages and
// storage uploads, and derives the owner and address strings from it.
package wallet
