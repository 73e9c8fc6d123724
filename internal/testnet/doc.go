// Package testnet runs an in-memory registry process and storage gateway
// behind one httptest server. It speaks the same wire protocol as the real
// endpoints so the registry and transport clients can be exercised end to
// end without network access.
package testnet
