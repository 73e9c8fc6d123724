// Package dataitem builds the signed, tagged envelopes that carry registry
// messages and bundle uploads.
package dataitem
