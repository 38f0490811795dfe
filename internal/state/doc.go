// Package state provides filesystem-backed persistence for the client:
// the persisted session and the per-thread last-known-good message cache.
package state
