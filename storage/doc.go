// Package storage provides the origin-wide key/value medium shared by every
// tab client, the Go counterpart of browser localStorage.
//
// # Change notification asymmetry
//
// A write is announced to every watcher of the key except the writer itself.
// The cross-tab channel's fallback transport and the local identity cache
// both rely on this: a tab never observes its own write through [Storage.Watch].
// Implementations must preserve it.
//
// # What this package must NOT do
//
//   - Interpret stored values (they are opaque strings).
//   - Persist change history; only the latest value of a key is kept.
package storage
