// Package dm holds the direct-message domain model and the in-memory chat
// store.
//
// The store reconciles an append-only, multi-relay, partially-ordered event
// stream into a consistent per-peer conversation view. It publishes immutable
// snapshots: every mutation builds a new top-level chat map and swaps it in
// under a write lock, so readers always observe a coherent state without
// holding locks across their own work.
package dm
