// Package dmsync orchestrates direct-message synchronization: full loads,
// incremental refresh bounded by a persisted checkpoint, backward pagination,
// and a standing live subscription.
//
// The coordinator drives the pipeline relay pool -> unwrapper -> chat store ->
// archive. It owns checkpoint values and subscription lifetimes; the store
// owns in-memory chat state; the archive owns the durable mirror.
package dmsync
