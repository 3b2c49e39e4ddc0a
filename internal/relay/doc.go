// Package relay provides the relay pool: fan-out queries, standing
// subscriptions, and publishes against a set of Nostr relay endpoints.
//
// Two implementations exist: WSPool speaks NIP-01 over WebSocket and is used
// in production; MemoryPool is a deterministic in-process relay used by
// tests. Callers depend on the Pool interface only.
//
// Failure semantics follow best-effort fan-out: an unreachable relay is
// logged and skipped, a query returns whatever was collected when every
// reachable relay signalled end-of-stored-events or the timeout fired.
// Nothing here hangs indefinitely.
package relay
