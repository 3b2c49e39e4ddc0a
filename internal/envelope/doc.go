// Package envelope turns raw Nostr protocol events into canonical
// direct-message records and builds outbound envelopes.
//
// Two input shapes are handled: legacy single-layer encrypted DMs (NIP-04,
// kind 4) and gift-wrapped three-layer envelopes (NIP-44/NIP-17/NIP-59,
// kind 1059). Decryption failures are a normal, frequent occurrence because
// relays deliver many events not intended for the local identity; those are
// reported as ErrNotAddressed and must never be escalated. A declared-author
// mismatch between envelope layers is tampering and is reported as
// ErrAuthorMismatch with no partial result.
package envelope
