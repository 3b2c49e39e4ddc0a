// Package archive is the durable mirror of chat state, scoped per local
// account identity and surviving process restarts.
//
// The in-memory store stays authoritative for a running session; the archive
// may lag behind it and is reconciled on the next load. Load merges
// historical rows written under an older scheme-qualified chat-key layout
// ("nip04:<pub>", "nip44:<pub>") into one chat per peer, since peer identity
// is the true merge key.
package archive
