// Package identity holds the local Nostr keypair and the cryptographic
// capabilities bound to it: event signing, NIP-04 and NIP-44 encryption.
//
// A Keys value is either full (secret key present) or read-only (public key
// only). Read-only identities can decode nothing and sign nothing; every
// operation that needs the secret key fails with ErrReadOnly so callers can
// degrade gracefully instead of crashing mid-sync.
package identity
