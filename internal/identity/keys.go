package identity

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Keys is a local Nostr identity. The zero value is unusable; construct via
// FromSecret, FromPublic, or NewEphemeral.
type Keys struct {
	secret string // 64-char hex, empty for read-only identities
	public string // 64-char hex
}

// FromSecret builds a full identity from a secret key given as 64-char hex or
// a NIP-19 "nsec" string.
func FromSecret(input string) (*Keys, error) {
	sk := strings.TrimSpace(input)
	if sk == "" {
		return nil, fmt.Errorf("%w: empty secret key", ErrBadKey)
	}

	if strings.HasPrefix(sk, "nsec") {
		prefix, value, err := nip19.Decode(sk)
		if err != nil {
			return nil, fmt.Errorf("%w: decode nsec: %v", ErrBadKey, err)
		}
		if prefix != "nsec" {
			return nil, fmt.Errorf("%w: expected nsec, got %s", ErrBadKey, prefix)
		}
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected nsec payload", ErrBadKey)
		}
		sk = s
	}

	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("%w: derive public key: %v", ErrBadKey, err)
	}

	return &Keys{secret: sk, public: pk}, nil
}

// FromPublic builds a read-only identity from a public key given as 64-char
// hex or a NIP-19 "npub" string.
func FromPublic(input string) (*Keys, error) {
	pk := strings.TrimSpace(input)
	if pk == "" {
		return nil, fmt.Errorf("%w: empty public key", ErrBadKey)
	}

	if strings.HasPrefix(pk, "npub") {
		prefix, value, err := nip19.Decode(pk)
		if err != nil {
			return nil, fmt.Errorf("%w: decode npub: %v", ErrBadKey, err)
		}
		if prefix != "npub" {
			return nil, fmt.Errorf("%w: expected npub, got %s", ErrBadKey, prefix)
		}
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected npub payload", ErrBadKey)
		}
		pk = s
	}

	if !nostr.IsValidPublicKey(pk) {
		return nil, fmt.Errorf("%w: invalid public key %q", ErrBadKey, pk)
	}

	return &Keys{public: pk}, nil
}

// NewEphemeral generates a fresh one-time keypair. Used for gift-wrap outer
// envelopes so wire authorship cannot be correlated with the durable identity.
func NewEphemeral() (*Keys, error) {
	sk := nostr.GeneratePrivateKey()
	if sk == "" {
		return nil, fmt.Errorf("%w: keygen failed", ErrBadKey)
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("%w: derive public key: %v", ErrBadKey, err)
	}
	return &Keys{secret: sk, public: pk}, nil
}

// Public returns the 64-char hex public key.
func (k *Keys) Public() string { return k.public }

// ReadOnly reports whether the identity lacks a secret key.
func (k *Keys) ReadOnly() bool { return k.secret == "" }

// Npub returns the NIP-19 encoding of the public key, best effort.
func (k *Keys) Npub() string {
	npub, err := nip19.EncodePublicKey(k.public)
	if err != nil {
		return ""
	}
	return npub
}

// SignEvent finalizes an unsigned event in place (id + signature).
// Fails with ErrReadOnly when no secret key is available.
func (k *Keys) SignEvent(evt *nostr.Event) error {
	if k.ReadOnly() {
		return ErrReadOnly
	}
	if evt.PubKey == "" {
		evt.PubKey = k.public
	}
	if err := evt.Sign(k.secret); err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	return nil
}
