package identity

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"
)

// Legacy (NIP-04) and modern (NIP-44) encryption bound to the local secret
// key. Decryption failures are common in normal operation (relays deliver
// events not addressed to this identity); callers must treat them as benign.

// EncryptLegacy encrypts plaintext for counterparty using NIP-04.
func (k *Keys) EncryptLegacy(plaintext, counterparty string) (string, error) {
	if k.ReadOnly() {
		return "", ErrReadOnly
	}
	shared, err := nip04.ComputeSharedSecret(counterparty, k.secret)
	if err != nil {
		return "", fmt.Errorf("nip04 shared secret: %w", err)
	}
	ct, err := nip04.Encrypt(plaintext, shared)
	if err != nil {
		return "", fmt.Errorf("nip04 encrypt: %w", err)
	}
	return ct, nil
}

// DecryptLegacy decrypts a NIP-04 ciphertext from counterparty.
func (k *Keys) DecryptLegacy(ciphertext, counterparty string) (string, error) {
	if k.ReadOnly() {
		return "", ErrReadOnly
	}
	shared, err := nip04.ComputeSharedSecret(counterparty, k.secret)
	if err != nil {
		return "", fmt.Errorf("nip04 shared secret: %w", err)
	}
	pt, err := nip04.Decrypt(ciphertext, shared)
	if err != nil {
		return "", fmt.Errorf("nip04 decrypt: %w", err)
	}
	return pt, nil
}

// Encrypt encrypts plaintext for counterparty using NIP-44 v2.
func (k *Keys) Encrypt(plaintext, counterparty string) (string, error) {
	if k.ReadOnly() {
		return "", ErrReadOnly
	}
	ck, err := nip44.GenerateConversationKey(counterparty, k.secret)
	if err != nil {
		return "", fmt.Errorf("nip44 conversation key: %w", err)
	}
	ct, err := nip44.Encrypt(plaintext, ck)
	if err != nil {
		return "", fmt.Errorf("nip44 encrypt: %w", err)
	}
	return ct, nil
}

// Decrypt decrypts a NIP-44 ciphertext from counterparty.
func (k *Keys) Decrypt(ciphertext, counterparty string) (string, error) {
	if k.ReadOnly() {
		return "", ErrReadOnly
	}
	ck, err := nip44.GenerateConversationKey(counterparty, k.secret)
	if err != nil {
		return "", fmt.Errorf("nip44 conversation key: %w", err)
	}
	pt, err := nip44.Decrypt(ciphertext, ck)
	if err != nil {
		return "", fmt.Errorf("nip44 decrypt: %w", err)
	}
	return pt, nil
}
