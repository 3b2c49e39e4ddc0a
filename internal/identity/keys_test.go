package identity

import (
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

func TestFromSecret_Hex(t *testing.T) {
	sk := nostr.GeneratePrivateKey()

	k, err := FromSecret(sk)
	if err != nil {
		t.Fatalf("FromSecret: %v", err)
	}
	if k.ReadOnly() {
		t.Fatalf("expected full identity")
	}

	want, err := nostr.GetPublicKey(sk)
	if err != nil {
		t.Fatalf("GetPublicKey: %v", err)
	}
	if k.Public() != want {
		t.Fatalf("public key mismatch: got %s want %s", k.Public(), want)
	}
}

func TestFromSecret_Nsec(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	nsec, err := nip19.EncodePrivateKey(sk)
	if err != nil {
		t.Fatalf("EncodePrivateKey: %v", err)
	}

	k, err := FromSecret(nsec)
	if err != nil {
		t.Fatalf("FromSecret(nsec): %v", err)
	}
	want, _ := nostr.GetPublicKey(sk)
	if k.Public() != want {
		t.Fatalf("public key mismatch")
	}
}

func TestFromSecret_Rejects(t *testing.T) {
	cases := []string{"", "   ", "nsec1garbage", "zzzz"}
	for _, in := range cases {
		if _, err := FromSecret(in); err == nil {
			t.Fatalf("FromSecret(%q): expected error", in)
		}
	}
}

func TestFromPublic_ReadOnly(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)

	k, err := FromPublic(pk)
	if err != nil {
		t.Fatalf("FromPublic: %v", err)
	}
	if !k.ReadOnly() {
		t.Fatalf("expected read-only identity")
	}

	evt := nostr.Event{Kind: 1, Content: "x", CreatedAt: nostr.Now()}
	if err := k.SignEvent(&evt); err != ErrReadOnly {
		t.Fatalf("SignEvent: got %v want ErrReadOnly", err)
	}
	if _, err := k.Encrypt("hello", pk); err != ErrReadOnly {
		t.Fatalf("Encrypt: got %v want ErrReadOnly", err)
	}
}

func TestSignEvent(t *testing.T) {
	k, err := FromSecret(nostr.GeneratePrivateKey())
	if err != nil {
		t.Fatalf("FromSecret: %v", err)
	}

	evt := nostr.Event{Kind: 1, Content: "hello", CreatedAt: nostr.Now()}
	if err := k.SignEvent(&evt); err != nil {
		t.Fatalf("SignEvent: %v", err)
	}
	if evt.ID == "" || evt.Sig == "" {
		t.Fatalf("expected id and sig to be set")
	}
	if evt.PubKey != k.Public() {
		t.Fatalf("pubkey mismatch")
	}
	if ok, err := evt.CheckSignature(); err != nil || !ok {
		t.Fatalf("CheckSignature: ok=%v err=%v", ok, err)
	}
}

func TestCipherRoundTrip(t *testing.T) {
	alice, _ := FromSecret(nostr.GeneratePrivateKey())
	bob, _ := FromSecret(nostr.GeneratePrivateKey())

	t.Run("nip44", func(t *testing.T) {
		ct, err := alice.Encrypt("the quick brown fox", bob.Public())
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		pt, err := bob.Decrypt(ct, alice.Public())
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if pt != "the quick brown fox" {
			t.Fatalf("round trip mismatch: %q", pt)
		}
	})

	t.Run("nip04", func(t *testing.T) {
		ct, err := alice.EncryptLegacy("jumps over", bob.Public())
		if err != nil {
			t.Fatalf("EncryptLegacy: %v", err)
		}
		pt, err := bob.DecryptLegacy(ct, alice.Public())
		if err != nil {
			t.Fatalf("DecryptLegacy: %v", err)
		}
		if pt != "jumps over" {
			t.Fatalf("round trip mismatch: %q", pt)
		}
	})

	t.Run("wrong counterparty", func(t *testing.T) {
		eve, _ := FromSecret(nostr.GeneratePrivateKey())
		ct, _ := alice.Encrypt("secret", bob.Public())
		if _, err := eve.Decrypt(ct, alice.Public()); err == nil {
			t.Fatalf("expected decrypt failure for wrong key")
		}
	})
}

func TestNewEphemeral(t *testing.T) {
	a, err := NewEphemeral()
	if err != nil {
		t.Fatalf("NewEphemeral: %v", err)
	}
	b, err := NewEphemeral()
	if err != nil {
		t.Fatalf("NewEphemeral: %v", err)
	}
	if a.Public() == b.Public() {
		t.Fatalf("ephemeral keys must be unique")
	}
	if a.ReadOnly() {
		t.Fatalf("ephemeral identity must be able to sign")
	}
}

func TestNpub(t *testing.T) {
	k, _ := FromSecret(nostr.GeneratePrivateKey())
	if !strings.HasPrefix(k.Npub(), "npub1") {
		t.Fatalf("Npub: got %q", k.Npub())
	}
}
