package envelope

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"murmur/internal/identity"
)

// Wrapped is the result of building one outbound modern-envelope message:
// two independently wrapped copies of the same rumor. The self copy lets the
// sender's own chat view reflect the sent message without holding the
// recipient's key.
type Wrapped struct {
	ToRecipient nostr.Event
	ToSelf      nostr.Event
	RumorID     string
}

// WrapDirectMessage builds the gift-wrapped pair for one plaintext.
//
// The rumor keeps the real creation time; the seal and wrap timestamps are
// randomized within MaxTimestampSkew so relays cannot correlate send times.
// Each wrap is signed by a fresh one-time key.
func WrapDirectMessage(sender *identity.Keys, recipient, plaintext string, now time.Time) (Wrapped, error) {
	if sender.ReadOnly() {
		return Wrapped{}, identity.ErrReadOnly
	}
	if recipient == "" || recipient == sender.Public() {
		return Wrapped{}, fmt.Errorf("%w: invalid recipient", ErrMalformed)
	}

	rumor := nostr.Event{
		PubKey:    sender.Public(),
		CreatedAt: nostr.Timestamp(now.Unix()),
		Kind:      KindChat,
		Tags:      nostr.Tags{{"p", recipient}},
		Content:   plaintext,
	}
	rumor.ID = rumor.GetID()

	toRecipient, err := sealAndWrap(sender, rumor, recipient, now)
	if err != nil {
		return Wrapped{}, fmt.Errorf("wrap for recipient: %w", err)
	}
	toSelf, err := sealAndWrap(sender, rumor, sender.Public(), now)
	if err != nil {
		return Wrapped{}, fmt.Errorf("wrap self copy: %w", err)
	}

	return Wrapped{ToRecipient: toRecipient, ToSelf: toSelf, RumorID: rumor.ID}, nil
}

// sealAndWrap encrypts the rumor into a seal for one destination, signs the
// seal with the durable identity, then wraps the signed seal under a fresh
// ephemeral key addressed to that destination.
func sealAndWrap(sender *identity.Keys, rumor nostr.Event, dest string, now time.Time) (nostr.Event, error) {
	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("marshal rumor: %w", err)
	}

	sealCipher, err := sender.Encrypt(string(rumorJSON), dest)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("encrypt seal: %w", err)
	}
	seal := nostr.Event{
		PubKey:    sender.Public(),
		CreatedAt: randomizedTimestamp(now),
		Kind:      KindSeal,
		Tags:      nostr.Tags{},
		Content:   sealCipher,
	}
	if err := sender.SignEvent(&seal); err != nil {
		return nostr.Event{}, fmt.Errorf("sign seal: %w", err)
	}

	eph, err := identity.NewEphemeral()
	if err != nil {
		return nostr.Event{}, fmt.Errorf("ephemeral key: %w", err)
	}
	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("marshal seal: %w", err)
	}
	wrapCipher, err := eph.Encrypt(string(sealJSON), dest)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("encrypt wrap: %w", err)
	}
	wrap := nostr.Event{
		PubKey:    eph.Public(),
		CreatedAt: randomizedTimestamp(now),
		Kind:      KindGiftWrap,
		Tags:      nostr.Tags{{"p", dest}},
		Content:   wrapCipher,
	}
	if err := eph.SignEvent(&wrap); err != nil {
		return nostr.Event{}, fmt.Errorf("sign wrap: %w", err)
	}
	return wrap, nil
}

// BuildLegacyMessage builds a signed single-layer NIP-04 event for senders
// talking to peers that have not upgraded schemes.
func BuildLegacyMessage(sender *identity.Keys, recipient, plaintext string, now time.Time) (nostr.Event, error) {
	if sender.ReadOnly() {
		return nostr.Event{}, identity.ErrReadOnly
	}
	if recipient == "" || recipient == sender.Public() {
		return nostr.Event{}, fmt.Errorf("%w: invalid recipient", ErrMalformed)
	}

	cipher, err := sender.EncryptLegacy(plaintext, recipient)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("encrypt legacy: %w", err)
	}
	evt := nostr.Event{
		PubKey:    sender.Public(),
		CreatedAt: nostr.Timestamp(now.Unix()),
		Kind:      KindLegacyDM,
		Tags:      nostr.Tags{{"p", recipient}},
		Content:   cipher,
	}
	if err := sender.SignEvent(&evt); err != nil {
		return nostr.Event{}, fmt.Errorf("sign legacy: %w", err)
	}
	return evt, nil
}

// randomizedTimestamp returns now minus a uniform offset in
// [0, MaxTimestampSkew). Always in the past so relays with created_at limits
// do not reject the event.
func randomizedTimestamp(now time.Time) nostr.Timestamp {
	skew := rand.Int64N(int64(MaxTimestampSkew / time.Second))
	return nostr.Timestamp(now.Unix() - skew)
}
