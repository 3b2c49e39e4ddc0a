package envelope

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"

	"murmur/internal/dm"
	"murmur/internal/identity"
)

// Unwrapper decrypts and validates inbound protocol envelopes against one
// local identity.
type Unwrapper struct {
	log  *slog.Logger
	keys *identity.Keys
}

// NewUnwrapper constructs an Unwrapper.
func NewUnwrapper(log *slog.Logger, keys *identity.Keys) *Unwrapper {
	if log == nil {
		log = slog.Default()
	}
	return &Unwrapper{log: log, keys: keys}
}

// Unwrap turns a raw protocol event into a canonical message record, or
// reports why it cannot be processed. Callers should branch on IsBenign and
// IsTamper for logging severity; no error from here should abort a batch.
func (u *Unwrapper) Unwrap(evt *nostr.Event) (dm.Message, error) {
	switch evt.Kind {
	case KindLegacyDM:
		return u.unwrapLegacy(evt)
	case KindGiftWrap:
		return u.unwrapGiftWrap(evt)
	default:
		return dm.Message{}, fmt.Errorf("%w: kind %d", ErrUnsupportedKind, evt.Kind)
	}
}

// unwrapLegacy handles the single-layer NIP-04 shape. The wire author is
// either the sender or, when it equals the local identity, the actual
// recipient is recovered from the recipient-tag list.
func (u *Unwrapper) unwrapLegacy(evt *nostr.Event) (dm.Message, error) {
	local := u.keys.Public()
	recipients := recipientKeys(evt.Tags)

	var peer string
	direction := dm.Incoming

	if evt.PubKey == local {
		direction = dm.Outgoing
		switch len(recipients) {
		case 0:
			return dm.Message{}, fmt.Errorf("%w: outgoing legacy event without recipient tag", ErrMalformed)
		case 1:
			peer = recipients[0]
		default:
			// The scheme does not support multi-recipient delivery; picking
			// one heuristically could attribute the message to the wrong chat.
			return dm.Message{}, fmt.Errorf("%w: %d recipient tags", ErrAmbiguousRecipient, len(recipients))
		}
	} else {
		peer = evt.PubKey
		if len(recipients) == 0 {
			return dm.Message{}, fmt.Errorf("%w: legacy event without recipient tag", ErrMalformed)
		}
		addressed := false
		for _, r := range recipients {
			if r == local {
				addressed = true
				break
			}
		}
		if !addressed {
			return dm.Message{}, fmt.Errorf("%w: recipient tags do not include local key", ErrNotAddressed)
		}
	}

	plaintext, err := u.keys.DecryptLegacy(evt.Content, peer)
	if err != nil {
		return dm.Message{}, fmt.Errorf("%w: %v", ErrNotAddressed, err)
	}

	return dm.Message{
		ID:        evt.ID,
		PeerKey:   peer,
		Timestamp: int64(evt.CreatedAt),
		Content:   plaintext,
		Direction: direction,
		Scheme:    dm.SchemeLegacy,
		Tags:      ParseTags(evt.Tags),
		ReplyToID: replyTo(evt.Tags),
		Received:  true,
		Read:      direction == dm.Outgoing,
	}, nil
}

// unwrapGiftWrap handles the three-stage modern shape: decrypt the outer wrap
// against its one-time author key, decrypt the seal against the seal author,
// then verify the seal author matches the author embedded in the rumor.
func (u *Unwrapper) unwrapGiftWrap(evt *nostr.Event) (dm.Message, error) {
	local := u.keys.Public()

	if rs := recipientKeys(evt.Tags); len(rs) > 0 {
		addressed := false
		for _, r := range rs {
			if r == local {
				addressed = true
				break
			}
		}
		if !addressed {
			return dm.Message{}, fmt.Errorf("%w: wrap recipient tags do not include local key", ErrNotAddressed)
		}
	}

	sealJSON, err := u.keys.Decrypt(evt.Content, evt.PubKey)
	if err != nil {
		return dm.Message{}, fmt.Errorf("%w: outer layer: %v", ErrNotAddressed, err)
	}

	var seal nostr.Event
	if err := json.Unmarshal([]byte(sealJSON), &seal); err != nil {
		return dm.Message{}, fmt.Errorf("%w: seal decode: %v", ErrMalformed, err)
	}
	if seal.Kind != KindSeal {
		return dm.Message{}, fmt.Errorf("%w: inner kind %d, want %d", ErrMalformed, seal.Kind, KindSeal)
	}
	if ok, err := seal.CheckSignature(); err != nil || !ok {
		return dm.Message{}, fmt.Errorf("%w: seal signature invalid", ErrAuthorMismatch)
	}

	rumorJSON, err := u.keys.Decrypt(seal.Content, seal.PubKey)
	if err != nil {
		return dm.Message{}, fmt.Errorf("%w: seal layer: %v", ErrMalformed, err)
	}

	var rumor nostr.Event
	if err := json.Unmarshal([]byte(rumorJSON), &rumor); err != nil {
		return dm.Message{}, fmt.Errorf("%w: rumor decode: %v", ErrMalformed, err)
	}

	if rumor.PubKey != seal.PubKey {
		u.log.Warn("envelope.tamper", "wrap_id", evt.ID, "seal_author", seal.PubKey, "rumor_author", rumor.PubKey)
		return dm.Message{}, fmt.Errorf("%w: rumor author %s, seal author %s", ErrAuthorMismatch, rumor.PubKey, seal.PubKey)
	}

	direction := dm.Incoming
	peer := rumor.PubKey
	if rumor.PubKey == local {
		direction = dm.Outgoing
		rs := recipientKeys(rumor.Tags)
		if len(rs) == 0 {
			return dm.Message{}, fmt.Errorf("%w: outgoing rumor without recipient tag", ErrMalformed)
		}
		peer = rs[0]
	}

	// Canonical content-derived id; the rumor is unsigned, so the id is the
	// only stable handle shared by the recipient copy and the self copy.
	id := rumor.GetID()

	return dm.Message{
		ID:        id,
		PeerKey:   peer,
		Timestamp: int64(rumor.CreatedAt),
		Content:   rumor.Content,
		Direction: direction,
		Scheme:    dm.SchemeModern,
		Tags:      ParseTags(rumor.Tags),
		ReplyToID: replyTo(rumor.Tags),
		Received:  true,
		Read:      direction == dm.Outgoing,
	}, nil
}
