package dm

// Direction tells whether the wire author was the local identity.
type Direction uint8

const (
	Incoming Direction = iota
	Outgoing
)

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

// Scheme identifies the encryption scheme a message arrived under. It is
// tracked per message, not per chat, because one chat may contain a mix.
type Scheme uint8

const (
	// SchemeLegacy is the single-layer NIP-04 scheme (kind 4).
	SchemeLegacy Scheme = iota
	// SchemeModern is the gift-wrapped NIP-44/NIP-17 scheme (kind 1059).
	SchemeModern
)

func (s Scheme) String() string {
	if s == SchemeModern {
		return "modern"
	}
	return "legacy"
}

// TagKind classifies the known tag shapes. Tags are parsed once at the
// envelope boundary; everything unrecognized is carried as TagUnknown.
type TagKind uint8

const (
	TagUnknown TagKind = iota
	TagRecipient
	TagReplyRef
	TagRelayHint
)

// Tag is one parsed event annotation.
type Tag struct {
	Kind  TagKind
	Value string
	Relay string   // optional relay hint carried alongside the value
	Raw   []string // original wire shape, preserved for round-tripping
}

// Message is a single decrypted communication unit.
//
// Timestamp is sender-declared and, for modern envelopes, intentionally
// randomized up to a bounded window, so it is not reliable for precise
// cross-scheme ordering.
type Message struct {
	ID        string
	PeerKey   string // the chat's key: counterparty, never the local identity
	Timestamp int64  // seconds
	Content   string
	Direction Direction
	Scheme    Scheme
	Tags      []Tag
	ReplyToID string

	// Transient delivery/view flags.
	Pending  bool
	Failed   bool
	Received bool
	Read     bool
}

// Recipients returns the pubkeys of all recipient tags in order.
func (m Message) Recipients() []string {
	var out []string
	for _, t := range m.Tags {
		if t.Kind == TagRecipient {
			out = append(out, t.Value)
		}
	}
	return out
}
