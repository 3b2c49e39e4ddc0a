package envelope

import (
	"errors"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"murmur/internal/dm"
	"murmur/internal/identity"
)

func TestWrapDirectMessage_TimestampSkew(t *testing.T) {
	alice := newTestKeys(t)
	bob := newTestKeys(t)

	now := time.Now()
	w, err := WrapDirectMessage(alice, bob.Public(), "x", now)
	if err != nil {
		t.Fatalf("WrapDirectMessage: %v", err)
	}

	maxSkew := int64(MaxTimestampSkew / time.Second)
	for name, evt := range map[string]nostr.Event{"recipient": w.ToRecipient, "self": w.ToSelf} {
		ts := int64(evt.CreatedAt)
		if ts > now.Unix() {
			t.Fatalf("%s wrap timestamp in the future", name)
		}
		if now.Unix()-ts > maxSkew {
			t.Fatalf("%s wrap timestamp skew %d exceeds bound %d", name, now.Unix()-ts, maxSkew)
		}
	}
}

func TestWrapDirectMessage_WrapShape(t *testing.T) {
	alice := newTestKeys(t)
	bob := newTestKeys(t)

	w, err := WrapDirectMessage(alice, bob.Public(), "x", time.Now())
	if err != nil {
		t.Fatalf("WrapDirectMessage: %v", err)
	}

	if w.ToRecipient.Kind != KindGiftWrap || w.ToSelf.Kind != KindGiftWrap {
		t.Fatalf("wraps must be kind %d", KindGiftWrap)
	}
	if got := recipientKeys(w.ToRecipient.Tags); len(got) != 1 || got[0] != bob.Public() {
		t.Fatalf("recipient wrap p tag: %v", got)
	}
	if got := recipientKeys(w.ToSelf.Tags); len(got) != 1 || got[0] != alice.Public() {
		t.Fatalf("self wrap p tag: %v", got)
	}
	for name, evt := range map[string]nostr.Event{"recipient": w.ToRecipient, "self": w.ToSelf} {
		if ok, err := evt.CheckSignature(); err != nil || !ok {
			t.Fatalf("%s wrap signature invalid: ok=%v err=%v", name, ok, err)
		}
	}
}

func TestWrapDirectMessage_Rejections(t *testing.T) {
	alice := newTestKeys(t)
	viewer, err := identity.FromPublic(alice.Public())
	if err != nil {
		t.Fatalf("FromPublic: %v", err)
	}
	bob := newTestKeys(t)

	if _, err := WrapDirectMessage(viewer, bob.Public(), "x", time.Now()); !errors.Is(err, identity.ErrReadOnly) {
		t.Fatalf("read-only sender: got %v", err)
	}
	if _, err := WrapDirectMessage(alice, "", "x", time.Now()); err == nil {
		t.Fatalf("empty recipient must fail")
	}
	if _, err := WrapDirectMessage(alice, alice.Public(), "x", time.Now()); err == nil {
		t.Fatalf("self recipient must fail")
	}
}

func TestBuildLegacyMessage_RoundTrip(t *testing.T) {
	alice := newTestKeys(t)
	bob := newTestKeys(t)

	evt, err := BuildLegacyMessage(alice, bob.Public(), "old school", time.Now())
	if err != nil {
		t.Fatalf("BuildLegacyMessage: %v", err)
	}
	if evt.Kind != KindLegacyDM {
		t.Fatalf("kind: %d", evt.Kind)
	}
	if ok, err := evt.CheckSignature(); err != nil || !ok {
		t.Fatalf("signature invalid")
	}

	u := NewUnwrapper(nil, bob)
	m, err := u.Unwrap(&evt)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if m.Content != "old school" || m.Scheme != dm.SchemeLegacy {
		t.Fatalf("round trip: %+v", m)
	}
}

func TestParseTags(t *testing.T) {
	tags := nostr.Tags{
		{"p", "abc", "wss://relay.example"},
		{"e", "evt1", "", "reply"},
		{"r", "wss://hint.example"},
		{"subject", "greetings"},
		{},
	}

	parsed := ParseTags(tags)
	if len(parsed) != 4 {
		t.Fatalf("len: got %d want 4 (empty tag dropped)", len(parsed))
	}
	if parsed[0].Kind != dm.TagRecipient || parsed[0].Value != "abc" || parsed[0].Relay != "wss://relay.example" {
		t.Fatalf("recipient tag: %+v", parsed[0])
	}
	if parsed[1].Kind != dm.TagReplyRef || parsed[1].Value != "evt1" {
		t.Fatalf("reply tag: %+v", parsed[1])
	}
	if parsed[2].Kind != dm.TagRelayHint || parsed[2].Value != "wss://hint.example" {
		t.Fatalf("relay hint: %+v", parsed[2])
	}
	if parsed[3].Kind != dm.TagUnknown || len(parsed[3].Raw) != 2 {
		t.Fatalf("unknown tag must preserve raw shape: %+v", parsed[3])
	}
}

func TestReplyTo(t *testing.T) {
	cases := []struct {
		name string
		tags nostr.Tags
		want string
	}{
		{"none", nostr.Tags{{"p", "x"}}, ""},
		{"first e", nostr.Tags{{"e", "a"}, {"e", "b"}}, "a"},
		{"reply marker wins", nostr.Tags{{"e", "root", "", "root"}, {"e", "parent", "", "reply"}}, "parent"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := replyTo(tc.tags); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}
