package dmsync

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"murmur/internal/dm"
	"murmur/internal/envelope"
	"murmur/internal/identity"
)

func TestSend_SelfCopyScenario(t *testing.T) {
	f := newFixture(t, Options{})
	peer := testKeys(t)

	m, err := f.co.Send(context.Background(), peer.Public(), "hi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.Direction != dm.Outgoing || m.Content != "hi" || m.PeerKey != peer.Public() {
		t.Fatalf("returned message: %+v", m)
	}

	// Two distinct wraps reached the relays: one addressed to the recipient,
	// one to the sender.
	wraps, err := f.pool.Query(context.Background(), []string{"wss://relay.test"}, nostr.Filters{
		{Kinds: []int{envelope.KindGiftWrap}},
	}, time.Second)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(wraps) != 2 {
		t.Fatalf("published %d wraps, want 2", len(wraps))
	}
	dests := map[string]bool{}
	for _, w := range wraps {
		for _, tag := range w.Tags {
			if len(tag) >= 2 && tag[0] == "p" {
				dests[tag[1]] = true
			}
		}
		if w.PubKey == f.keys.Public() || w.PubKey == peer.Public() {
			t.Fatalf("wrap signed by a durable identity, want ephemeral author")
		}
	}
	if !dests[peer.Public()] || !dests[f.keys.Public()] {
		t.Fatalf("wrap destinations: %v", dests)
	}

	msgs := f.store.GetMessages(peer.Public())
	if len(msgs) != 1 || msgs[0].Direction != dm.Outgoing || msgs[0].Content != "hi" {
		t.Fatalf("local self-copy processing: %v", msgs)
	}
	if chat, _ := f.store.GetChat(peer.Public()); chat.UnreadCount != 0 {
		t.Fatalf("own message counted unread")
	}
}

func TestSend_ReadOnlyIdentity(t *testing.T) {
	pub, err := identity.FromPublic(testKeys(t).Public())
	if err != nil {
		t.Fatalf("FromPublic: %v", err)
	}

	f := newFixture(t, Options{})
	f.co.keys = pub

	if _, err := f.co.Send(context.Background(), testKeys(t).Public(), "hi"); err != identity.ErrReadOnly {
		t.Fatalf("read-only send: got %v, want ErrReadOnly", err)
	}
}

func TestSendLegacy_RoundTrip(t *testing.T) {
	f := newFixture(t, Options{})
	peer := testKeys(t)

	m, err := f.co.SendLegacy(context.Background(), peer.Public(), "plain old dm")
	if err != nil {
		t.Fatalf("SendLegacy: %v", err)
	}
	if m.Direction != dm.Outgoing || m.Scheme != dm.SchemeLegacy {
		t.Fatalf("legacy message: %+v", m)
	}

	published, err := f.pool.Query(context.Background(), []string{"wss://relay.test"}, nostr.Filters{
		{Kinds: []int{envelope.KindLegacyDM}},
	}, time.Second)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(published) != 1 {
		t.Fatalf("published %d legacy events, want 1", len(published))
	}
	if published[0].Content == "plain old dm" {
		t.Fatalf("legacy content published unencrypted")
	}

	// The peer can decrypt what was published.
	peerUnwrap := envelope.NewUnwrapper(testLogger(), peer)
	got, err := peerUnwrap.Unwrap(&published[0])
	if err != nil {
		t.Fatalf("peer unwrap: %v", err)
	}
	if got.Content != "plain old dm" || got.Direction != dm.Incoming {
		t.Fatalf("peer view: %+v", got)
	}
}
