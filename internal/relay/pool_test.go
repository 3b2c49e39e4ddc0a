package relay

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

func TestNormalizeURLs(t *testing.T) {
	got := NormalizeURLs([]string{
		"wss://relay.example",
		"wss://relay.example/",
		"relay.example",
		"wss://other.example",
		"",
	})
	if len(got) != 2 {
		t.Fatalf("dedup by canonical url: got %v", got)
	}
	if got[0] != "wss://relay.example" || got[1] != "wss://other.example" {
		t.Fatalf("order of first appearance lost: %v", got)
	}
}

func TestInboundLimiter(t *testing.T) {
	l := newInboundLimiter(3, time.Second)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !l.Allow(now) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if l.Allow(now) {
		t.Fatalf("fourth event inside the window must be rejected")
	}
	if !l.Allow(now.Add(2 * time.Second)) {
		t.Fatalf("event after the window must be allowed again")
	}
}

func TestMemoryPool_QueryFilters(t *testing.T) {
	p := NewMemoryPool()
	p.Seed(
		nostr.Event{ID: "a", Kind: 4, CreatedAt: 100, PubKey: "alice"},
		nostr.Event{ID: "b", Kind: 1059, CreatedAt: 200, PubKey: "eph"},
		nostr.Event{ID: "c", Kind: 1, CreatedAt: 300, PubKey: "alice"},
	)

	got, err := p.Query(context.Background(), []string{"wss://x"}, nostr.Filters{
		{Kinds: []int{4, 1059}},
	}, time.Second)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("kind filter: got %d events", len(got))
	}

	if len(p.QueryCalls) != 1 {
		t.Fatalf("query call not recorded")
	}
}

func TestMemoryPool_QueryLimitNewestFirst(t *testing.T) {
	p := NewMemoryPool()
	for i := 0; i < 5; i++ {
		p.Seed(nostr.Event{ID: string(rune('a' + i)), Kind: 4, CreatedAt: nostr.Timestamp(100 + i)})
	}

	got, err := p.Query(context.Background(), []string{"wss://x"}, nostr.Filters{
		{Kinds: []int{4}, Limit: 2},
	}, time.Second)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit: got %d", len(got))
	}
	if got[0].CreatedAt != 104 || got[1].CreatedAt != 103 {
		t.Fatalf("newest first expected: %v %v", got[0].CreatedAt, got[1].CreatedAt)
	}
}

func TestMemoryPool_SubscribeStoredThenLive(t *testing.T) {
	p := NewMemoryPool()
	p.Seed(nostr.Event{ID: "stored", Kind: 1059, CreatedAt: 100})

	var events []string
	eose := false
	sub, err := p.Subscribe(context.Background(), []string{"wss://x"}, nostr.Filters{{Kinds: []int{1059}}},
		func(evt nostr.Event) { events = append(events, evt.ID) },
		func() { eose = true },
	)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if len(events) != 1 || events[0] != "stored" || !eose {
		t.Fatalf("stored delivery before EOSE: events=%v eose=%v", events, eose)
	}

	p.Push(nostr.Event{ID: "live", Kind: 1059, CreatedAt: 200})
	if len(events) != 2 || events[1] != "live" {
		t.Fatalf("live delivery: %v", events)
	}

	// Non-matching pushes are not delivered.
	p.Push(nostr.Event{ID: "note", Kind: 1, CreatedAt: 300})
	if len(events) != 2 {
		t.Fatalf("kind-1 event must not reach a kind-1059 subscription")
	}

	sub.Close()
	sub.Close() // idempotent
	if p.OpenSubs() != 0 {
		t.Fatalf("subscription not removed")
	}
}

func TestMemoryPool_PerQueryLimit(t *testing.T) {
	p := NewMemoryPool()
	p.PerQueryLimit = 2
	for i := 0; i < 5; i++ {
		p.Seed(nostr.Event{ID: string(rune('a' + i)), Kind: 4, CreatedAt: nostr.Timestamp(100 + i)})
	}

	got, err := p.Query(context.Background(), []string{"wss://x"}, nostr.Filters{
		{Kinds: []int{4}, Limit: 4},
	}, time.Second)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("relay-enforced cap: got %d want 2", len(got))
	}
}

func TestMemoryPool_QueryClosed(t *testing.T) {
	p := NewMemoryPool()
	p.Close()

	if _, err := p.Query(context.Background(), []string{"wss://x"}, nostr.Filters{{Kinds: []int{4}}}, time.Second); err != ErrPoolClosed {
		t.Fatalf("closed pool query: got %v, want ErrPoolClosed", err)
	}
}

func TestEOSEBarrier_FiresAfterWholeUnion(t *testing.T) {
	fired := 0
	b := newEOSEBarrier(3, func() { fired++ })

	// An EOSE from a fast relay before the rest of the union has reported
	// must not fire the aggregate callback.
	b.done()
	b.done()
	if fired != 0 {
		t.Fatalf("fired after 2 of 3 relays")
	}

	b.done()
	if fired != 1 {
		t.Fatalf("fire count = %d, want 1", fired)
	}

	// Late duplicate EOSEs never refire.
	b.done()
	if fired != 1 {
		t.Fatalf("fire count after late EOSE = %d, want 1", fired)
	}
}

func TestEOSEBarrier_NilCallback(t *testing.T) {
	b := newEOSEBarrier(1, nil)
	b.done() // must not panic
}

func TestNewSubID(t *testing.T) {
	a := NewSubID(time.Now())
	b := NewSubID(time.Now())
	if a == "" || a == b {
		t.Fatalf("sub ids must be unique and non-empty: %q %q", a, b)
	}
}
