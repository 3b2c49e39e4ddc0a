package dmsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"murmur/internal/archive"
	"murmur/internal/dm"
	"murmur/internal/envelope"
	"murmur/internal/identity"
	"murmur/internal/relay"
)

var testNow = time.Unix(1_700_000_000, 0)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testKeys(t *testing.T) *identity.Keys {
	t.Helper()
	k, err := identity.FromSecret(nostr.GeneratePrivateKey())
	if err != nil {
		t.Fatalf("FromSecret: %v", err)
	}
	return k
}

type fixture struct {
	pool  *relay.MemoryPool
	arch  *archive.Memory
	store *dm.Store
	keys  *identity.Keys
	co    *Coordinator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	pool := relay.NewMemoryPool()
	arch := archive.NewMemory()
	keys := testKeys(t)
	store := dm.NewStore(testLogger(), keys.Public(), archive.ForAccount(arch, keys.Public()))

	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	if len(opts.DiscoveryRelays) == 0 {
		opts.DiscoveryRelays = []string{"wss://relay.test"}
	}

	co := New(testLogger(), pool, store, arch, keys, nil, opts)
	return &fixture{pool: pool, arch: arch, store: store, keys: keys, co: co}
}

// wrapFrom builds the recipient copy of a gift-wrapped message sent by peer
// to the fixture identity.
func wrapFrom(t *testing.T, peer *identity.Keys, to string, plaintext string, at time.Time) nostr.Event {
	t.Helper()
	w, err := envelope.WrapDirectMessage(peer, to, plaintext, at)
	if err != nil {
		t.Fatalf("WrapDirectMessage: %v", err)
	}
	return w.ToRecipient
}

func legacyFrom(t *testing.T, peer *identity.Keys, to string, plaintext string, at time.Time) nostr.Event {
	t.Helper()
	evt, err := envelope.BuildLegacyMessage(peer, to, plaintext, at)
	if err != nil {
		t.Fatalf("BuildLegacyMessage: %v", err)
	}
	return evt
}

func TestFullLoad_EndToEnd(t *testing.T) {
	f := newFixture(t, Options{})
	peer := testKeys(t)
	f.pool.Seed(wrapFrom(t, peer, f.keys.Public(), "hello", testNow))

	if f.co.Ready() {
		t.Fatalf("ready before any load")
	}
	if err := f.co.FullLoad(context.Background()); err != nil {
		t.Fatalf("FullLoad: %v", err)
	}
	if !f.co.Ready() {
		t.Fatalf("not ready after full load")
	}

	msgs := f.store.GetMessages(peer.Public())
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Content != "hello" || m.Direction != dm.Incoming || m.Scheme != dm.SchemeModern {
		t.Fatalf("unexpected message: %+v", m)
	}
	chat, ok := f.store.GetChat(peer.Public())
	if !ok || chat.UnreadCount != 1 {
		t.Fatalf("unread count: got %v, want 1", chat)
	}

	cp, err := f.arch.Checkpoint(context.Background(), f.keys.Public())
	if err != nil || cp != testNow.Unix() {
		t.Fatalf("checkpoint: got %d err %v, want %d", cp, err, testNow.Unix())
	}
}

func TestFullLoad_ReplaysArchive(t *testing.T) {
	f := newFixture(t, Options{})
	peer := testKeys(t)

	saved := dm.Message{
		ID: "archived", PeerKey: peer.Public(), Timestamp: 500,
		Content: "old", Direction: dm.Incoming, Scheme: dm.SchemeLegacy, Read: true,
	}
	if err := f.arch.SaveMessage(context.Background(), f.keys.Public(), peer.Public(), saved); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	if err := f.co.FullLoad(context.Background()); err != nil {
		t.Fatalf("FullLoad: %v", err)
	}
	msgs := f.store.GetMessages(peer.Public())
	if len(msgs) != 1 || msgs[0].ID != "archived" {
		t.Fatalf("archive replay missing: %v", msgs)
	}
}

func TestRefresh_BackfillBufferSufficiency(t *testing.T) {
	// A wrap timestamp is randomized up to two days into the past. A refresh
	// window narrower than that skew misses the event; the three-day buffer
	// recovers it.
	build := func(t *testing.T, f *fixture) {
		peer := testKeys(t)
		evt := wrapFrom(t, peer, f.keys.Public(), "late", testNow)
		evt.CreatedAt = nostr.Timestamp(testNow.Add(-47 * time.Hour).Unix())
		f.pool.Seed(evt)
		if err := f.arch.SetCheckpoint(context.Background(), f.keys.Public(), testNow.Unix()); err != nil {
			t.Fatalf("SetCheckpoint: %v", err)
		}
	}

	t.Run("buffer exceeding skew rediscovers", func(t *testing.T) {
		f := newFixture(t, Options{BackfillBuffer: 72 * time.Hour})
		build(t, f)
		if err := f.co.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
		if got := f.store.Snapshot().Len(); got != 1 {
			t.Fatalf("message not recovered, %d chats", got)
		}
	})

	t.Run("buffer below skew misses", func(t *testing.T) {
		f := newFixture(t, Options{BackfillBuffer: 24 * time.Hour})
		build(t, f)
		if err := f.co.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
		if got := f.store.Snapshot().Len(); got != 0 {
			t.Fatalf("narrow buffer unexpectedly found the event, %d chats", got)
		}
	})
}

func TestFullLoad_FailsWhenNoRelayAnswers(t *testing.T) {
	f := newFixture(t, Options{})
	f.pool.Close()

	err := f.co.FullLoad(context.Background())
	if !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("FullLoad with unreachable relays: got %v, want ErrLoadFailed", err)
	}
	if f.co.Ready() {
		t.Fatalf("ready after failed load")
	}
	if got := f.co.State(); got != StateIdle {
		t.Fatalf("state after failed load: %v", got)
	}

	// The checkpoint must not advance when nothing was loaded.
	cp, err := f.arch.Checkpoint(context.Background(), f.keys.Public())
	if err != nil || cp != 0 {
		t.Fatalf("checkpoint after failed load: got %d err %v", cp, err)
	}
}

// flakyPool fails the first sync query (the two-filter full-load shape) and
// delegates everything else, modelling relays that come up late.
type flakyPool struct {
	*relay.MemoryPool

	mu     sync.Mutex
	failed bool
}

func (p *flakyPool) Query(ctx context.Context, urls []string, filters nostr.Filters, timeout time.Duration) ([]nostr.Event, error) {
	p.mu.Lock()
	fail := !p.failed && len(filters) == 2
	if fail {
		p.failed = true
	}
	p.mu.Unlock()
	if fail {
		return nil, relay.ErrNoRelays
	}
	return p.MemoryPool.Query(ctx, urls, filters, timeout)
}

func TestStart_RetriesAfterQueryFailure(t *testing.T) {
	inner := relay.NewMemoryPool()
	pool := &flakyPool{MemoryPool: inner}
	arch := archive.NewMemory()
	keys := testKeys(t)
	store := dm.NewStore(testLogger(), keys.Public(), archive.ForAccount(arch, keys.Public()))
	co := New(testLogger(), pool, store, arch, keys, nil, Options{
		DiscoveryRelays: []string{"wss://relay.test"},
		StartupDelay:    time.Millisecond,
		Now:             func() time.Time { return testNow },
	})

	peer := testKeys(t)
	inner.Seed(wrapFrom(t, peer, keys.Public(), "hello", testNow))

	if err := co.Start(context.Background()); err != nil {
		t.Fatalf("Start after transient failure: %v", err)
	}
	defer co.Logout()

	if !co.Ready() {
		t.Fatalf("not ready after retried start")
	}
	if got := len(store.GetMessages(peer.Public())); got != 1 {
		t.Fatalf("got %d messages after retried load, want 1", got)
	}
}

func TestSync_BusyFlag(t *testing.T) {
	f := newFixture(t, Options{})

	f.co.mu.Lock()
	f.co.busy = true
	f.co.mu.Unlock()

	if err := f.co.FullLoad(context.Background()); err != ErrBusy {
		t.Fatalf("FullLoad during sync: got %v, want ErrBusy", err)
	}
	if err := f.co.Refresh(context.Background()); err != ErrBusy {
		t.Fatalf("Refresh during sync: got %v, want ErrBusy", err)
	}
}

func TestStart_LoadsAndOpensLive(t *testing.T) {
	f := newFixture(t, Options{})
	peer := testKeys(t)
	f.pool.Seed(wrapFrom(t, peer, f.keys.Public(), "hello", testNow))

	if err := f.co.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.co.Logout()

	if !f.co.Ready() {
		t.Fatalf("not ready after start")
	}
	if f.pool.OpenSubs() != 1 {
		t.Fatalf("live subscription not open: %d subs", f.pool.OpenSubs())
	}
}
