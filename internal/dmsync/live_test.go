package dmsync

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLive_DeliversAndDedups(t *testing.T) {
	f := newFixture(t, Options{})
	peer := testKeys(t)

	if err := f.co.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	defer f.co.Logout()

	evt := wrapFrom(t, peer, f.keys.Public(), "ping", testNow)
	f.pool.Push(evt)
	// Same event pushed by a second relay in the fan-out set.
	f.pool.Push(evt)

	msgs := f.store.GetMessages(peer.Public())
	if len(msgs) != 1 || msgs[0].Content != "ping" {
		t.Fatalf("live delivery: %v", msgs)
	}
	// The subscription's seen set drops the duplicate before unwrap.
	if n := testutil.ToFloat64(f.co.metrics.LiveEvents); n != 1 {
		t.Fatalf("live counter: got %v, want 1", n)
	}
}

func TestLive_AtMostOneSubscription(t *testing.T) {
	f := newFixture(t, Options{})

	if err := f.co.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	// A second login tears the first subscription down before opening.
	if err := f.co.Login(context.Background()); err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if f.pool.OpenSubs() != 1 {
		t.Fatalf("open subscriptions: got %d, want 1", f.pool.OpenSubs())
	}

	f.co.Logout()
	f.co.Logout() // idempotent
	if f.pool.OpenSubs() != 0 {
		t.Fatalf("subscription survived logout")
	}
}
