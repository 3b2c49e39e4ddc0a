package dmsync

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"murmur/internal/relay"
)

// liveSub is one standing subscription. It carries its own seen set on top of
// the store's dedup, because a live event is pushed once per relay that holds
// it and unwrapping gift wraps is not free.
type liveSub struct {
	sub relay.Subscription

	mu   sync.Mutex
	seen map[string]struct{}
}

func (l *liveSub) markSeen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.seen[id]; dup {
		return false
	}
	l.seen[id] = struct{}{}
	return true
}

// Login opens the live subscription for the local identity: events addressed
// to it plus legacy events authored by it, lower-bounded by the backfill
// buffer to catch anything missed while logged out. Any previous subscription
// is torn down first; at most one is active.
func (c *Coordinator) Login(ctx context.Context) error {
	c.Logout()

	since := c.opts.Now().Add(-c.opts.BackfillBuffer).Unix()
	filters := nostr.Filters{
		c.incomingFilter(since, 0, 0),
		c.outgoingFilter(since, 0, 0),
	}

	l := &liveSub{seen: make(map[string]struct{})}
	onEvent := func(evt nostr.Event) {
		if !l.markSeen(evt.ID) {
			return
		}
		c.metrics.LiveEvents.Inc()
		c.handleEvent(context.Background(), evt)
	}
	onEOSE := func() {
		c.log.Debug("sync.live.eose")
	}

	urls := c.resolver.SyncRelays(ctx)
	sub, err := c.pool.Subscribe(ctx, urls, filters, onEvent, onEOSE)
	if err != nil {
		return err
	}
	l.sub = sub

	c.mu.Lock()
	c.live = l
	c.mu.Unlock()

	c.log.Info("sync.live.open", "relays", len(urls))
	return nil
}

// Logout closes the live subscription. Idempotent; safe with no subscription
// open.
func (c *Coordinator) Logout() {
	c.mu.Lock()
	l := c.live
	c.live = nil
	c.mu.Unlock()

	if l == nil || l.sub == nil {
		return
	}
	l.sub.Close()
	c.log.Info("sync.live.close")
}
