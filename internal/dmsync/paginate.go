package dmsync

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
	"github.com/prometheus/client_golang/prometheus"

	"murmur/internal/dm"
)

// HasMore reports whether backward pagination may still find older messages.
func (c *Coordinator) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// PaginateOlder loads one page of history at or below the current
// oldest-known timestamp, one bounded query per direction. The upper bound is
// inclusive: messages sharing the watermark's exact second would be skipped
// by an exclusive bound, so the boundary is refetched and store dedup absorbs
// the repeats. A page that comes back full of already-known events moves the
// watermark below the boundary instead, keeping every page a step forward.
//
// It returns whether more pages may exist: false once both directions came
// back short of the page size. A relay enforcing a smaller per-query cap than
// the page size can end pagination early; that trade-off is accepted.
//
// Concurrent pagination is guarded by generation tokens rather than the busy
// flag: each call starts a new generation, and a page whose query was still
// in flight when a newer generation began is discarded when it lands.
func (c *Coordinator) PaginateOlder(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if !c.hasMore {
		c.mu.Unlock()
		return false, nil
	}
	c.generation++
	gen := c.generation
	c.state = StatePaginating
	oldest := c.oldest
	c.mu.Unlock()

	timer := prometheus.NewTimer(c.metrics.SyncDuration.WithLabelValues("paginate"))
	defer timer.ObserveDuration()

	until := oldest
	if oldest <= 0 {
		until = c.opts.Now().Unix()
	}
	limit := c.opts.PageSize
	urls := c.resolver.SyncRelays(ctx)

	incoming, err := c.pool.Query(ctx, urls, nostr.Filters{c.incomingFilter(0, until, limit)}, c.opts.QueryTimeout)
	if err != nil {
		return c.pageFailed(gen, err)
	}
	outgoing, err := c.pool.Query(ctx, urls, nostr.Filters{c.outgoingFilter(0, until, limit)}, c.opts.QueryTimeout)
	if err != nil {
		return c.pageFailed(gen, err)
	}

	c.mu.Lock()
	if c.generation != gen {
		stale := c.hasMore
		c.mu.Unlock()
		c.log.Debug("sync.page.stale", "generation", gen)
		return stale, nil
	}
	c.mu.Unlock()

	before := messageTotal(c.store.Snapshot())
	c.processBatch(ctx, incoming)
	c.processBatch(ctx, outgoing)

	full := len(incoming) >= limit || len(outgoing) >= limit
	snap := c.store.Snapshot()
	added := messageTotal(snap) - before
	snapOldest := snap.OldestTimestamp()

	c.mu.Lock()
	if c.generation == gen {
		c.hasMore = full
		switch {
		case snapOldest > 0 && (c.oldest <= 0 || snapOldest < c.oldest):
			c.oldest = snapOldest
		case full && added == 0:
			// The whole page at the boundary second was already known; step
			// below it so the next page makes progress.
			c.oldest = until - 1
		}
		c.state = StateReady
	}
	out := c.hasMore
	c.mu.Unlock()

	c.log.Info("sync.page.done", "until", until, "incoming", len(incoming), "outgoing", len(outgoing), "added", added, "has_more", out)
	return out, nil
}

// pageFailed reports a pagination query failure without consuming the page:
// hasMore is left as it was so the caller can retry.
func (c *Coordinator) pageFailed(gen uint64, err error) (bool, error) {
	c.mu.Lock()
	if c.generation == gen {
		c.state = StateReady
	}
	more := c.hasMore
	c.mu.Unlock()
	return more, err
}

func messageTotal(s *dm.Snapshot) int {
	n := 0
	for _, ch := range s.Chats() {
		n += ch.Len()
	}
	return n
}
