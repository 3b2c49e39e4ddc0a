package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// MemoryPool is a deterministic in-process relay union used by tests. Stored
// events are seeded up front; Push delivers live events to open
// subscriptions, mimicking relay fan-out.
type MemoryPool struct {
	mu     sync.Mutex
	events []nostr.Event
	subs   map[*memSub]struct{}
	closed bool

	// QueryCalls records every Query invocation for test introspection.
	QueryCalls []QueryCall

	// PerQueryLimit, when > 0, caps how many events a single filter returns
	// regardless of the filter's own limit - mimicking relays that enforce a
	// smaller page size than requested.
	PerQueryLimit int
}

// QueryCall is one recorded Query invocation.
type QueryCall struct {
	URLs    []string
	Filters nostr.Filters
}

type memSub struct {
	pool      *MemoryPool
	filters   nostr.Filters
	onEvent   func(nostr.Event)
	closeOnce sync.Once
}

func (s *memSub) Close() {
	s.closeOnce.Do(func() {
		s.pool.mu.Lock()
		delete(s.pool.subs, s)
		s.pool.mu.Unlock()
	})
}

// NewMemoryPool constructs an empty in-memory pool.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{subs: make(map[*memSub]struct{})}
}

// Seed adds stored events served by subsequent queries and subscriptions.
func (p *MemoryPool) Seed(evts ...nostr.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
}

// Push stores an event and delivers it to every open matching subscription,
// as a live relay would.
func (p *MemoryPool) Push(evt nostr.Event) {
	p.mu.Lock()
	p.events = append(p.events, evt)
	var targets []*memSub
	for s := range p.subs {
		for i := range s.filters {
			if s.filters[i].Matches(&evt) {
				targets = append(targets, s)
				break
			}
		}
	}
	p.mu.Unlock()

	for _, s := range targets {
		if s.onEvent != nil {
			s.onEvent(evt)
		}
	}
}

// match returns stored events for the filters: per filter, newest first,
// bounded by the filter limit (and PerQueryLimit), then merged and
// deduplicated by id.
func (p *MemoryPool) match(filters nostr.Filters) []nostr.Event {
	p.mu.Lock()
	stored := append([]nostr.Event(nil), p.events...)
	cap := p.PerQueryLimit
	p.mu.Unlock()

	seen := make(map[string]struct{})
	var out []nostr.Event
	for i := range filters {
		f := filters[i]

		var hits []nostr.Event
		for j := range stored {
			if f.Matches(&stored[j]) {
				hits = append(hits, stored[j])
			}
		}
		sort.Slice(hits, func(a, b int) bool { return hits[a].CreatedAt > hits[b].CreatedAt })

		limit := f.Limit
		if cap > 0 && (limit <= 0 || cap < limit) {
			limit = cap
		}
		if limit > 0 && len(hits) > limit {
			hits = hits[:limit]
		}

		for _, h := range hits {
			if _, dup := seen[h.ID]; dup {
				continue
			}
			seen[h.ID] = struct{}{}
			out = append(out, h)
		}
	}
	return out
}

func (p *MemoryPool) Query(_ context.Context, urls []string, filters nostr.Filters, _ time.Duration) ([]nostr.Event, error) {
	p.mu.Lock()
	p.QueryCalls = append(p.QueryCalls, QueryCall{
		URLs:    append([]string(nil), urls...),
		Filters: filters,
	})
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}
	if len(urls) == 0 {
		return nil, ErrNoRelays
	}
	return p.match(filters), nil
}

func (p *MemoryPool) Subscribe(_ context.Context, urls []string, filters nostr.Filters, onEvent func(nostr.Event), onEOSE func()) (Subscription, error) {
	if len(urls) == 0 {
		return nil, ErrNoRelays
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	s := &memSub{pool: p, filters: filters, onEvent: onEvent}
	p.subs[s] = struct{}{}
	p.mu.Unlock()

	// Stored events first, then EOSE, then live pushes - the relay contract.
	for _, evt := range p.match(filters) {
		if onEvent != nil {
			onEvent(evt)
		}
	}
	if onEOSE != nil {
		onEOSE()
	}
	return s, nil
}

func (p *MemoryPool) Publish(_ context.Context, urls []string, evt nostr.Event) error {
	if len(urls) == 0 {
		return ErrNoRelays
	}
	p.Push(evt)
	return nil
}

func (p *MemoryPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.subs = make(map[*memSub]struct{})
	p.mu.Unlock()
}

// OpenSubs reports how many subscriptions are currently open.
func (p *MemoryPool) OpenSubs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
