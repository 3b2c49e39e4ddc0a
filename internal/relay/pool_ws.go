package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Options tunes the WebSocket pool. Zero values get safe defaults.
type Options struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration

	// Inbound per-connection flood guard.
	RateEvents int
	RateWindow time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.DialTimeout <= 0 {
		out.DialTimeout = 10 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 5 * time.Second
	}
	if out.PingInterval <= 0 {
		out.PingInterval = 25 * time.Second
	}
	if out.RateEvents <= 0 {
		out.RateEvents = defaultInboundEvents
	}
	if out.RateWindow <= 0 {
		out.RateWindow = defaultInboundWindow
	}
	return out
}

// WSPool is the production Pool: one lazily dialed connection per relay URL,
// redialed on demand when a connection dies.
type WSPool struct {
	log  *slog.Logger
	opts Options

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
}

// NewWSPool constructs a WebSocket-backed pool.
func NewWSPool(log *slog.Logger, opts Options) *WSPool {
	if log == nil {
		log = slog.Default()
	}
	return &WSPool{
		log:   log,
		opts:  opts.withDefaults(),
		conns: make(map[string]*conn),
	}
}

// get returns a live connection for a URL, dialing or redialing as needed.
func (p *WSPool) get(ctx context.Context, url string) (*conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if c, ok := p.conns[url]; ok && c.alive() {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := dialConn(ctx, p.log, url, connOptions{
		dialTimeout:  p.opts.DialTimeout,
		writeTimeout: p.opts.WriteTimeout,
		pingInterval: p.opts.PingInterval,
		rateEvents:   p.opts.RateEvents,
		rateWindow:   p.opts.RateWindow,
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		c.close()
		return nil, ErrPoolClosed
	}
	if prev, ok := p.conns[url]; ok && prev.alive() {
		// Lost a dial race; keep the established one.
		p.mu.Unlock()
		c.close()
		return prev, nil
	}
	p.conns[url] = c
	p.mu.Unlock()
	return c, nil
}

// Query fans the filters out and collects stored events until every reachable
// relay reports EOSE or the timeout fires. It fails only when no relay in the
// union could be queried at all.
func (p *WSPool) Query(ctx context.Context, urls []string, filters nostr.Filters, timeout time.Duration) ([]nostr.Event, error) {
	urls = NormalizeURLs(urls)
	if len(urls) == 0 {
		return nil, ErrNoRelays
	}

	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		seen    = make(map[string]struct{})
		out     []nostr.Event
		reached int
	)

	var wg sync.WaitGroup
	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()

			c, err := p.get(queryCtx, url)
			if err != nil {
				p.log.Info("relay.query.skip", "url", url, "err", err)
				return
			}

			id := NewSubID(time.Now())
			eose := make(chan struct{})
			h := &subHandler{
				onEvent: func(evt nostr.Event) {
					mu.Lock()
					if _, dup := seen[evt.ID]; !dup {
						seen[evt.ID] = struct{}{}
						out = append(out, evt)
					}
					mu.Unlock()
				},
				onEOSE: func() { close(eose) },
			}
			if err := c.subscribe(queryCtx, id, filters, h); err != nil {
				p.log.Info("relay.query.skip", "url", url, "err", err)
				return
			}
			defer c.unsubscribe(id)
			mu.Lock()
			reached++
			mu.Unlock()

			select {
			case <-eose:
			case <-queryCtx.Done():
			}
		}(url)
	}
	wg.Wait()

	if reached == 0 {
		return nil, ErrNoRelays
	}
	return out, nil
}

// wsSubscription is the handle for one logical subscription fanned out over
// several connections.
type wsSubscription struct {
	closeOnce sync.Once
	closeFns  []func()
}

func (s *wsSubscription) Close() {
	s.closeOnce.Do(func() {
		for _, fn := range s.closeFns {
			fn()
		}
	})
}

// eoseBarrier fires its callback once, after a fixed number of relays have
// reported end-of-stored-events. The count is fixed before any REQ goes out,
// so a fast relay's EOSE cannot fire the callback while the rest of the union
// is still being subscribed.
type eoseBarrier struct {
	mu        sync.Mutex
	remaining int
	fire      func()
	once      sync.Once
}

func newEOSEBarrier(n int, fire func()) *eoseBarrier {
	return &eoseBarrier{remaining: n, fire: fire}
}

func (b *eoseBarrier) done() {
	b.mu.Lock()
	b.remaining--
	ready := b.remaining <= 0
	b.mu.Unlock()
	if ready && b.fire != nil {
		b.once.Do(b.fire)
	}
}

// Subscribe opens a standing subscription across the relay union. onEOSE
// fires once, after every successfully subscribed relay delivered its stored
// events. Dedup across relays is left to the caller, which typically holds a
// longer-lived seen set than one subscription.
func (p *WSPool) Subscribe(ctx context.Context, urls []string, filters nostr.Filters, onEvent func(nostr.Event), onEOSE func()) (Subscription, error) {
	urls = NormalizeURLs(urls)
	if len(urls) == 0 {
		return nil, ErrNoRelays
	}

	// Dial the whole union before sending any REQ so the barrier covers every
	// relay that will participate.
	type target struct {
		c  *conn
		id string
	}
	var targets []target
	for _, url := range urls {
		c, err := p.get(ctx, url)
		if err != nil {
			p.log.Info("relay.subscribe.skip", "url", url, "err", err)
			continue
		}
		targets = append(targets, target{c: c, id: NewSubID(time.Now())})
	}
	if len(targets) == 0 {
		return nil, ErrNoRelays
	}

	barrier := newEOSEBarrier(len(targets), onEOSE)
	sub := &wsSubscription{}
	subscribed := 0
	for _, tg := range targets {
		h := &subHandler{onEvent: onEvent, onEOSE: barrier.done}
		if err := tg.c.subscribe(ctx, tg.id, filters, h); err != nil {
			p.log.Info("relay.subscribe.skip", "url", tg.c.url, "err", err)
			barrier.done()
			continue
		}
		subscribed++

		conn, subID := tg.c, tg.id
		sub.closeFns = append(sub.closeFns, func() { conn.unsubscribe(subID) })
	}

	if subscribed == 0 {
		return nil, ErrNoRelays
	}
	return sub, nil
}

// Publish fans a signed event out and succeeds when at least one relay acks.
func (p *WSPool) Publish(ctx context.Context, urls []string, evt nostr.Event) error {
	urls = NormalizeURLs(urls)
	if len(urls) == 0 {
		return ErrNoRelays
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		acks int
	)
	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()

			c, err := p.get(ctx, url)
			if err != nil {
				p.log.Info("relay.publish.skip", "url", url, "err", err)
				return
			}
			if err := c.publish(ctx, evt); err != nil {
				p.log.Info("relay.publish.fail", "url", url, "event_id", evt.ID, "err", err)
				return
			}
			mu.Lock()
			acks++
			mu.Unlock()
		}(url)
	}
	wg.Wait()

	if acks == 0 {
		return ErrPublishFailed
	}
	return nil
}

// Close tears down every connection. Idempotent.
func (p *WSPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conns := p.conns
	p.conns = make(map[string]*conn)
	p.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}
