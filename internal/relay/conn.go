package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/nbd-wtf/go-nostr"
)

const (
	connMaxFrameBytes   = 1 << 20 // relays serve whole events; 1 MiB is generous
	connMaxPingFailures = 3
)

// subHandler receives routed frames for one subscription on one connection.
type subHandler struct {
	onEvent func(nostr.Event)
	onEOSE  func()

	eoseOnce sync.Once
}

func (h *subHandler) eose() {
	if h.onEOSE == nil {
		return
	}
	h.eoseOnce.Do(h.onEOSE)
}

type okResult struct {
	ok     bool
	reason string
}

// conn is one live relay connection. It owns a read loop and a heartbeat
// goroutine; writes are serialized by a mutex. All routing state is keyed by
// subscription id or event id.
type conn struct {
	log *slog.Logger
	url string
	ws  *websocket.Conn

	writeTimeout time.Duration
	limiter      *inboundLimiter

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]*subHandler
	oks  map[string]chan okResult

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

type connOptions struct {
	dialTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration
	rateEvents   int
	rateWindow   time.Duration
}

func dialConn(parent context.Context, log *slog.Logger, url string, opts connOptions) (*conn, error) {
	dialCtx, dialCancel := context.WithTimeout(parent, opts.dialTimeout)
	defer dialCancel()

	ws, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	ws.SetReadLimit(connMaxFrameBytes)

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		log:          log,
		url:          url,
		ws:           ws,
		writeTimeout: opts.writeTimeout,
		limiter:      newInboundLimiter(opts.rateEvents, opts.rateWindow),
		ctx:          ctx,
		cancel:       cancel,
		subs:         make(map[string]*subHandler),
		oks:          make(map[string]chan okResult),
		done:         make(chan struct{}),
	}

	go c.readLoop()
	go c.heartbeat(opts.pingInterval)

	return c, nil
}

// alive reports whether the connection is still usable.
func (c *conn) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// close tears the connection down. Idempotent; pending subscriptions get an
// EOSE so waiters unblock.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		_ = c.ws.Close(websocket.StatusNormalClosure, "bye")

		c.mu.Lock()
		subs := c.subs
		c.subs = make(map[string]*subHandler)
		c.mu.Unlock()
		for _, h := range subs {
			h.eose()
		}
	})
}

func (c *conn) readLoop() {
	defer c.close()

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 ||
				errors.Is(err, context.Canceled) {
				return
			}
			c.log.Info("relay.read.fail", "url", c.url, "err", err)
			return
		}

		env := nostr.ParseMessage(string(data))
		if env == nil {
			c.log.Debug("relay.frame.unparsed", "url", c.url)
			continue
		}

		switch e := env.(type) {
		case *nostr.EventEnvelope:
			if !c.limiter.Allow(time.Now()) {
				c.log.Warn("relay.flood.drop", "url", c.url)
				continue
			}
			if e.SubscriptionID == nil {
				continue
			}
			c.mu.Lock()
			h := c.subs[*e.SubscriptionID]
			c.mu.Unlock()
			if h != nil && h.onEvent != nil {
				h.onEvent(e.Event)
			}

		case *nostr.EOSEEnvelope:
			c.mu.Lock()
			h := c.subs[string(*e)]
			c.mu.Unlock()
			if h != nil {
				h.eose()
			}

		case *nostr.ClosedEnvelope:
			c.mu.Lock()
			h := c.subs[string(e.SubscriptionID)]
			delete(c.subs, string(e.SubscriptionID))
			c.mu.Unlock()
			if h != nil {
				h.eose()
			}
			c.log.Info("relay.sub.closed", "url", c.url, "reason", e.Reason)

		case *nostr.OKEnvelope:
			c.mu.Lock()
			ch := c.oks[e.EventID]
			delete(c.oks, e.EventID)
			c.mu.Unlock()
			if ch != nil {
				ch <- okResult{ok: e.OK, reason: e.Reason}
			}

		case *nostr.NoticeEnvelope:
			c.log.Info("relay.notice", "url", c.url, "notice", string(*e))
		}
	}
}

func (c *conn) heartbeat(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
			err := c.ws.Ping(pingCtx)
			cancel()

			if err != nil {
				failures++
				c.log.Info("relay.ping.fail", "url", c.url, "failures", failures, "err", err)
				if failures >= connMaxPingFailures {
					c.close()
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (c *conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(writeCtx, websocket.MessageText, data)
}

// subscribe registers a handler and sends the REQ frame.
func (c *conn) subscribe(ctx context.Context, id string, filters nostr.Filters, h *subHandler) error {
	c.mu.Lock()
	c.subs[id] = h
	c.mu.Unlock()

	req := nostr.ReqEnvelope{SubscriptionID: id, Filters: filters}
	if err := c.writeJSON(ctx, &req); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return fmt.Errorf("send req: %w", err)
	}
	return nil
}

// unsubscribe sends CLOSE and drops the handler. Best effort.
func (c *conn) unsubscribe(id string) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()

	if !c.alive() {
		return
	}
	ce := nostr.CloseEnvelope(id)
	_ = c.writeJSON(c.ctx, &ce)
}

// publish sends an event and waits for the relay's OK, bounded by ctx.
func (c *conn) publish(ctx context.Context, evt nostr.Event) error {
	ch := make(chan okResult, 1)
	c.mu.Lock()
	c.oks[evt.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.oks, evt.ID)
		c.mu.Unlock()
	}()

	env := nostr.EventEnvelope{Event: evt}
	if err := c.writeJSON(ctx, &env); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed before ack")
	case res := <-ch:
		if !res.ok {
			return fmt.Errorf("relay rejected event: %s", res.reason)
		}
		return nil
	}
}
