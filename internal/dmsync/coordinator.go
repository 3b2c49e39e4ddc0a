package dmsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/prometheus/client_golang/prometheus"

	"murmur/internal/archive"
	"murmur/internal/dm"
	"murmur/internal/envelope"
	"murmur/internal/identity"
	"murmur/internal/relay"
)

// State is the coordinator's sync phase.
type State int32

const (
	StateIdle State = iota
	StateFullLoad
	StateRefreshing
	StatePaginating
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFullLoad:
		return "full_load"
	case StateRefreshing:
		return "refreshing"
	case StatePaginating:
		return "paginating"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

const (
	defaultQueryTimeout   = 30 * time.Second
	defaultPageSize       = 100
	defaultStartupRetries = 3
	defaultStartupDelay   = 2 * time.Second

	// defaultBackfillBuffer must exceed the maximum randomized-timestamp skew
	// senders apply to wrapped envelopes, or incremental refresh silently
	// drops messages whose wrap timestamp predates the checkpoint.
	defaultBackfillBuffer = 3 * 24 * time.Hour

	maxConcurrentUnwraps = 8
)

// Options tunes the coordinator. Zero values get safe defaults.
type Options struct {
	QueryTimeout   time.Duration
	PageSize       int
	BackfillBuffer time.Duration
	StartupRetries int
	StartupDelay   time.Duration

	// AccountRelays is the account's configured relay set; DiscoveryRelays is
	// the fallback union used when nothing better is published.
	AccountRelays   []string
	DiscoveryRelays []string

	// Now is the clock; nil means time.Now. Injected by tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	out := o
	if out.QueryTimeout <= 0 {
		out.QueryTimeout = defaultQueryTimeout
	}
	if out.PageSize <= 0 {
		out.PageSize = defaultPageSize
	}
	if out.BackfillBuffer <= 0 {
		out.BackfillBuffer = defaultBackfillBuffer
	}
	if out.StartupRetries <= 0 {
		out.StartupRetries = defaultStartupRetries
	}
	if out.StartupDelay <= 0 {
		out.StartupDelay = defaultStartupDelay
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// Coordinator drives the sync state machine for one logged-in identity.
//
// States move Idle -> FullLoad -> Ready, then Ready -> Refreshing -> Ready
// and Ready -> Paginating -> Ready. The live subscription is orthogonal:
// opened on login, closed on logout, at most one at a time.
type Coordinator struct {
	log      *slog.Logger
	pool     relay.Pool
	store    *dm.Store
	archive  archive.Archive
	keys     *identity.Keys
	unwrap   *envelope.Unwrapper
	resolver *Resolver
	metrics  *Metrics
	opts     Options

	mu    sync.Mutex
	state State
	busy  bool
	ready bool

	// generation invalidates in-flight pagination pages: a page that lands
	// after a newer generation started is discarded, not applied.
	generation uint64

	// oldest is the backward-pagination watermark; hasMore flips false once
	// both direction queries return short pages.
	oldest  int64
	hasMore bool

	live *liveSub
}

// New wires a coordinator. metrics may be nil for callers that do not scrape.
func New(log *slog.Logger, pool relay.Pool, store *dm.Store, arch archive.Archive, keys *identity.Keys, metrics *Metrics, opts Options) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	o := opts.withDefaults()
	return &Coordinator{
		log:      log,
		pool:     pool,
		store:    store,
		archive:  arch,
		keys:     keys,
		unwrap:   envelope.NewUnwrapper(log, keys),
		resolver: NewResolver(log, pool, arch, keys.Public(), o.AccountRelays, o.DiscoveryRelays, o.QueryTimeout),
		metrics:  metrics,
		opts:     o,
		hasMore:  true,
	}
}

// State returns the current sync phase.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether the first full load has completed.
func (c *Coordinator) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Store exposes the chat store for read access by consumers.
func (c *Coordinator) Store() *dm.Store { return c.store }

// begin claims the busy flag and enters a state. A new generation starts so
// stale pagination pages from before the transition are discarded.
func (c *Coordinator) begin(s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return false
	}
	c.busy = true
	c.state = s
	c.generation++
	return true
}

func (c *Coordinator) end() {
	c.mu.Lock()
	c.busy = false
	if c.ready {
		c.state = StateReady
	} else {
		c.state = StateIdle
	}
	c.mu.Unlock()
}

// Start runs the initial full load with bounded retry, then opens the live
// subscription. Load failure after all retries is returned but does not
// prevent the live subscription: the next refresh can still converge.
func (c *Coordinator) Start(ctx context.Context) error {
	var loadErr error
	for attempt := 1; attempt <= c.opts.StartupRetries; attempt++ {
		loadErr = c.FullLoad(ctx)
		if loadErr == nil {
			break
		}
		c.log.Warn("sync.start.retry", "attempt", attempt, "err", loadErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.StartupDelay):
		}
	}

	if err := c.Login(ctx); err != nil {
		c.log.Warn("sync.live.open.fail", "err", err)
	}
	return loadErr
}

// FullLoad resets in-memory state, replays the archive, then queries the
// relay union for both directions with no lower time bound. The checkpoint
// advances only after every in-flight unwrap has settled; advancing earlier
// could permanently skip messages still being decrypted.
func (c *Coordinator) FullLoad(ctx context.Context) error {
	if !c.begin(StateFullLoad) {
		return ErrBusy
	}
	defer c.end()
	timer := prometheus.NewTimer(c.metrics.SyncDuration.WithLabelValues("full_load"))
	defer timer.ObserveDuration()

	account := c.keys.Public()

	res, err := c.archive.Load(ctx, account)
	if err != nil {
		// The relay union can rebuild everything the archive held, so a
		// broken archive degrades startup instead of failing it.
		c.log.Warn("sync.archive.load.fail", "err", err)
		res = archive.LoadResult{}
	}
	c.store.Reset(res.Chats)

	urls := c.resolver.SyncRelays(ctx)
	events, err := c.pool.Query(ctx, urls, nostr.Filters{
		c.incomingFilter(0, 0, 0),
		c.outgoingFilter(0, 0, 0),
	}, c.opts.QueryTimeout)
	if err != nil {
		// No relay answered, so nothing was loaded and the checkpoint must
		// not move. Archived chats stay visible.
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	c.processBatch(ctx, events)

	now := c.opts.Now().Unix()
	if err := c.archive.SetCheckpoint(ctx, account, now); err != nil {
		c.log.Warn("sync.checkpoint.write.fail", "err", err)
	}

	snap := c.store.Snapshot()
	c.mu.Lock()
	c.ready = true
	c.oldest = snap.OldestTimestamp()
	if c.oldest == 0 && res.OldestTimestamp > 0 {
		c.oldest = res.OldestTimestamp
	}
	c.hasMore = true
	c.mu.Unlock()

	c.log.Info("sync.load.done", "chats", snap.Len(), "events", len(events))
	return nil
}

// Refresh queries events newer than the checkpoint minus the backfill
// buffer, without clearing existing state. Skipped when another sync is
// running. With no checkpoint yet the query is unbounded, which converges to
// the same result as a full load minus the state reset.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.begin(StateRefreshing) {
		return ErrBusy
	}
	defer c.end()
	timer := prometheus.NewTimer(c.metrics.SyncDuration.WithLabelValues("refresh"))
	defer timer.ObserveDuration()

	account := c.keys.Public()

	checkpoint, err := c.archive.Checkpoint(ctx, account)
	if err != nil {
		c.log.Warn("sync.checkpoint.read.fail", "err", err)
	}
	var since int64
	if checkpoint > 0 {
		since = checkpoint - int64(c.opts.BackfillBuffer/time.Second)
		if since < 0 {
			since = 0
		}
	}

	urls := c.resolver.SyncRelays(ctx)
	events, err := c.pool.Query(ctx, urls, nostr.Filters{
		c.incomingFilter(since, 0, 0),
		c.outgoingFilter(since, 0, 0),
	}, c.opts.QueryTimeout)
	if err != nil {
		return fmt.Errorf("refresh query: %w", err)
	}

	c.processBatch(ctx, events)

	now := c.opts.Now().Unix()
	if err := c.archive.SetCheckpoint(ctx, account, now); err != nil {
		c.log.Warn("sync.checkpoint.write.fail", "err", err)
	}

	c.log.Info("sync.refresh.done", "since", since, "events", len(events))
	return nil
}

// incomingFilter matches events addressed to the local identity: legacy DMs
// and gift wraps carrying the local key in a recipient tag.
func (c *Coordinator) incomingFilter(since, until int64, limit int) nostr.Filter {
	f := nostr.Filter{
		Kinds: []int{envelope.KindLegacyDM, envelope.KindGiftWrap},
		Tags:  nostr.TagMap{"p": []string{c.keys.Public()}},
		Limit: limit,
	}
	applyBounds(&f, since, until)
	return f
}

// outgoingFilter matches legacy DMs authored by the local identity. Modern
// outgoing messages need no author filter: the self copy is addressed to the
// local key and arrives through the incoming filter.
func (c *Coordinator) outgoingFilter(since, until int64, limit int) nostr.Filter {
	f := nostr.Filter{
		Kinds:   []int{envelope.KindLegacyDM},
		Authors: []string{c.keys.Public()},
		Limit:   limit,
	}
	applyBounds(&f, since, until)
	return f
}

func applyBounds(f *nostr.Filter, since, until int64) {
	if since > 0 {
		s := nostr.Timestamp(since)
		f.Since = &s
	}
	if until > 0 {
		u := nostr.Timestamp(until)
		f.Until = &u
	}
}

// processBatch unwraps and merges a query result. Each event is handled in
// its own task; the call returns only after every task settled, which is the
// ordering guarantee completion signals rely on.
func (c *Coordinator) processBatch(ctx context.Context, events []nostr.Event) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentUnwraps)
	for i := range events {
		wg.Add(1)
		sem <- struct{}{}
		go func(evt nostr.Event) {
			defer wg.Done()
			defer func() { <-sem }()
			c.handleEvent(ctx, evt)
		}(events[i])
	}
	wg.Wait()
}

// handleEvent turns one raw event into a store mutation. Failures never
// propagate: a batch survives any single event.
func (c *Coordinator) handleEvent(ctx context.Context, evt nostr.Event) {
	m, err := c.unwrap.Unwrap(&evt)
	if err != nil {
		switch {
		case envelope.IsTamper(err):
			c.metrics.EventsProcessed.WithLabelValues(OutcomeTamper).Inc()
			c.log.Warn("sync.event.tamper", "event_id", evt.ID, "err", err)
		case envelope.IsBenign(err):
			c.metrics.EventsProcessed.WithLabelValues(OutcomeSkipped).Inc()
			c.metrics.DecryptFailures.Inc()
			c.log.Debug("sync.event.skip", "event_id", evt.ID, "err", err)
		default:
			c.metrics.EventsProcessed.WithLabelValues(OutcomeMalformed).Inc()
			c.log.Debug("sync.event.malformed", "event_id", evt.ID, "err", err)
		}
		return
	}

	added, err := c.store.AddMessage(ctx, m)
	switch {
	case err != nil:
		c.metrics.EventsProcessed.WithLabelValues(OutcomeRejected).Inc()
		c.log.Debug("sync.event.reject", "event_id", evt.ID, "err", err)
	case !added:
		c.metrics.EventsProcessed.WithLabelValues(OutcomeDuplicate).Inc()
	default:
		c.metrics.EventsProcessed.WithLabelValues(OutcomeAdded).Inc()
	}
}
