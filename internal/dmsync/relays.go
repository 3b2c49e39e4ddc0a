package dmsync

import (
	"context"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"murmur/internal/archive"
	"murmur/internal/envelope"
	"murmur/internal/relay"
)

// Resolver selects the relay union for sync and publish operations: relays
// advertised for DM delivery (kind 10050), the account's general relay list
// (kind 10002), and a discovery fallback set. Published lists are cached in
// the archive so restarts do not re-query them.
type Resolver struct {
	log       *slog.Logger
	pool      relay.Pool
	archive   archive.Archive
	account   string
	static    []string
	discovery []string
	timeout   time.Duration
}

// NewResolver constructs a resolver for one account. static is the account's
// configured relay set; discovery is the fallback used both for sync and for
// fetching relay-list documents.
func NewResolver(log *slog.Logger, pool relay.Pool, arch archive.Archive, account string, static, discovery []string, timeout time.Duration) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Resolver{
		log:       log,
		pool:      pool,
		archive:   arch,
		account:   account,
		static:    static,
		discovery: discovery,
		timeout:   timeout,
	}
}

// SyncRelays returns the union used for the account's own sync operations:
// DM relays, general relays, configured relays, discovery fallback.
func (r *Resolver) SyncRelays(ctx context.Context) []string {
	var urls []string
	urls = append(urls, r.relayDoc(ctx, r.account, envelope.KindDMRelayList)...)
	urls = append(urls, r.relayDoc(ctx, r.account, envelope.KindRelayList)...)
	urls = append(urls, r.static...)
	urls = append(urls, r.discovery...)
	return relay.NormalizeURLs(urls)
}

// SendRelays returns the union for delivering to one recipient: the
// recipient's advertised DM relays first, then the sender's own sync set so
// the self copy lands where the account reads.
func (r *Resolver) SendRelays(ctx context.Context, recipient string) []string {
	urls := r.relayDoc(ctx, recipient, envelope.KindDMRelayList)
	if len(urls) == 0 {
		urls = r.relayDoc(ctx, recipient, envelope.KindRelayList)
	}
	urls = append(urls, r.SyncRelays(ctx)...)
	return relay.NormalizeURLs(urls)
}

// relayDoc returns a pubkey's published relay list for a kind, consulting the
// archive cache first and caching any fresh relay answer.
func (r *Resolver) relayDoc(ctx context.Context, pubkey string, kind int) []string {
	if cached, ok, err := r.archive.RelayDoc(ctx, r.account, pubkey, kind); err == nil && ok {
		return cached
	} else if err != nil {
		r.log.Warn("resolver.cache.read.fail", "pubkey", pubkey, "kind", kind, "err", err)
	}

	seed := relay.NormalizeURLs(append(append([]string{}, r.static...), r.discovery...))
	if len(seed) == 0 {
		return nil
	}

	events, err := r.pool.Query(ctx, seed, nostr.Filters{{
		Kinds:   []int{kind},
		Authors: []string{pubkey},
		Limit:   1,
	}}, r.timeout)
	if err != nil {
		// A miss here only narrows the union; the caller still has the
		// static and discovery sets.
		r.log.Debug("resolver.doc.query.fail", "pubkey", pubkey, "kind", kind, "err", err)
		return nil
	}

	doc := newestEvent(events)
	if doc == nil {
		return nil
	}
	urls := relayListURLs(doc)

	if err := r.archive.SaveRelayDoc(ctx, r.account, pubkey, kind, urls); err != nil {
		r.log.Warn("resolver.cache.write.fail", "pubkey", pubkey, "kind", kind, "err", err)
	}
	return urls
}

func newestEvent(events []nostr.Event) *nostr.Event {
	var newest *nostr.Event
	for i := range events {
		if newest == nil || events[i].CreatedAt > newest.CreatedAt {
			newest = &events[i]
		}
	}
	return newest
}

// relayListURLs extracts relay URLs from a relay-list document. DM relay
// lists use "relay" tags; general relay lists use "r" tags with an optional
// read/write marker.
func relayListURLs(evt *nostr.Event) []string {
	var urls []string
	for _, t := range evt.Tags {
		if len(t) < 2 {
			continue
		}
		switch t[0] {
		case "relay", "r":
			urls = append(urls, t[1])
		}
	}
	return relay.NormalizeURLs(urls)
}
