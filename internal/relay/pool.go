package relay

import (
	"context"
	"errors"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

var (
	// ErrPoolClosed is returned by operations on a closed pool.
	ErrPoolClosed = errors.New("relay: pool closed")

	// ErrNoRelays is returned when an operation is given an empty relay set.
	ErrNoRelays = errors.New("relay: no relay urls")

	// ErrPublishFailed is returned when no relay acknowledged an event.
	ErrPublishFailed = errors.New("relay: publish not acknowledged by any relay")
)

// Subscription is a standing relay subscription. Close is idempotent.
type Subscription interface {
	Close()
}

// Pool fans operations out across a relay union.
type Pool interface {
	// Query collects stored events matching the filters from every relay,
	// deduplicated by event id. It returns when all reachable relays have
	// signalled end-of-stored-events, or when the timeout elapses, whichever
	// comes first - with whatever was collected so far. It fails only when
	// not a single relay in the union could be queried.
	Query(ctx context.Context, urls []string, filters nostr.Filters, timeout time.Duration) ([]nostr.Event, error)

	// Subscribe opens a standing subscription. onEvent is called for every
	// event (stored and live); onEOSE is called once, after every
	// successfully subscribed relay has delivered its stored events.
	Subscribe(ctx context.Context, urls []string, filters nostr.Filters, onEvent func(nostr.Event), onEOSE func()) (Subscription, error)

	// Publish sends a signed event to every relay and succeeds when at least
	// one acknowledges it.
	Publish(ctx context.Context, urls []string, evt nostr.Event) error

	Close()
}

// NormalizeURLs canonicalizes and deduplicates a relay set, dropping
// unusable entries. Order of first appearance is preserved.
func NormalizeURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		n := nostr.NormalizeURL(u)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
