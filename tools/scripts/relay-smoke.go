// Package main provides a CI-friendly smoke test against a live Nostr relay.
//
// It validates:
//   - WebSocket handshake
//   - REQ -> EVENT/EOSE framing for a bounded DM filter
//   - CLOSE teardown
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/nbd-wtf/go-nostr"
)

const maxReadBytes = 1 << 20 // 1MiB

func main() {
	var (
		relayURL = flag.String("url", "wss://relay.damus.io", "Relay WebSocket URL")
		pubkey   = flag.String("pubkey", "", "Hex pubkey to filter recipient-tagged DMs for (optional)")
		window   = flag.Duration("window", 72*time.Hour, "How far back to query")
		limit    = flag.Int("limit", 20, "Max stored events to request")
		timeout  = flag.Duration("timeout", 10*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateRelayURL(*relayURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if *pubkey != "" && !nostr.IsValidPublicKey(*pubkey) {
		fatalf("invalid -pubkey: want 64-char hex")
	}

	root := context.Background()

	dialCtx, cancel := context.WithTimeout(root, *timeout)
	conn, _, err := websocket.Dial(dialCtx, *relayURL, nil)
	cancel()
	if err != nil {
		fatalf("connect: %v", err)
	}
	conn.SetReadLimit(maxReadBytes)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	since := nostr.Timestamp(time.Now().Add(-*window).Unix())
	filter := nostr.Filter{
		Kinds: []int{4, 1059},
		Since: &since,
		Limit: *limit,
	}
	if *pubkey != "" {
		filter.Tags = nostr.TagMap{"p": []string{*pubkey}}
	}

	subID := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	mustWrite(root, conn, &nostr.ReqEnvelope{SubscriptionID: subID, Filters: nostr.Filters{filter}}, *timeout)

	events := 0
	readCtx, cancelRead := context.WithTimeout(root, *timeout)
	defer cancelRead()

	for {
		_, data, err := conn.Read(readCtx)
		if err != nil {
			fatalf("read before EOSE (got %d events): %v", events, err)
		}
		env := nostr.ParseMessage(string(data))
		if env == nil {
			fatalf("unparsed frame: %s", truncate(data, 120))
		}

		switch e := env.(type) {
		case *nostr.EventEnvelope:
			events++
			if *verbose {
				fmt.Printf("event kind=%d id=%s created_at=%d\n", e.Kind, e.ID, e.CreatedAt)
			}
		case *nostr.EOSEEnvelope:
			ce := nostr.CloseEnvelope(subID)
			mustWrite(root, conn, &ce, *timeout)
			fmt.Printf("OK: relay=%s events=%d\n", *relayURL, events)
			return
		case *nostr.NoticeEnvelope:
			fmt.Fprintf(os.Stderr, "notice: %s\n", string(*e))
		case *nostr.ClosedEnvelope:
			fatalf("subscription closed by relay: %s", e.Reason)
		}
	}
}

func validateRelayURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustWrite(parent context.Context, conn *websocket.Conn, env nostr.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
