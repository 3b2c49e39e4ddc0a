package dmsync

import (
	"context"
	"fmt"

	"murmur/internal/dm"
	"murmur/internal/envelope"
)

// Send delivers a gift-wrapped direct message: two wraps sharing one rumor,
// one addressed to the recipient and one to the local identity. The self copy
// is what the account's own sync sees later; it is also processed locally so
// the chat reflects the send immediately.
func (c *Coordinator) Send(ctx context.Context, recipient, plaintext string) (dm.Message, error) {
	wrapped, err := envelope.WrapDirectMessage(c.keys, recipient, plaintext, c.opts.Now())
	if err != nil {
		return dm.Message{}, err
	}

	urls := c.resolver.SendRelays(ctx, recipient)

	if err := c.pool.Publish(ctx, urls, wrapped.ToRecipient); err != nil {
		c.metrics.PublishFailures.Inc()
		return dm.Message{}, fmt.Errorf("publish to recipient: %w", err)
	}
	if err := c.pool.Publish(ctx, urls, wrapped.ToSelf); err != nil {
		// The recipient copy is out; losing the self copy only costs the
		// sender's own history on other devices, so the send still counts.
		c.metrics.PublishFailures.Inc()
		c.log.Warn("sync.send.self_copy.fail", "rumor_id", wrapped.RumorID, "err", err)
	}

	m, err := c.unwrap.Unwrap(&wrapped.ToSelf)
	if err != nil {
		return dm.Message{}, fmt.Errorf("process self copy: %w", err)
	}
	if _, err := c.store.AddMessage(ctx, m); err != nil {
		return dm.Message{}, err
	}
	return m, nil
}

// SendLegacy delivers a single-layer NIP-04 message for peers that have not
// upgraded schemes. The signed event itself is the sender's history copy.
func (c *Coordinator) SendLegacy(ctx context.Context, recipient, plaintext string) (dm.Message, error) {
	evt, err := envelope.BuildLegacyMessage(c.keys, recipient, plaintext, c.opts.Now())
	if err != nil {
		return dm.Message{}, err
	}

	urls := c.resolver.SendRelays(ctx, recipient)
	if err := c.pool.Publish(ctx, urls, evt); err != nil {
		c.metrics.PublishFailures.Inc()
		return dm.Message{}, fmt.Errorf("publish legacy: %w", err)
	}

	m, err := c.unwrap.Unwrap(&evt)
	if err != nil {
		return dm.Message{}, fmt.Errorf("process sent event: %w", err)
	}
	if _, err := c.store.AddMessage(ctx, m); err != nil {
		return dm.Message{}, err
	}
	return m, nil
}
