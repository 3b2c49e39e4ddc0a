package dm

import "sort"

// Chat is the conversation with one peer. Chats inside a published Snapshot
// are immutable; the store clones before mutating.
type Chat struct {
	PeerKey     string
	UnreadCount int
	LastMessage *Message
	HasLegacy   bool

	messages map[string]Message
	hidden   map[string]struct{}
}

// NewChat builds a chat from a message set, recomputing every derived field
// (unread count, last message, legacy flag). Used by the store and by archive
// restore, so the invariant logic lives in one place.
func NewChat(peerKey string, msgs []Message, hidden []string) *Chat {
	c := &Chat{
		PeerKey:  peerKey,
		messages: make(map[string]Message, len(msgs)),
		hidden:   make(map[string]struct{}, len(hidden)),
	}
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if _, ok := c.messages[m.ID]; ok {
			continue
		}
		c.messages[m.ID] = m
	}
	for _, id := range hidden {
		c.hidden[id] = struct{}{}
	}
	c.recompute()
	return c
}

// Len returns the number of messages, hidden ones included.
func (c *Chat) Len() int { return len(c.messages) }

// Has reports whether a message id exists in this chat.
func (c *Chat) Has(id string) bool {
	_, ok := c.messages[id]
	return ok
}

// Message returns one message by id.
func (c *Chat) Message(id string) (Message, bool) {
	m, ok := c.messages[id]
	return m, ok
}

// Messages returns all messages sorted ascending by timestamp, ties broken by
// id for a stable order.
func (c *Chat) Messages() []Message {
	out := make([]Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IsHidden reports whether a message id is locally hidden from display.
func (c *Chat) IsHidden(id string) bool {
	_, ok := c.hidden[id]
	return ok
}

// HiddenIDs returns the hidden-message set.
func (c *Chat) HiddenIDs() []string {
	out := make([]string, 0, len(c.hidden))
	for id := range c.hidden {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// OldestTimestamp returns the smallest message timestamp, or 0 for an empty
// chat. Seeds the backward-pagination watermark.
func (c *Chat) OldestTimestamp() int64 {
	var oldest int64
	for _, m := range c.messages {
		if oldest == 0 || m.Timestamp < oldest {
			oldest = m.Timestamp
		}
	}
	return oldest
}

// clone returns a mutable deep-enough copy (maps copied, messages are values).
func (c *Chat) clone() *Chat {
	cp := &Chat{
		PeerKey:     c.PeerKey,
		UnreadCount: c.UnreadCount,
		LastMessage: c.LastMessage,
		HasLegacy:   c.HasLegacy,
		messages:    make(map[string]Message, len(c.messages)+1),
		hidden:      make(map[string]struct{}, len(c.hidden)),
	}
	for id, m := range c.messages {
		cp.messages[id] = m
	}
	for id := range c.hidden {
		cp.hidden[id] = struct{}{}
	}
	return cp
}

// recompute refreshes every derived field from the message set.
func (c *Chat) recompute() {
	c.UnreadCount = 0
	c.HasLegacy = false
	c.LastMessage = nil

	var last Message
	var haveLast bool
	for _, m := range c.messages {
		if m.Direction == Incoming && !m.Read {
			c.UnreadCount++
		}
		if m.Scheme == SchemeLegacy {
			c.HasLegacy = true
		}
		if !haveLast || m.Timestamp > last.Timestamp ||
			(m.Timestamp == last.Timestamp && m.ID > last.ID) {
			last = m
			haveLast = true
		}
	}
	if haveLast {
		c.LastMessage = &last
	}
}
