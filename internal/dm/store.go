package dm

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const defaultMirrorTimeout = 10 * time.Second

// Mirror is the durable write-through target for store mutations. Writes are
// fire-and-forget: failures are logged, never surfaced to the caller, and the
// in-memory state stays authoritative for the running session.
type Mirror interface {
	SaveMessage(ctx context.Context, chatKey string, m Message) error
	MarkRead(ctx context.Context, chatKey string) error
	DeleteMessage(ctx context.Context, chatKey, messageID string) error
	SetHidden(ctx context.Context, chatKey, messageID string, hidden bool) error
}

// Snapshot is an immutable view of all chats at one point in time.
type Snapshot struct {
	chats map[string]*Chat
}

// Chat returns the chat for a peer key.
func (s *Snapshot) Chat(peerKey string) (*Chat, bool) {
	c, ok := s.chats[peerKey]
	return c, ok
}

// Len returns the number of chats.
func (s *Snapshot) Len() int { return len(s.chats) }

// Chats returns all chats sorted by last-message timestamp, newest first.
func (s *Snapshot) Chats() []*Chat {
	out := make([]*Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		var ti, tj int64
		if out[i].LastMessage != nil {
			ti = out[i].LastMessage.Timestamp
		}
		if out[j].LastMessage != nil {
			tj = out[j].LastMessage.Timestamp
		}
		if ti != tj {
			return ti > tj
		}
		return out[i].PeerKey < out[j].PeerKey
	})
	return out
}

// OldestTimestamp returns the smallest message timestamp across all chats,
// or 0 when empty.
func (s *Snapshot) OldestTimestamp() int64 {
	var oldest int64
	for _, c := range s.chats {
		t := c.OldestTimestamp()
		if t == 0 {
			continue
		}
		if oldest == 0 || t < oldest {
			oldest = t
		}
	}
	return oldest
}

// Store owns the in-memory chat map.
//
// Mutations follow a copy-on-write discipline: read the current snapshot,
// build a new one with the change applied, publish it under the write lock.
// Each critical section contains no suspension point, so updates are never
// lost between concurrent mutators.
type Store struct {
	log           *slog.Logger
	local         string
	mirror        Mirror
	mirrorTimeout time.Duration

	mu       sync.RWMutex
	snap     *Snapshot
	watchers []chan struct{}
}

// NewStore constructs a Store for the given local identity public key.
// mirror may be nil (no durable write-through, used by tests).
func NewStore(log *slog.Logger, localKey string, mirror Mirror) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		log:           log,
		local:         localKey,
		mirror:        mirror,
		mirrorTimeout: defaultMirrorTimeout,
		snap:          &Snapshot{chats: make(map[string]*Chat)},
	}
}

// Snapshot returns the current immutable view.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// GetChat returns the chat for a peer key from the current snapshot.
func (s *Store) GetChat(peerKey string) (*Chat, bool) {
	return s.Snapshot().Chat(peerKey)
}

// GetMessages returns the peer's messages sorted ascending by timestamp.
func (s *Store) GetMessages(peerKey string) []Message {
	c, ok := s.GetChat(peerKey)
	if !ok {
		return nil
	}
	return c.Messages()
}

// AddMessage inserts a message into the peer's chat.
//
// It is a validated no-op when the peer equals the local identity, and an
// idempotent no-op when the message id already exists in that chat (the same
// message routinely arrives from several relays, or from a live subscription
// and a backfill query concurrently). Returns true when the message was
// actually added.
func (s *Store) AddMessage(ctx context.Context, m Message) (bool, error) {
	if m.ID == "" || m.PeerKey == "" {
		return false, ErrInvalidMessage
	}
	if m.PeerKey == s.local {
		return false, ErrSelfChat
	}

	s.mu.Lock()
	existing, ok := s.snap.chats[m.PeerKey]
	if ok && existing.Has(m.ID) {
		s.mu.Unlock()
		return false, nil
	}

	var next *Chat
	if ok {
		next = existing.clone()
	} else {
		next = &Chat{
			PeerKey:  m.PeerKey,
			messages: make(map[string]Message, 1),
			hidden:   make(map[string]struct{}),
		}
	}
	next.messages[m.ID] = m
	next.recompute()
	s.publishLocked(m.PeerKey, next)
	s.mu.Unlock()

	s.mirrorAsync("store.mirror.save", m.PeerKey, m.ID, func(ctx context.Context) error {
		return s.mirror.SaveMessage(ctx, m.PeerKey, m)
	})
	return true, nil
}

// DeleteMessage removes a message from the in-memory chat and the durable
// mirror. This is local-only: relay-held copies are unaffected, and for
// modern-envelope messages no protocol-level deletion can be verified.
func (s *Store) DeleteMessage(ctx context.Context, peerKey, messageID string) bool {
	s.mu.Lock()
	c, ok := s.snap.chats[peerKey]
	if !ok || !c.Has(messageID) {
		s.mu.Unlock()
		return false
	}
	next := c.clone()
	delete(next.messages, messageID)
	delete(next.hidden, messageID)
	next.recompute()
	s.publishLocked(peerKey, next)
	s.mu.Unlock()

	s.mirrorAsync("store.mirror.delete", peerKey, messageID, func(ctx context.Context) error {
		return s.mirror.DeleteMessage(ctx, peerKey, messageID)
	})
	return true
}

// MarkChatRead zeroes the unread counter and flips read on every incoming
// message. Idempotent no-op when nothing is unread.
func (s *Store) MarkChatRead(ctx context.Context, peerKey string) bool {
	s.mu.Lock()
	c, ok := s.snap.chats[peerKey]
	if !ok || c.UnreadCount == 0 {
		s.mu.Unlock()
		return false
	}
	next := c.clone()
	for id, m := range next.messages {
		if m.Direction == Incoming && !m.Read {
			m.Read = true
			next.messages[id] = m
		}
	}
	next.recompute()
	s.publishLocked(peerKey, next)
	s.mu.Unlock()

	s.mirrorAsync("store.mirror.mark_read", peerKey, "", func(ctx context.Context) error {
		return s.mirror.MarkRead(ctx, peerKey)
	})
	return true
}

// MarkAllRead marks every chat as read.
func (s *Store) MarkAllRead(ctx context.Context) {
	for _, c := range s.Snapshot().Chats() {
		if c.UnreadCount > 0 {
			s.MarkChatRead(ctx, c.PeerKey)
		}
	}
}

// HideMessage suppresses a message from display without deleting it. The
// message stays counted and stored.
func (s *Store) HideMessage(ctx context.Context, peerKey, messageID string) bool {
	return s.setHidden(ctx, peerKey, messageID, true)
}

// UnhideMessage reverses HideMessage.
func (s *Store) UnhideMessage(ctx context.Context, peerKey, messageID string) bool {
	return s.setHidden(ctx, peerKey, messageID, false)
}

// IsHidden reports whether a message is locally hidden.
func (s *Store) IsHidden(peerKey, messageID string) bool {
	c, ok := s.GetChat(peerKey)
	if !ok {
		return false
	}
	return c.IsHidden(messageID)
}

func (s *Store) setHidden(ctx context.Context, peerKey, messageID string, hidden bool) bool {
	s.mu.Lock()
	c, ok := s.snap.chats[peerKey]
	if !ok || !c.Has(messageID) || c.IsHidden(messageID) == hidden {
		s.mu.Unlock()
		return false
	}
	next := c.clone()
	if hidden {
		next.hidden[messageID] = struct{}{}
	} else {
		delete(next.hidden, messageID)
	}
	s.publishLocked(peerKey, next)
	s.mu.Unlock()

	s.mirrorAsync("store.mirror.hide", peerKey, messageID, func(ctx context.Context) error {
		return s.mirror.SetHidden(ctx, peerKey, messageID, hidden)
	})
	return true
}

// Reset replaces the whole snapshot. Used by archive restore and by full
// loads; bypasses the mirror since the data just came from it.
func (s *Store) Reset(chats []*Chat) {
	m := make(map[string]*Chat, len(chats))
	for _, c := range chats {
		if c == nil || c.PeerKey == "" || c.PeerKey == s.local {
			continue
		}
		m[c.PeerKey] = c
	}

	s.mu.Lock()
	s.snap = &Snapshot{chats: m}
	s.notifyLocked()
	s.mu.Unlock()
}

// publishLocked swaps in a new snapshot with one chat replaced.
// Caller holds s.mu.
func (s *Store) publishLocked(peerKey string, c *Chat) {
	chats := make(map[string]*Chat, len(s.snap.chats)+1)
	for k, v := range s.snap.chats {
		chats[k] = v
	}
	chats[peerKey] = c
	s.snap = &Snapshot{chats: chats}
	s.notifyLocked()
}

func (s *Store) mirrorAsync(event, chatKey, messageID string, fn func(context.Context) error) {
	if s.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.mirrorTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.Warn(event+".fail", "chat", chatKey, "message_id", messageID, "err", err)
		}
	}()
}
