package archive

import (
	"context"
	"sync"

	"murmur/internal/dm"
)

// Memory is an in-memory Archive used by tests and by accounts that opt out
// of durable storage.
type Memory struct {
	mu          sync.Mutex
	messages    map[string]map[string]map[string]dm.Message // account -> chat -> id
	hidden      map[string]map[string]map[string]struct{}
	checkpoints map[string]int64
	relayDocs   map[string]map[string]map[int][]string // account -> pubkey -> kind
}

// NewMemory constructs an empty in-memory archive.
func NewMemory() *Memory {
	return &Memory{
		messages:    make(map[string]map[string]map[string]dm.Message),
		hidden:      make(map[string]map[string]map[string]struct{}),
		checkpoints: make(map[string]int64),
		relayDocs:   make(map[string]map[string]map[int][]string),
	}
}

func (a *Memory) Close() error { return nil }

func (a *Memory) Load(_ context.Context, account string) (LoadResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	byPeer := make(map[string][]dm.Message)
	var oldest int64
	for chatKey, msgs := range a.messages[account] {
		key := normalizeChatKey(chatKey)
		for _, m := range msgs {
			if m.PeerKey == "" {
				m.PeerKey = key
			}
			byPeer[key] = append(byPeer[key], m)
			if oldest == 0 || m.Timestamp < oldest {
				oldest = m.Timestamp
			}
		}
	}

	hidden := make(map[string][]string)
	for chatKey, ids := range a.hidden[account] {
		key := normalizeChatKey(chatKey)
		for id := range ids {
			hidden[key] = append(hidden[key], id)
		}
	}

	chats := make([]*dm.Chat, 0, len(byPeer))
	for peer, msgs := range byPeer {
		chats = append(chats, dm.NewChat(peer, msgs, hidden[peer]))
	}
	return LoadResult{Chats: chats, OldestTimestamp: oldest}, nil
}

func (a *Memory) SaveMessage(_ context.Context, account, chatKey string, m dm.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	chats := a.messages[account]
	if chats == nil {
		chats = make(map[string]map[string]dm.Message)
		a.messages[account] = chats
	}
	msgs := chats[chatKey]
	if msgs == nil {
		msgs = make(map[string]dm.Message)
		chats[chatKey] = msgs
	}
	if _, ok := msgs[m.ID]; ok {
		return nil
	}
	msgs[m.ID] = m
	return nil
}

func (a *Memory) MarkRead(_ context.Context, account, chatKey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for storedKey, msgs := range a.messages[account] {
		if normalizeChatKey(storedKey) != normalizeChatKey(chatKey) {
			continue
		}
		for id, m := range msgs {
			if m.Direction == dm.Incoming {
				m.Read = true
				msgs[id] = m
			}
		}
	}
	return nil
}

func (a *Memory) DeleteMessage(_ context.Context, account, chatKey, messageID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for storedKey, msgs := range a.messages[account] {
		if normalizeChatKey(storedKey) == normalizeChatKey(chatKey) {
			delete(msgs, messageID)
		}
	}
	if ids := a.hidden[account][chatKey]; ids != nil {
		delete(ids, messageID)
	}
	return nil
}

func (a *Memory) SetHidden(_ context.Context, account, chatKey, messageID string, hidden bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	chats := a.hidden[account]
	if chats == nil {
		chats = make(map[string]map[string]struct{})
		a.hidden[account] = chats
	}
	ids := chats[chatKey]
	if ids == nil {
		ids = make(map[string]struct{})
		chats[chatKey] = ids
	}
	if hidden {
		ids[messageID] = struct{}{}
	} else {
		delete(ids, messageID)
	}
	return nil
}

func (a *Memory) Checkpoint(_ context.Context, account string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkpoints[account], nil
}

func (a *Memory) SetCheckpoint(_ context.Context, account string, ts int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkpoints[account] = ts
	return nil
}

func (a *Memory) RelayDoc(_ context.Context, account, pubkey string, kind int) ([]string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	relays, ok := a.relayDocs[account][pubkey][kind]
	return relays, ok, nil
}

func (a *Memory) SaveRelayDoc(_ context.Context, account, pubkey string, kind int, relays []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pubkeys := a.relayDocs[account]
	if pubkeys == nil {
		pubkeys = make(map[string]map[int][]string)
		a.relayDocs[account] = pubkeys
	}
	kinds := pubkeys[pubkey]
	if kinds == nil {
		kinds = make(map[int][]string)
		pubkeys[pubkey] = kinds
	}
	kinds[kind] = append([]string(nil), relays...)
	return nil
}
