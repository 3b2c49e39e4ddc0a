package archive

import (
	"context"
	"errors"
	"strings"

	"murmur/internal/dm"
)

var (
	// ErrClosed is returned by operations on a closed archive.
	ErrClosed = errors.New("archive: closed")
)

// LoadResult is the reconstructed durable state for one account.
type LoadResult struct {
	Chats []*dm.Chat

	// OldestTimestamp is the earliest message timestamp across all loaded
	// chats, seeding the backward-pagination watermark without re-querying
	// relays on startup. Zero when no messages exist.
	OldestTimestamp int64
}

// Archive persists chats, read/hidden state, sync checkpoints, and cached
// relay-list documents. Implementations: SQLite (production) and Memory
// (tests), following the same split the store layer uses elsewhere.
type Archive interface {
	// Load reconstructs all chats for an account, merging scheme-qualified
	// legacy chat keys by peer.
	Load(ctx context.Context, account string) (LoadResult, error)

	// SaveMessage writes one message, skipping silently when the id already
	// exists under that chat (checked against storage, not memory, to
	// tolerate restarts mid-sync).
	SaveMessage(ctx context.Context, account, chatKey string, m dm.Message) error

	MarkRead(ctx context.Context, account, chatKey string) error
	DeleteMessage(ctx context.Context, account, chatKey, messageID string) error
	SetHidden(ctx context.Context, account, chatKey, messageID string, hidden bool) error

	// Checkpoint returns the last-successful-sync timestamp, zero when never
	// synced.
	Checkpoint(ctx context.Context, account string) (int64, error)
	SetCheckpoint(ctx context.Context, account string, ts int64) error

	// RelayDoc returns a cached relay-list document (kind 10050 or 10002)
	// for a pubkey; ok is false on cache miss.
	RelayDoc(ctx context.Context, account, pubkey string, kind int) (relays []string, ok bool, err error)
	SaveRelayDoc(ctx context.Context, account, pubkey string, kind int, relays []string) error

	Close() error
}

// AccountMirror binds an Archive to one account, satisfying dm.Mirror so the
// chat store can write through without knowing about account scoping.
type AccountMirror struct {
	archive Archive
	account string
}

// ForAccount wraps an archive for one account key.
func ForAccount(a Archive, account string) *AccountMirror {
	return &AccountMirror{archive: a, account: account}
}

func (m *AccountMirror) SaveMessage(ctx context.Context, chatKey string, msg dm.Message) error {
	return m.archive.SaveMessage(ctx, m.account, chatKey, msg)
}

func (m *AccountMirror) MarkRead(ctx context.Context, chatKey string) error {
	return m.archive.MarkRead(ctx, m.account, chatKey)
}

func (m *AccountMirror) DeleteMessage(ctx context.Context, chatKey, messageID string) error {
	return m.archive.DeleteMessage(ctx, m.account, chatKey, messageID)
}

func (m *AccountMirror) SetHidden(ctx context.Context, chatKey, messageID string, hidden bool) error {
	return m.archive.SetHidden(ctx, m.account, chatKey, messageID, hidden)
}

// normalizeChatKey strips the scheme qualifiers of the pre-migration layout
// so rows written as "nip04:<pub>" and "nip44:<pub>" land in the same chat.
func normalizeChatKey(key string) string {
	for _, prefix := range []string{"nip04:", "nip44:", "nip17:"} {
		if strings.HasPrefix(key, prefix) {
			return strings.TrimPrefix(key, prefix)
		}
	}
	return key
}
