package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"murmur/internal/dm"
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS messages (
  account     TEXT NOT NULL,
  chat_key    TEXT NOT NULL,
  message_id  TEXT NOT NULL,
  peer_key    TEXT NOT NULL,
  created_at  INTEGER NOT NULL,
  content     TEXT NOT NULL,
  direction   TEXT NOT NULL CHECK(direction IN ('incoming','outgoing')),
  scheme      TEXT NOT NULL CHECK(scheme IN ('legacy','modern')),
  reply_to_id TEXT NOT NULL DEFAULT '',
  tags        TEXT NOT NULL DEFAULT '[]',
  is_read     INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (account, chat_key, message_id)
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_account_time
ON messages (account, created_at);
`,
	`
CREATE TABLE IF NOT EXISTS hidden_messages (
  account     TEXT NOT NULL,
  chat_key    TEXT NOT NULL,
  message_id  TEXT NOT NULL,
  PRIMARY KEY (account, chat_key, message_id)
);
`,
	`
CREATE TABLE IF NOT EXISTS sync_state (
  account    TEXT PRIMARY KEY,
  checkpoint INTEGER NOT NULL DEFAULT 0
);
`,
	`
CREATE TABLE IF NOT EXISTS relay_docs (
  account    TEXT NOT NULL,
  pubkey     TEXT NOT NULL,
  kind       INTEGER NOT NULL,
  relays     TEXT NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (account, pubkey, kind)
);
`,
}

// SQLite is the durable Archive implementation.
type SQLite struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// OpenSQLite opens (and migrates) the archive database at path. The parent
// directory is created if missing.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migration %d: %w", i, err)
		}
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database. Idempotent.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLite) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Load reconstructs all chats for an account. Rows written under the old
// scheme-qualified chat-key layout are merged by peer key.
func (s *SQLite) Load(ctx context.Context, account string) (LoadResult, error) {
	if err := s.guard(); err != nil {
		return LoadResult{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_key, message_id, peer_key, created_at, content,
		       direction, scheme, reply_to_id, tags, is_read
		FROM messages
		WHERE account = ?
		ORDER BY created_at ASC`, account)
	if err != nil {
		return LoadResult{}, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	byPeer := make(map[string][]dm.Message)
	var oldest int64
	for rows.Next() {
		var (
			chatKey, id, peer, content, direction, scheme, replyTo, tagsJSON string
			createdAt                                                       int64
			isRead                                                          int
		)
		if err := rows.Scan(&chatKey, &id, &peer, &createdAt, &content,
			&direction, &scheme, &replyTo, &tagsJSON, &isRead); err != nil {
			return LoadResult{}, fmt.Errorf("scan message row: %w", err)
		}

		key := normalizeChatKey(chatKey)
		if peer == "" {
			peer = key
		}

		var tags []dm.Tag
		if tagsJSON != "" && tagsJSON != "[]" {
			if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
				tags = nil
			}
		}

		m := dm.Message{
			ID:        id,
			PeerKey:   peer,
			Timestamp: createdAt,
			Content:   content,
			Direction: parseDirection(direction),
			Scheme:    parseScheme(scheme),
			Tags:      tags,
			ReplyToID: replyTo,
			Received:  true,
			Read:      isRead != 0,
		}
		byPeer[key] = append(byPeer[key], m)

		if oldest == 0 || createdAt < oldest {
			oldest = createdAt
		}
	}
	if err := rows.Err(); err != nil {
		return LoadResult{}, fmt.Errorf("iterate message rows: %w", err)
	}

	hidden, err := s.loadHidden(ctx, account)
	if err != nil {
		return LoadResult{}, err
	}

	chats := make([]*dm.Chat, 0, len(byPeer))
	for peer, msgs := range byPeer {
		chats = append(chats, dm.NewChat(peer, msgs, hidden[peer]))
	}

	return LoadResult{Chats: chats, OldestTimestamp: oldest}, nil
}

func (s *SQLite) loadHidden(ctx context.Context, account string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_key, message_id FROM hidden_messages WHERE account = ?`, account)
	if err != nil {
		return nil, fmt.Errorf("query hidden: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var chatKey, id string
		if err := rows.Scan(&chatKey, &id); err != nil {
			return nil, fmt.Errorf("scan hidden row: %w", err)
		}
		key := normalizeChatKey(chatKey)
		out[key] = append(out[key], id)
	}
	return out, rows.Err()
}

// SaveMessage inserts one message; duplicate ids under the same chat are
// ignored at the storage layer.
func (s *SQLite) SaveMessage(ctx context.Context, account, chatKey string, m dm.Message) error {
	if err := s.guard(); err != nil {
		return err
	}
	if m.ID == "" {
		return fmt.Errorf("message id is required")
	}

	tagsJSON, err := json.Marshal(m.Tags)
	if err != nil {
		tagsJSON = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (
			account, chat_key, message_id, peer_key, created_at, content,
			direction, scheme, reply_to_id, tags, is_read
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account, chatKey, m.ID, m.PeerKey, m.Timestamp, m.Content,
		m.Direction.String(), m.Scheme.String(), m.ReplyToID, string(tagsJSON), boolInt(m.Read))
	if err != nil {
		return fmt.Errorf("insert message %q: %w", m.ID, err)
	}
	return nil
}

// MarkRead flips every incoming message of a chat to read.
func (s *SQLite) MarkRead(ctx context.Context, account, chatKey string) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE account = ? AND chat_key IN (?, 'nip04:' || ?, 'nip44:' || ?)
		  AND direction = 'incoming'`,
		account, chatKey, chatKey, chatKey)
	if err != nil {
		return fmt.Errorf("mark read %q: %w", chatKey, err)
	}
	return nil
}

// DeleteMessage removes one message row and its hidden marker.
func (s *SQLite) DeleteMessage(ctx context.Context, account, chatKey, messageID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE account = ? AND chat_key IN (?, 'nip04:' || ?, 'nip44:' || ?) AND message_id = ?`,
		account, chatKey, chatKey, chatKey, messageID); err != nil {
		return fmt.Errorf("delete message %q: %w", messageID, err)
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM hidden_messages
		WHERE account = ? AND chat_key = ? AND message_id = ?`,
		account, chatKey, messageID); err != nil {
		return fmt.Errorf("delete hidden marker %q: %w", messageID, err)
	}
	return nil
}

// SetHidden adds or removes a local-only visibility marker.
func (s *SQLite) SetHidden(ctx context.Context, account, chatKey, messageID string, hidden bool) error {
	if err := s.guard(); err != nil {
		return err
	}
	if hidden {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO hidden_messages (account, chat_key, message_id)
			VALUES (?, ?, ?)`, account, chatKey, messageID)
		if err != nil {
			return fmt.Errorf("hide message %q: %w", messageID, err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM hidden_messages
		WHERE account = ? AND chat_key = ? AND message_id = ?`,
		account, chatKey, messageID)
	if err != nil {
		return fmt.Errorf("unhide message %q: %w", messageID, err)
	}
	return nil
}

// Checkpoint returns the last-successful-sync timestamp for an account.
func (s *SQLite) Checkpoint(ctx context.Context, account string) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	var ts int64
	err := s.db.QueryRowContext(ctx,
		`SELECT checkpoint FROM sync_state WHERE account = ?`, account).Scan(&ts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query checkpoint: %w", err)
	}
	return ts, nil
}

// SetCheckpoint stores the last-successful-sync timestamp.
func (s *SQLite) SetCheckpoint(ctx context.Context, account string, ts int64) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (account, checkpoint) VALUES (?, ?)
		ON CONFLICT(account) DO UPDATE SET checkpoint = excluded.checkpoint`,
		account, ts)
	if err != nil {
		return fmt.Errorf("set checkpoint: %w", err)
	}
	return nil
}

// RelayDoc returns a cached relay-list document.
func (s *SQLite) RelayDoc(ctx context.Context, account, pubkey string, kind int) ([]string, bool, error) {
	if err := s.guard(); err != nil {
		return nil, false, err
	}
	var relaysJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT relays FROM relay_docs
		WHERE account = ? AND pubkey = ? AND kind = ?`,
		account, pubkey, kind).Scan(&relaysJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query relay doc: %w", err)
	}
	var relays []string
	if err := json.Unmarshal([]byte(relaysJSON), &relays); err != nil {
		return nil, false, fmt.Errorf("decode relay doc: %w", err)
	}
	return relays, true, nil
}

// SaveRelayDoc caches a relay-list document.
func (s *SQLite) SaveRelayDoc(ctx context.Context, account, pubkey string, kind int, relays []string) error {
	if err := s.guard(); err != nil {
		return err
	}
	relaysJSON, err := json.Marshal(relays)
	if err != nil {
		return fmt.Errorf("encode relay doc: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relay_docs (account, pubkey, kind, relays, updated_at)
		VALUES (?, ?, ?, ?, strftime('%s','now'))
		ON CONFLICT(account, pubkey, kind)
		DO UPDATE SET relays = excluded.relays, updated_at = excluded.updated_at`,
		account, pubkey, kind, string(relaysJSON))
	if err != nil {
		return fmt.Errorf("save relay doc: %w", err)
	}
	return nil
}

func parseDirection(s string) dm.Direction {
	if s == "outgoing" {
		return dm.Outgoing
	}
	return dm.Incoming
}

func parseScheme(s string) dm.Scheme {
	if s == "modern" {
		return dm.SchemeModern
	}
	return dm.SchemeLegacy
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
