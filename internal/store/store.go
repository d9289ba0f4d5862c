package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/secretary/wa-bridge/internal/wa"
)

// Store manages the chat and message mirror in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for the appointment and file stores.
func (s *Store) DB() *sql.DB { return s.db }

// UpsertChat inserts or refreshes a chat row, including its last-message
// preview.
func (s *Store) UpsertChat(ctx context.Context, chat wa.Chat) error {
	var lastBody string
	var lastTs int64
	var lastFromMe bool
	if chat.LastMessage != nil {
		lastBody = chat.LastMessage.Body
		lastTs = chat.LastMessage.Timestamp
		lastFromMe = chat.LastMessage.FromMe
	}

	const query = `
		INSERT INTO chats (id, name, is_group, unread_count, last_body, last_ts, last_from_me, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			is_group = EXCLUDED.is_group,
			unread_count = EXCLUDED.unread_count,
			last_body = EXCLUDED.last_body,
			last_ts = EXCLUDED.last_ts,
			last_from_me = EXCLUDED.last_from_me,
			updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		chat.ID, chat.Name, chat.IsGroup, chat.UnreadCount,
		lastBody, lastTs, lastFromMe,
	)
	if err != nil {
		return fmt.Errorf("store: upsert chat %s: %w", chat.ID, err)
	}
	return nil
}

// SaveMessage inserts a message, refreshing the chat preview in the same
// transaction. Duplicate message ids are ignored so replays are harmless.
func (s *Store) SaveMessage(ctx context.Context, msg wa.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	const insertMsg = `
		INSERT INTO messages (id, chat_id, body, ts, from_me, has_media, author, media_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	if _, err := tx.ExecContext(ctx, insertMsg,
		msg.ID, msg.ChatID, msg.Body, msg.Timestamp,
		msg.FromMe, msg.HasMedia, msg.Author, msg.MediaPath,
	); err != nil {
		return fmt.Errorf("store: insert message %s: %w", msg.ID, err)
	}

	const touchChat = `
		INSERT INTO chats (id, last_body, last_ts, last_from_me, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			last_body = EXCLUDED.last_body,
			last_ts = EXCLUDED.last_ts,
			last_from_me = EXCLUDED.last_from_me,
			updated_at = NOW()
		WHERE chats.last_ts <= EXCLUDED.last_ts`

	if _, err := tx.ExecContext(ctx, touchChat,
		msg.ChatID, msg.Body, msg.Timestamp, msg.FromMe,
	); err != nil {
		return fmt.Errorf("store: touch chat %s: %w", msg.ChatID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit message %s: %w", msg.ID, err)
	}
	return nil
}

// ListChats returns all mirrored chats, most recently active first.
func (s *Store) ListChats(ctx context.Context) ([]wa.Chat, error) {
	const query = `
		SELECT id, name, is_group, unread_count, last_body, last_ts, last_from_me
		FROM chats
		ORDER BY last_ts DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list chats: %w", err)
	}
	defer rows.Close()

	var chats []wa.Chat
	for rows.Next() {
		var c wa.Chat
		var lastBody string
		var lastTs int64
		var lastFromMe bool
		if err := rows.Scan(&c.ID, &c.Name, &c.IsGroup, &c.UnreadCount,
			&lastBody, &lastTs, &lastFromMe); err != nil {
			return nil, fmt.Errorf("store: scan chat: %w", err)
		}
		if lastTs > 0 || lastBody != "" {
			c.LastMessage = &wa.LastMessage{Body: lastBody, Timestamp: lastTs, FromMe: lastFromMe}
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// ListMessages returns up to limit mirrored messages for a chat in
// chronological order.
func (s *Store) ListMessages(ctx context.Context, chatID string, limit int) ([]wa.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	// Newest first under the limit, then reversed to chronological order.
	const query = `
		SELECT id, chat_id, body, ts, from_me, has_media, author, media_path
		FROM messages
		WHERE chat_id = $1
		ORDER BY ts DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list messages for %s: %w", chatID, err)
	}
	defer rows.Close()

	var msgs []wa.Message
	for rows.Next() {
		var m wa.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Body, &m.Timestamp,
			&m.FromMe, &m.HasMedia, &m.Author, &m.MediaPath); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
