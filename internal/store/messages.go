// ABOUTME: Message persistence for the SQL store
// ABOUTME: Messages are append-only and listed in (timestamp, id) order

package store

import (
	"context"
	"fmt"
)

// CreateMessage inserts msg, sets its ID and bumps the conversation's updated_at
func (s *SQLStore) CreateMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := formatTime(msg.Timestamp)

	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO messages (conversation_id, content, type, sender, timestamp, is_derivation)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`), msg.ConversationID, msg.Content, string(msg.Type), msg.Sender, ts, msg.IsDerivation).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	result, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`), ts, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit messages of a conversation in ascending order,
// skipping the first offset.
func (s *SQLStore) ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]*Message, error) {
	return s.listMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, id ASC
		LIMIT ? OFFSET ?
	`, conversationID, limit, offset)
}

// ListRecentMessages returns the last limit messages of a conversation, oldest first.
func (s *SQLStore) ListRecentMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	return s.listMessages(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+`
			FROM messages
			WHERE conversation_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		) recent
		ORDER BY timestamp ASC, id ASC
	`, conversationID, limit)
}

const messageColumns = `id, conversation_id, content, type, sender, timestamp, is_derivation`

func (s *SQLStore) listMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var (
			msg       Message
			msgType   string
			timestamp string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Content, &msgType, &msg.Sender, &timestamp, &msg.IsDerivation); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Type = MessageType(msgType)
		if msg.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}
