// ABOUTME: Conversation persistence for the SQL store
// ABOUTME: The partial unique index on open conversations surfaces as ErrDuplicateConversation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const conversationColumns = `id, client_id, state, area_id, derived_at, created_at, updated_at`

// GetActiveConversation returns the client's open conversation, or ErrNotFound
func (s *SQLStore) GetActiveConversation(ctx context.Context, clientID string) (*Conversation, error) {
	row := s.queryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE client_id = ? AND state IN (?, ?)
	`, clientID, string(StateAIResponding), string(StateAwaitingHuman))
	return scanConversation(row)
}

// CreateConversation inserts conv and sets its ID.
// Returns ErrDuplicateConversation if the client already has an open conversation.
func (s *SQLStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	err := s.queryRow(ctx, `
		INSERT INTO conversations (client_id, state, area_id, derived_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		conv.ClientID,
		string(conv.State),
		nullInt64(conv.AreaID),
		nullTime(conv.DerivedAt),
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	).Scan(&conv.ID)
	if isUniqueViolation(err) {
		return ErrDuplicateConversation
	}
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID
func (s *SQLStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	row := s.queryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// UpdateConversation persists state, area and timestamps of an existing
// conversation. The write only applies while the stored state still equals
// from; otherwise ErrStateConflict is returned.
func (s *SQLStore) UpdateConversation(ctx context.Context, conv *Conversation, from ConversationState) error {
	result, err := s.exec(ctx, `
		UPDATE conversations
		SET state = ?, area_id = ?, derived_at = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`,
		string(conv.State),
		nullInt64(conv.AreaID),
		nullTime(conv.DerivedAt),
		formatTime(conv.UpdatedAt),
		conv.ID,
		string(from),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateConversation
	}
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = s.queryRow(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conv.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}
	return ErrStateConflict
}

// ListActiveConversations returns every open conversation with client and area
// names, most recently updated first.
func (s *SQLStore) ListActiveConversations(ctx context.Context) ([]*ConversationSummary, error) {
	rows, err := s.query(ctx, `
		SELECT c.id, c.client_id, c.state, c.area_id, c.derived_at, c.created_at, c.updated_at,
		       cl.name, COALESCE(a.name, '')
		FROM conversations c
		JOIN clients cl ON cl.id = c.client_id
		LEFT JOIN areas a ON a.id = c.area_id
		WHERE c.state IN (?, ?)
		ORDER BY c.updated_at DESC, c.id DESC
	`, string(StateAIResponding), string(StateAwaitingHuman))
	if err != nil {
		return nil, fmt.Errorf("querying active conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*ConversationSummary
	for rows.Next() {
		var sum ConversationSummary
		if err := scanConversationInto(rows, &sum.Conversation, &sum.ClientName, &sum.AreaName); err != nil {
			return nil, err
		}
		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return summaries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row *sql.Row) (*Conversation, error) {
	var conv Conversation
	err := scanConversationInto(row, &conv)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func scanConversationInto(row rowScanner, conv *Conversation, extra ...any) error {
	var (
		state                string
		areaID               sql.NullInt64
		derivedAt            sql.NullString
		createdAt, updatedAt string
	)
	dest := append([]any{&conv.ID, &conv.ClientID, &state, &areaID, &derivedAt, &createdAt, &updatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("scanning conversation: %w", err)
	}

	conv.State = ConversationState(state)
	if areaID.Valid {
		id := areaID.Int64
		conv.AreaID = &id
	}

	var err error
	if conv.DerivedAt, err = parseNullTime(derivedAt); err != nil {
		return fmt.Errorf("parsing derived_at: %w", err)
	}
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return fmt.Errorf("parsing updated_at: %w", err)
	}
	return nil
}
