// ABOUTME: Client persistence for the SQL store
// ABOUTME: Creates clients on first contact and keeps display name and status current

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetOrCreateClient returns the client with the given id, creating it on first
// contact. A non-empty name that differs from the stored one replaces it.
func (s *SQLStore) GetOrCreateClient(ctx context.Context, id, name string) (*Client, error) {
	now := formatTime(time.Now())

	// ON CONFLICT keeps concurrent first messages from the same client race-free
	_, err := s.exec(ctx, `
		INSERT INTO clients (id, name, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, id, name, ClientStatusNew, now)
	if err != nil {
		return nil, fmt.Errorf("inserting client: %w", err)
	}

	client, err := s.getClient(ctx, id)
	if err != nil {
		return nil, err
	}

	if name != "" && client.Name != name {
		if _, err := s.exec(ctx, `UPDATE clients SET name = ? WHERE id = ?`, name, id); err != nil {
			return nil, fmt.Errorf("updating client name: %w", err)
		}
		client.Name = name
	}

	return client, nil
}

// UpdateClientStatus sets the client's status tag
func (s *SQLStore) UpdateClientStatus(ctx context.Context, id, status string) error {
	result, err := s.exec(ctx, `UPDATE clients SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("updating client status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) getClient(ctx context.Context, id string) (*Client, error) {
	var c Client
	var createdAt string
	err := s.queryRow(ctx, `
		SELECT id, name, status, created_at FROM clients WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &c.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying client: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &c, nil
}
