// ABOUTME: Assistant settings persistence for the SQL store
// ABOUTME: A single row (id = 1) holds the globally managed assistant configuration

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetAssistantSettings returns the stored assistant settings, or ErrNotFound
func (s *SQLStore) GetAssistantSettings(ctx context.Context) (*AssistantSettings, error) {
	var (
		settings  AssistantSettings
		updatedAt string
	)
	err := s.queryRow(ctx, `
		SELECT system_prompt, temperature, max_tokens, model, auto_derivation, updated_at
		FROM assistant_settings WHERE id = 1
	`).Scan(&settings.SystemPrompt, &settings.Temperature, &settings.MaxTokens, &settings.Model, &settings.AutoDerivation, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying assistant settings: %w", err)
	}
	if settings.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &settings, nil
}

// SaveAssistantSettings inserts or replaces the assistant settings row
func (s *SQLStore) SaveAssistantSettings(ctx context.Context, settings *AssistantSettings) error {
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO assistant_settings (id, system_prompt, temperature, max_tokens, model, auto_derivation, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			system_prompt = excluded.system_prompt,
			temperature = excluded.temperature,
			max_tokens = excluded.max_tokens,
			model = excluded.model,
			auto_derivation = excluded.auto_derivation,
			updated_at = excluded.updated_at
	`,
		settings.SystemPrompt,
		settings.Temperature,
		settings.MaxTokens,
		settings.Model,
		settings.AutoDerivation,
		formatTime(settings.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving assistant settings: %w", err)
	}
	return nil
}
