// ABOUTME: Area persistence for the SQL store
// ABOUTME: Areas are managed externally; the core only lists and looks them up

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const areaColumns = `id, name, description, instructions, active, specialist, response_minutes, created_at`

// ListAreasForDerivation returns active areas that can receive automatic escalations, by name
func (s *SQLStore) ListAreasForDerivation(ctx context.Context) ([]*Area, error) {
	all, err := s.listAreas(ctx, `
		SELECT `+areaColumns+` FROM areas
		WHERE active = ? AND specialist IS NOT NULL AND specialist <> ''
		ORDER BY name
	`, true)
	if err != nil {
		return nil, err
	}

	ready := all[:0]
	for _, a := range all {
		if a.ReadyForDerivation() {
			ready = append(ready, a)
		}
	}
	return ready, nil
}

// ListActiveAreas returns every active area, by name
func (s *SQLStore) ListActiveAreas(ctx context.Context) ([]*Area, error) {
	return s.listAreas(ctx, `SELECT `+areaColumns+` FROM areas WHERE active = ? ORDER BY name`, true)
}

// FindAreaByName looks an area up by name, case-insensitively
func (s *SQLStore) FindAreaByName(ctx context.Context, name string) (*Area, error) {
	row := s.queryRow(ctx, `SELECT `+areaColumns+` FROM areas WHERE LOWER(name) = LOWER(?)`, name)
	a, err := scanArea(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// CreateArea inserts area and sets its ID. Returns ErrDuplicateArea on a name clash.
func (s *SQLStore) CreateArea(ctx context.Context, area *Area) error {
	if area.CreatedAt.IsZero() {
		area.CreatedAt = time.Now()
	}

	var minutes sql.NullInt64
	if area.ResponseMinutes != nil {
		minutes = sql.NullInt64{Int64: int64(*area.ResponseMinutes), Valid: true}
	}

	err := s.queryRow(ctx, `
		INSERT INTO areas (name, description, instructions, active, specialist, response_minutes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		area.Name,
		area.Description,
		area.Instructions,
		area.Active,
		nullString(area.Specialist),
		minutes,
		formatTime(area.CreatedAt),
	).Scan(&area.ID)
	if isUniqueViolation(err) {
		return ErrDuplicateArea
	}
	if err != nil {
		return fmt.Errorf("inserting area: %w", err)
	}
	return nil
}

func (s *SQLStore) listAreas(ctx context.Context, query string, args ...any) ([]*Area, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying areas: %w", err)
	}
	defer rows.Close()

	var areas []*Area
	for rows.Next() {
		a, err := scanArea(rows)
		if err != nil {
			return nil, err
		}
		areas = append(areas, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating areas: %w", err)
	}
	return areas, nil
}

func scanArea(row rowScanner) (*Area, error) {
	var (
		a          Area
		specialist sql.NullString
		minutes    sql.NullInt64
		createdAt  string
	)
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Instructions, &a.Active, &specialist, &minutes, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning area: %w", err)
	}

	a.Specialist = specialist.String
	if minutes.Valid {
		m := int(minutes.Int64)
		a.ResponseMinutes = &m
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &a, nil
}
