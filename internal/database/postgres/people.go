package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-matcher/internal/database"
)

func scanPerson(scanner interface{ Scan(...any) error }) (database.Person, error) {
	var p database.Person
	var imageID sql.NullString
	var imageDate sql.NullTime
	if err := scanner.Scan(&p.ID, &p.Name, &imageID, &imageDate, &p.PrimaryPhoto, &p.CreatedAt); err != nil {
		return p, fmt.Errorf("scan person: %w", err)
	}
	p.PrimaryImageID = imageID.String
	if imageDate.Valid {
		p.PrimaryImageDate = imageDate.Time
	}
	return p, nil
}

// GetPerson returns nil if the person does not exist.
func (s *Store) GetPerson(ctx context.Context, id string) (*database.Person, error) {
	p, err := scanPerson(s.pool.db.QueryRowContext(ctx, `
		SELECT id, name, primary_image_id, primary_image_date, primary_photo, created_at
		FROM people
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPeople returns all people ordered by name. Primary photo bytes are not loaded.
func (s *Store) ListPeople(ctx context.Context) ([]database.Person, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT id, name, primary_image_id, primary_image_date, NULL::bytea, created_at
		FROM people
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query people: %w", err)
	}
	defer rows.Close()

	var people []database.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate people: %w", err)
	}
	return people, nil
}

func (s *Store) SavePerson(ctx context.Context, p *database.Person) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.pool.db.ExecContext(ctx, `
		INSERT INTO people (id, name, primary_image_id, primary_image_date, primary_photo, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			primary_image_id = EXCLUDED.primary_image_id,
			primary_image_date = EXCLUDED.primary_image_date,
			primary_photo = EXCLUDED.primary_photo
	`,
		p.ID,
		p.Name,
		sql.NullString{String: p.PrimaryImageID, Valid: p.PrimaryImageID != ""},
		sql.NullTime{Time: p.PrimaryImageDate, Valid: !p.PrimaryImageDate.IsZero()},
		p.PrimaryPhoto,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save person: %w", err)
	}
	return nil
}

func (s *Store) DeletePerson(ctx context.Context, id string) error {
	if _, err := s.pool.db.ExecContext(ctx, "DELETE FROM people WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	return nil
}
