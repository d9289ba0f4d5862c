package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Appointment is a scheduled item managed through the dashboard, optionally
// linked to a chat.
type Appointment struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	ChatID      string     `json:"chatId,omitempty"`
	StartsAt    time.Time  `json:"startsAt"`
	EndsAt      *time.Time `json:"endsAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// AppointmentStore manages appointments in PostgreSQL.
type AppointmentStore struct {
	db *sql.DB
}

// NewAppointmentStore creates an appointment store.
func NewAppointmentStore(db *sql.DB) *AppointmentStore {
	return &AppointmentStore{db: db}
}

// Create inserts an appointment and fills in its generated fields.
func (s *AppointmentStore) Create(ctx context.Context, a *Appointment) error {
	if a.Title == "" {
		return fmt.Errorf("store: appointment title required")
	}
	if a.StartsAt.IsZero() {
		return fmt.Errorf("store: appointment start time required")
	}

	const query = `
		INSERT INTO appointments (title, description, chat_id, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		a.Title, a.Description, a.ChatID, a.StartsAt, a.EndsAt,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: insert appointment: %w", err)
	}
	return nil
}

// Get fetches one appointment by id.
func (s *AppointmentStore) Get(ctx context.Context, id int64) (*Appointment, error) {
	const query = `
		SELECT id, title, description, chat_id, starts_at, ends_at, created_at, updated_at
		FROM appointments
		WHERE id = $1`

	a := &Appointment{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.Title, &a.Description, &a.ChatID,
		&a.StartsAt, &a.EndsAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get appointment %d: %w", id, err)
	}
	return a, nil
}

// List returns upcoming appointments first, bounded by limit.
func (s *AppointmentStore) List(ctx context.Context, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT id, title, description, chat_id, starts_at, ends_at, created_at, updated_at
		FROM appointments
		ORDER BY starts_at ASC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list appointments: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.Title, &a.Description, &a.ChatID,
			&a.StartsAt, &a.EndsAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Update rewrites an appointment's mutable fields.
func (s *AppointmentStore) Update(ctx context.Context, a *Appointment) error {
	const query = `
		UPDATE appointments
		SET title = $2, description = $3, chat_id = $4, starts_at = $5, ends_at = $6, updated_at = NOW()
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query,
		a.ID, a.Title, a.Description, a.ChatID, a.StartsAt, a.EndsAt,
	)
	if err != nil {
		return fmt.Errorf("store: update appointment %d: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an appointment.
func (s *AppointmentStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete appointment %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
