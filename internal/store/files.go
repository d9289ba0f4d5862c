package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// File is a stored document record, typically media saved from a chat.
type File struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	MimeType  string    `json:"mimeType,omitempty"`
	SizeBytes int64     `json:"sizeBytes"`
	ChatID    string    `json:"chatId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// FileStore manages file records in PostgreSQL.
type FileStore struct {
	db *sql.DB
}

// NewFileStore creates a file store.
func NewFileStore(db *sql.DB) *FileStore {
	return &FileStore{db: db}
}

// Create inserts a file record and fills in its generated fields.
func (s *FileStore) Create(ctx context.Context, f *File) error {
	if f.Name == "" || f.Path == "" {
		return fmt.Errorf("store: file name and path required")
	}

	const query = `
		INSERT INTO files (name, path, mime_type, size_bytes, chat_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		f.Name, f.Path, f.MimeType, f.SizeBytes, f.ChatID,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert file: %w", err)
	}
	return nil
}

// Get fetches one file record by id.
func (s *FileStore) Get(ctx context.Context, id int64) (*File, error) {
	const query = `
		SELECT id, name, path, mime_type, size_bytes, chat_id, created_at
		FROM files
		WHERE id = $1`

	f := &File{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&f.ID, &f.Name, &f.Path, &f.MimeType, &f.SizeBytes, &f.ChatID, &f.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get file %d: %w", id, err)
	}
	return f, nil
}

// List returns file records, newest first, optionally filtered by chat.
func (s *FileStore) List(ctx context.Context, chatID string, limit int) ([]File, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, name, path, mime_type, size_bytes, chat_id, created_at
		FROM files`
	args := []interface{}{}
	if chatID != "" {
		query += ` WHERE chat_id = $1`
		args = append(args, chatID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list files: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.Name, &f.Path, &f.MimeType,
			&f.SizeBytes, &f.ChatID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Delete removes a file record. The file on disk is left in place.
func (s *FileStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete file %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
