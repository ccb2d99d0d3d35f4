// internal/state/sources.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/user/memorial/internal/types"
)

const sourceColumns = `id, notebook_id, title, type, content, summary, url, processing_status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(r rowScanner) (types.Source, error) {
	var (
		s                             types.Source
		content, summary, url, status sql.NullString
	)
	err := r.Scan(&s.ID, &s.NotebookID, &s.Title, &s.Type, &content, &summary, &url, &status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return s, err
	}
	s.Content = stringPtr(content)
	s.Summary = stringPtr(summary)
	s.URL = stringPtr(url)
	s.ProcessingStatus = stringPtr(status)
	return s, nil
}

func (d *DB) ListSources(ctx context.Context, notebookID types.NotebookID) ([]types.Source, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE notebook_id = ? ORDER BY created_at DESC`,
		string(notebookID))
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []types.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *DB) GetSource(ctx context.Context, id types.SourceID) (*types.Source, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, string(id))
	s, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get source %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return &s, nil
}

// PutSource inserts or replaces a source. A missing id is generated and
// creation time is preserved on replace.
func (d *DB) PutSource(ctx context.Context, s *types.Source) error {
	if s.ID == "" {
		s.ID = types.SourceID(uuid.New().String())
	}
	if s.Type == "" {
		s.Type = types.SourceTypeText
	}
	now := d.timestamp()
	if s.CreatedAt == "" {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sources (`+sourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			notebook_id = excluded.notebook_id,
			title = excluded.title,
			type = excluded.type,
			content = excluded.content,
			summary = excluded.summary,
			url = excluded.url,
			processing_status = excluded.processing_status,
			updated_at = excluded.updated_at`,
		string(s.ID), string(s.NotebookID), s.Title, string(s.Type),
		nullString(s.Content), nullString(s.Summary), nullString(s.URL), nullString(s.ProcessingStatus),
		s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put source: %w", err)
	}
	return nil
}
