// internal/state/tributes.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/user/memorial/internal/types"
)

func (d *DB) CreateTribute(ctx context.Context, t *types.Tribute) (*types.Tribute, error) {
	created := *t
	created.IsDeleted = false
	created.CreatedAt = d.timestamp()

	res, err := d.db.ExecContext(ctx,
		`INSERT INTO replies (name, position, contents, image_url, is_deleted, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		created.Name, nullString(created.Position), nullString(created.Contents), nullString(created.ImageURL), created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert tribute: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert tribute: %w", err)
	}
	created.ID = types.TributeID(strconv.FormatInt(id, 10))
	return &created, nil
}

func (d *DB) ListTributes(ctx context.Context, limit, offset int) ([]types.Tribute, int, error) {
	var total int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM replies WHERE is_deleted = 0`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tributes: %w", err)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, position, contents, image_url, created_at FROM replies
		 WHERE is_deleted = 0 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query tributes: %w", err)
	}
	defer rows.Close()

	out := []types.Tribute{}
	for rows.Next() {
		var (
			t                         types.Tribute
			id                        int64
			position, contents, image sql.NullString
		)
		if err := rows.Scan(&id, &t.Name, &position, &contents, &image, &t.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan tribute: %w", err)
		}
		t.ID = types.TributeID(strconv.FormatInt(id, 10))
		t.Position = stringPtr(position)
		t.Contents = stringPtr(contents)
		t.ImageURL = stringPtr(image)
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// DeleteTribute hides a tribute from listings.
func (d *DB) DeleteTribute(ctx context.Context, id types.TributeID) error {
	res, err := d.db.ExecContext(ctx, `UPDATE replies SET is_deleted = 1 WHERE id = ? AND is_deleted = 0`, string(id))
	if err != nil {
		return fmt.Errorf("delete tribute: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete tribute %s: %w", id, types.ErrNotFound)
	}
	return nil
}
