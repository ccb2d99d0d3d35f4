// internal/state/bridge.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/user/memorial/internal/types"
)

// ResolveOrCreate returns the chat session bound to an external
// conversation key (for example a Telegram chat), creating one on first use.
func (d *DB) ResolveOrCreate(ctx context.Context, key types.SessionKey) (types.SessionID, error) {
	var id string
	err := d.db.QueryRowContext(ctx, `SELECT session_id FROM bridge_sessions WHERE session_key = ?`, string(key)).Scan(&id)
	if err == nil {
		return types.SessionID(id), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	return d.ResetSession(ctx, key)
}

// ResetSession binds key to a fresh session id.
func (d *DB) ResetSession(ctx context.Context, key types.SessionKey) (types.SessionID, error) {
	id := types.NewSessionID()
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO bridge_sessions (session_key, session_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET session_id = excluded.session_id, updated_at = excluded.updated_at`,
		string(key), string(id), d.timestamp())
	if err != nil {
		return "", fmt.Errorf("reset session: %w", err)
	}
	return id, nil
}
