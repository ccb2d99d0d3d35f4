// internal/state/turns.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/memorial/internal/types"
)

func (d *DB) ListTurns(ctx context.Context, sessionID types.SessionID) ([]types.StoredTurn, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, session_id, message FROM n8n_chat_histories WHERE session_id = ? ORDER BY id ASC`,
		string(sessionID))
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []types.StoredTurn
	for rows.Next() {
		var (
			t   types.StoredTurn
			msg string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &msg); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Message = json.RawMessage(msg)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// AppendTurn inserts a turn and publishes it to live subscribers.
func (d *DB) AppendTurn(ctx context.Context, sessionID types.SessionID, message json.RawMessage) (*types.StoredTurn, error) {
	if !json.Valid(message) {
		return nil, fmt.Errorf("append turn: message is not valid JSON")
	}
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO n8n_chat_histories (session_id, message, created_at) VALUES (?, ?, ?)`,
		string(sessionID), string(message), d.timestamp())
	if err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}
	t := types.StoredTurn{ID: types.TurnID(id), SessionID: sessionID, Message: message}
	d.hub.Publish(t)
	return &t, nil
}

// PruneTurns deletes turns created before the cutoff and reports how many
// were removed.
func (d *DB) PruneTurns(ctx context.Context, before time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM n8n_chat_histories WHERE created_at < ?`,
		before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune turns: %w", err)
	}
	return res.RowsAffected()
}

// SessionSummary describes one stored conversation.
type SessionSummary struct {
	SessionID types.SessionID
	Turns     int
	LastAt    string
}

// ListSessions returns stored sessions, most recently active first.
func (d *DB) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT session_id, COUNT(*), MAX(created_at) FROM n8n_chat_histories GROUP BY session_id ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.SessionID, &s.Turns, &s.LastAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
