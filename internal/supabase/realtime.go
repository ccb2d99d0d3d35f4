// internal/supabase/realtime.go
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/memorial/internal/types"
)

const (
	defaultHeartbeat = 30 * time.Second
	joinTimeout      = 10 * time.Second
	maxReconnect     = 30 * time.Second
)

// Realtime is a live feed of inserted chat rows over Supabase Realtime.
type Realtime struct {
	wsURL     string
	apiKey    string
	dialer    *websocket.Dialer
	heartbeat time.Duration
	ref       atomic.Int64
}

var _ types.Feed = (*Realtime)(nil)

type RealtimeOption func(*Realtime)

func WithHeartbeat(d time.Duration) RealtimeOption {
	return func(r *Realtime) { r.heartbeat = d }
}

// NewRealtime builds the websocket endpoint from the project URL.
func NewRealtime(baseURL, apiKey string, opts ...RealtimeOption) (*Realtime, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse supabase url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path += "/realtime/v1/websocket"
	u.RawQuery = url.Values{"apikey": {apiKey}, "vsn": {"1.0.0"}}.Encode()

	r := &Realtime{
		wsURL:     u.String(),
		apiKey:    apiKey,
		dialer:    websocket.DefaultDialer,
		heartbeat: defaultHeartbeat,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// phxMessage is a Phoenix channel frame.
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter"`
}

func topicFor(sessionID types.SessionID) string {
	return "realtime:chat-messages-" + string(sessionID)
}

func (r *Realtime) nextRef() string {
	return strconv.FormatInt(r.ref.Add(1), 10)
}

// Subscribe joins the session's channel and streams inserted rows until ctx
// ends. Dropped connections are re-established with backoff.
func (r *Realtime) Subscribe(ctx context.Context, sessionID types.SessionID) (<-chan types.StoredTurn, error) {
	conn, err := r.connect(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make(chan types.StoredTurn, 16)
	go r.run(ctx, sessionID, conn, out)
	return out, nil
}

func (r *Realtime) connect(ctx context.Context, sessionID types.SessionID) (*websocket.Conn, error) {
	conn, _, err := r.dialer.DialContext(ctx, r.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	if err := r.join(conn, sessionID); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (r *Realtime) join(conn *websocket.Conn, sessionID types.SessionID) error {
	ref := r.nextRef()
	payload, _ := json.Marshal(map[string]any{
		"config": map[string]any{
			"broadcast": map[string]any{"self": false},
			"presence":  map[string]any{"key": ""},
			"postgres_changes": []changeFilter{{
				Event:  "INSERT",
				Schema: "public",
				Table:  chatTable,
				Filter: "session_id=eq." + string(sessionID),
			}},
		},
		"access_token": r.apiKey,
	})
	join := phxMessage{Topic: topicFor(sessionID), Event: "phx_join", Payload: payload, Ref: &ref}
	if err := conn.WriteJSON(join); err != nil {
		return fmt.Errorf("join realtime channel: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(joinTimeout))
	defer conn.SetReadDeadline(time.Time{})
	for {
		var msg phxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("await realtime join: %w", err)
		}
		if msg.Event != "phx_reply" || msg.Ref == nil || *msg.Ref != ref {
			continue
		}
		var reply struct {
			Status   string          `json:"status"`
			Response json.RawMessage `json:"response"`
		}
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return fmt.Errorf("decode join reply: %w", err)
		}
		if reply.Status != "ok" {
			return fmt.Errorf("realtime join rejected: %s %s", reply.Status, reply.Response)
		}
		return nil
	}
}

func (r *Realtime) run(ctx context.Context, sessionID types.SessionID, conn *websocket.Conn, out chan<- types.StoredTurn) {
	defer close(out)
	backoff := time.Second
	for {
		err := r.stream(ctx, sessionID, conn, out)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		slog.Warn("realtime connection lost", "session_id", sessionID, "error", err)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			conn, err = r.connect(ctx, sessionID)
			if err == nil {
				backoff = time.Second
				break
			}
			slog.Warn("realtime reconnect failed", "session_id", sessionID, "error", err)
			backoff = min(backoff*2, maxReconnect)
		}
	}
}

// stream reads frames until the connection fails or ctx ends, sending a
// heartbeat on the phoenix topic at the configured interval.
func (r *Realtime) stream(ctx context.Context, sessionID types.SessionID, conn *websocket.Conn, out chan<- types.StoredTurn) error {
	var writeMu sync.Mutex
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				ref := r.nextRef()
				writeMu.Lock()
				conn.WriteJSON(phxMessage{Topic: topicFor(sessionID), Event: "phx_leave", Payload: json.RawMessage(`{}`), Ref: &ref})
				writeMu.Unlock()
				conn.Close()
				return
			case <-ticker.C:
				ref := r.nextRef()
				writeMu.Lock()
				err := conn.WriteJSON(phxMessage{Topic: "phoenix", Event: "heartbeat", Payload: json.RawMessage(`{}`), Ref: &ref})
				writeMu.Unlock()
				if err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		var msg phxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		switch msg.Event {
		case "postgres_changes":
			turn, err := decodeInsert(msg.Payload)
			if err != nil {
				slog.Warn("decode realtime insert", "session_id", sessionID, "error", err)
				continue
			}
			select {
			case out <- turn:
			case <-ctx.Done():
				return ctx.Err()
			}
		case "phx_error", "phx_close":
			return errors.New("realtime channel " + msg.Event)
		}
	}
}

func decodeInsert(payload json.RawMessage) (types.StoredTurn, error) {
	var p struct {
		Data struct {
			Type   string           `json:"type"`
			Record types.StoredTurn `json:"record"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.StoredTurn{}, err
	}
	if p.Data.Type != "" && p.Data.Type != "INSERT" {
		return types.StoredTurn{}, fmt.Errorf("unexpected change type %q", p.Data.Type)
	}
	if p.Data.Record.ID == 0 {
		return types.StoredTurn{}, errors.New("change has no record")
	}
	return p.Data.Record, nil
}
