// internal/state/hub.go
package state

import (
	"context"
	"log/slog"
	"sync"

	"github.com/user/memorial/internal/types"
)

// Hub fans inserted turns out to per-session subscribers. Delivery never
// blocks: a subscriber whose buffer is full misses the push and has to
// reconcile by refetching.
type Hub struct {
	mu    sync.Mutex
	lanes map[types.SessionID]map[chan types.StoredTurn]struct{}
}

var _ types.Feed = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{lanes: make(map[types.SessionID]map[chan types.StoredTurn]struct{})}
}

// Subscribe registers a subscriber until ctx ends.
func (h *Hub) Subscribe(ctx context.Context, sessionID types.SessionID) (<-chan types.StoredTurn, error) {
	ch := make(chan types.StoredTurn, 32)

	h.mu.Lock()
	lane, ok := h.lanes[sessionID]
	if !ok {
		lane = make(map[chan types.StoredTurn]struct{})
		h.lanes[sessionID] = lane
	}
	lane[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(lane, ch)
		if len(h.lanes[sessionID]) == 0 {
			delete(h.lanes, sessionID)
		}
		close(ch)
	}()
	return ch, nil
}

func (h *Hub) Publish(t types.StoredTurn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.lanes[t.SessionID] {
		select {
		case ch <- t:
		default:
			slog.Warn("live subscriber full, push dropped", "session_id", t.SessionID, "turn_id", t.ID)
		}
	}
}

// Subscribers reports the number of live subscribers of a session.
func (h *Hub) Subscribers(sessionID types.SessionID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lanes[sessionID])
}
