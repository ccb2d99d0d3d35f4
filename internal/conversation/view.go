// internal/conversation/view.go
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/user/memorial/internal/types"
)

// View is one subscriber's handle on a cached conversation.
type View struct {
	store   *Store
	e       *entry
	changes chan struct{}
	once    sync.Once
}

func (v *View) Key() Key { return v.e.key }

// Messages returns a copy of the cached list, ascending by id.
func (v *View) Messages() []types.NormalizedMessage {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return slices.Clone(v.e.messages)
}

// Sources returns the most recently fetched source snapshot.
func (v *View) Sources() []types.Source {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return slices.Clone(v.e.sources)
}

func (v *View) IsLoading() bool {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return v.e.loading
}

// Err returns the error of the most recent load, if any.
func (v *View) Err() error {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return v.e.err
}

// Loaded is closed once the initial load has finished, successfully or not.
func (v *View) Loaded() <-chan struct{} { return v.e.loaded }

// Changes receives a value after the list, loading flag or error changed.
// Notifications coalesce. The channel is closed by Close.
func (v *View) Changes() <-chan struct{} { return v.changes }

// SendMessage hands content to the answering backend. It returns when the
// backend acknowledged the question; the answer arrives later as a new turn.
func (v *View) SendMessage(ctx context.Context, content string) error {
	return v.store.send(ctx, v.e.key, content)
}

// Refetch queries the whole conversation again and merges it into the cache.
func (v *View) Refetch(ctx context.Context) error {
	if err := v.store.reload(ctx, v.e); err != nil {
		return fmt.Errorf("refetch conversation: %w", err)
	}
	return nil
}

// RefreshSources re-reads the notebook's sources into the snapshot.
func (v *View) RefreshSources(ctx context.Context) ([]types.Source, error) {
	sources, err := v.store.sources.ListSources(ctx, v.e.key.NotebookID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	v.store.mu.Lock()
	v.e.sources = sources
	v.store.mu.Unlock()
	return slices.Clone(sources), nil
}

// Close releases the view. The last view of a conversation tears down its
// live subscription and discards the cache.
func (v *View) Close() {
	v.once.Do(func() {
		v.store.release(v)
		slog.Debug("conversation view closed", "session_id", v.e.key.SessionID)
	})
}
