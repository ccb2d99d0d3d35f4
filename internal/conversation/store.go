// internal/conversation/store.go
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/user/memorial/internal/transform"
	"github.com/user/memorial/internal/types"
)

// DefaultUserID is sent with questions when no user identity is configured.
const DefaultUserID = "public-user"

// Key identifies one cached conversation.
type Key struct {
	SessionID  types.SessionID
	NotebookID types.NotebookID
}

// Store caches the ordered message list of every subscribed conversation
// and keeps it current from the live feed.
type Store struct {
	turns    types.TurnStore
	sources  types.SourceStore
	feed     types.Feed
	answerer types.Answerer
	userID   string

	mu      sync.Mutex
	entries map[Key]*entry
}

type Option func(*Store)

// WithUserID sets the user id attached to delivered questions.
func WithUserID(id string) Option {
	return func(s *Store) {
		if id != "" {
			s.userID = id
		}
	}
}

// New creates a Store. feed may be nil, in which case messages only
// arrive through Refetch.
func New(turns types.TurnStore, sources types.SourceStore, feed types.Feed, answerer types.Answerer, opts ...Option) *Store {
	s := &Store{
		turns:    turns,
		sources:  sources,
		feed:     feed,
		answerer: answerer,
		userID:   DefaultUserID,
		entries:  make(map[Key]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// entry is the shared state of one conversation. All fields are guarded by
// Store.mu.
type entry struct {
	key      Key
	refs     int
	messages []types.NormalizedMessage
	sources  []types.Source
	loading  bool
	err      error
	watchers map[chan struct{}]struct{}

	loaded chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// Subscribe returns a view of the conversation, starting the initial load
// and the live subscription when this is the first view of the key.
func (s *Store) Subscribe(ctx context.Context, sessionID types.SessionID, notebookID types.NotebookID) (*View, error) {
	if sessionID == "" {
		return nil, ErrMissingSession
	}
	if notebookID == "" {
		return nil, ErrMissingNotebook
	}
	key := Key{SessionID: sessionID, NotebookID: notebookID}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		lifeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		e = &entry{
			key:      key,
			loading:  true,
			watchers: make(map[chan struct{}]struct{}),
			loaded:   make(chan struct{}),
			cancel:   cancel,
			done:     make(chan struct{}),
		}
		s.entries[key] = e
		go s.run(lifeCtx, e)
	}
	e.refs++

	v := &View{store: s, e: e, changes: make(chan struct{}, 1)}
	e.watchers[v.changes] = struct{}{}
	return v, nil
}

// run owns the live subscription of one entry for its whole lifetime.
func (s *Store) run(ctx context.Context, e *entry) {
	defer close(e.done)

	var pushes <-chan types.StoredTurn
	if s.feed != nil {
		ch, err := s.feed.Subscribe(ctx, e.key.SessionID)
		if err != nil {
			slog.Warn("live feed unavailable, relying on refetch", "session_id", e.key.SessionID, "error", err)
		} else {
			pushes = ch
		}
	}

	err := s.reload(ctx, e)
	s.mu.Lock()
	e.loading = false
	close(e.loaded)
	s.notifyLocked(e)
	s.mu.Unlock()
	if err != nil {
		slog.Warn("initial conversation load failed", "session_id", e.key.SessionID, "error", err)
	}

	if pushes == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-pushes:
			if !ok {
				return
			}
			s.handlePush(ctx, e, t)
		}
	}
}

// handlePush transforms a pushed row against a fresh source snapshot and
// merges it into the cache.
func (s *Store) handlePush(ctx context.Context, e *entry, t types.StoredTurn) {
	if t.SessionID != "" && t.SessionID != e.key.SessionID {
		return
	}
	sources, err := s.sources.ListSources(ctx, e.key.NotebookID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		slog.Warn("refresh sources for pushed turn", "session_id", e.key.SessionID, "error", err)
		sources = e.sources
	} else {
		e.sources = sources
	}
	msg := transform.Transform(t, transform.NewSourceMap(sources))
	before := len(e.messages)
	e.messages = Merge(e.messages, msg)
	if len(e.messages) != before {
		s.notifyLocked(e)
	}
}

// reload queries the full conversation and merges it into the cache. Rows
// pruned upstream by retention stay in the cache until the view is closed.
func (s *Store) reload(ctx context.Context, e *entry) error {
	msgs, sources, err := Load(ctx, s.turns, s.sources, e.key.SessionID, e.key.NotebookID)

	s.mu.Lock()
	defer s.mu.Unlock()
	e.err = err
	if err != nil {
		s.notifyLocked(e)
		return err
	}
	e.sources = sources
	e.messages = MergeAll(e.messages, msgs)
	s.notifyLocked(e)
	return nil
}

func (s *Store) notifyLocked(e *entry) {
	for ch := range e.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) release(v *View) {
	s.mu.Lock()
	e := v.e
	delete(e.watchers, v.changes)
	close(v.changes)
	e.refs--
	last := e.refs == 0
	if last && s.entries[e.key] == e {
		delete(s.entries, e.key)
	}
	s.mu.Unlock()

	if last {
		e.cancel()
		<-e.done
	}
}

func (s *Store) send(ctx context.Context, key Key, content string) error {
	req := types.SendRequest{
		SessionID:  key.SessionID,
		NotebookID: key.NotebookID,
		Message:    content,
		UserID:     s.userID,
	}
	if err := s.answerer.SendChatMessage(ctx, req); err != nil {
		return &DeliveryError{SessionID: key.SessionID, Err: err}
	}
	return nil
}

// Load fetches and transforms a whole conversation once. Turns and sources
// are queried concurrently.
func Load(ctx context.Context, turns types.TurnStore, sources types.SourceStore, sessionID types.SessionID, notebookID types.NotebookID) ([]types.NormalizedMessage, []types.Source, error) {
	var (
		rows []types.StoredTurn
		srcs []types.Source
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = turns.ListTurns(gctx, sessionID)
		if err != nil {
			return fmt.Errorf("list turns: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		srcs, err = sources.ListSources(gctx, notebookID)
		if err != nil {
			return fmt.Errorf("list sources: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return transform.TransformAll(rows, srcs), srcs, nil
}
