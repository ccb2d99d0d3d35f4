// Package testutil provides an in-memory backend for exercising the chat
// pipeline without a database.
package testutil

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/user/memorial/internal/types"
)

// Backend is an in-memory TurnStore, SourceStore, Feed and Answerer.
type Backend struct {
	mu      sync.Mutex
	nextID  types.TurnID
	turns   []types.StoredTurn
	sources map[types.NotebookID][]types.Source
	subs    map[types.SessionID]map[chan types.StoredTurn]struct{}
	sent    []types.SendRequest

	sendErr   error
	listErr   error
	onSend    func(types.SendRequest)
	sourceErr error
}

var (
	_ types.TurnStore   = (*Backend)(nil)
	_ types.SourceStore = (*Backend)(nil)
	_ types.Feed        = (*Backend)(nil)
	_ types.Answerer    = (*Backend)(nil)
)

func NewBackend() *Backend {
	return &Backend{
		sources: make(map[types.NotebookID][]types.Source),
		subs:    make(map[types.SessionID]map[chan types.StoredTurn]struct{}),
	}
}

// ProcessedSource returns a completed source with the given content.
func ProcessedSource(id types.SourceID, notebook types.NotebookID, title, content string) types.Source {
	status := types.StatusCompleted
	return types.Source{
		ID:               id,
		NotebookID:       notebook,
		Title:            title,
		Type:             types.SourceTypeText,
		Content:          &content,
		ProcessingStatus: &status,
	}
}

func (b *Backend) AddSource(s types.Source) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sources[s.NotebookID] = append(b.sources[s.NotebookID], s)
}

func (b *Backend) ListSources(_ context.Context, notebookID types.NotebookID) ([]types.Source, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sourceErr != nil {
		return nil, b.sourceErr
	}
	return slices.Clone(b.sources[notebookID]), nil
}

func (b *Backend) GetSource(_ context.Context, id types.SourceID) (*types.Source, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, list := range b.sources {
		for _, s := range list {
			if s.ID == id {
				s := s
				return &s, nil
			}
		}
	}
	return nil, types.ErrNotFound
}

func (b *Backend) ListTurns(_ context.Context, sessionID types.SessionID) ([]types.StoredTurn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	var out []types.StoredTurn
	for _, t := range b.turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

// AppendTurn stores a turn and pushes it to live subscribers.
func (b *Backend) AppendTurn(_ context.Context, sessionID types.SessionID, message json.RawMessage) (*types.StoredTurn, error) {
	t := b.store(sessionID, message)
	b.Publish(t)
	return &t, nil
}

// AppendSilently stores a turn without notifying subscribers, as if the
// push had been lost.
func (b *Backend) AppendSilently(sessionID types.SessionID, message string) types.StoredTurn {
	return b.store(sessionID, json.RawMessage(message))
}

func (b *Backend) store(sessionID types.SessionID, message json.RawMessage) types.StoredTurn {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	t := types.StoredTurn{ID: b.nextID, SessionID: sessionID, Message: message}
	b.turns = append(b.turns, t)
	return t
}

// DropTurns removes every stored turn of sessionID, as a retention sweep
// would.
func (b *Backend) DropTurns(sessionID types.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = slices.DeleteFunc(b.turns, func(t types.StoredTurn) bool { return t.SessionID == sessionID })
}

// Publish delivers t to live subscribers of its session without storing it.
func (b *Backend) Publish(t types.StoredTurn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[t.SessionID] {
		select {
		case ch <- t:
		default:
		}
	}
}

func (b *Backend) Subscribe(ctx context.Context, sessionID types.SessionID) (<-chan types.StoredTurn, error) {
	ch := make(chan types.StoredTurn, 16)
	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan types.StoredTurn]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[sessionID], ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// Subscribers reports the number of live subscriptions for a session.
func (b *Backend) Subscribers(sessionID types.SessionID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}

func (b *Backend) SendChatMessage(_ context.Context, req types.SendRequest) error {
	b.mu.Lock()
	err := b.sendErr
	hook := b.onSend
	if err == nil {
		b.sent = append(b.sent, req)
	}
	b.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(req)
	}
	return nil
}

func (b *Backend) Sent() []types.SendRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.sent)
}

func (b *Backend) SetSendErr(err error) {
	b.mu.Lock()
	b.sendErr = err
	b.mu.Unlock()
}

func (b *Backend) SetListErr(err error) {
	b.mu.Lock()
	b.listErr = err
	b.mu.Unlock()
}

func (b *Backend) SetSourceErr(err error) {
	b.mu.Lock()
	b.sourceErr = err
	b.mu.Unlock()
}

// OnSend registers a hook run after each acknowledged question.
func (b *Backend) OnSend(fn func(types.SendRequest)) {
	b.mu.Lock()
	b.onSend = fn
	b.mu.Unlock()
}

// AnswerJSON builds the stored form of an AI answer with one cited segment.
func AnswerJSON(text string, sourceID types.SourceID, from, to int) string {
	payload, _ := json.Marshal(map[string]any{"output": []any{
		map[string]any{"text": text, "citations": []any{
			map[string]any{"chunk_source_id": sourceID, "chunk_lines_from": from, "chunk_lines_to": to, "chunk_index": 0},
		}},
	}})
	msg, _ := json.Marshal(map[string]any{"type": "ai", "content": string(payload)})
	return string(msg)
}

// HumanJSON builds the stored form of a question.
func HumanJSON(text string) string {
	msg, _ := json.Marshal(map[string]any{"type": "human", "content": text})
	return string(msg)
}
