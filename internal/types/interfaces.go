// internal/types/interfaces.go
package types

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type TurnStore interface {
	// ListTurns returns every turn of the session ordered by id ascending.
	ListTurns(ctx context.Context, sessionID SessionID) ([]StoredTurn, error)
	AppendTurn(ctx context.Context, sessionID SessionID, message json.RawMessage) (*StoredTurn, error)
}

type SourceStore interface {
	ListSources(ctx context.Context, notebookID NotebookID) ([]Source, error)
	GetSource(ctx context.Context, id SourceID) (*Source, error)
}

// Feed delivers newly inserted turns of one session. The channel is closed
// when ctx is cancelled or the underlying connection ends.
type Feed interface {
	Subscribe(ctx context.Context, sessionID SessionID) (<-chan StoredTurn, error)
}

// Answerer hands a question to the answering backend. It returns once the
// backend acknowledged receipt, not when the answer exists.
type Answerer interface {
	SendChatMessage(ctx context.Context, req SendRequest) error
}

type TributeStore interface {
	CreateTribute(ctx context.Context, t *Tribute) (*Tribute, error)
	// ListTributes returns non-deleted tributes newest first and the total count.
	ListTributes(ctx context.Context, limit, offset int) ([]Tribute, int, error)
}
