// internal/types/ids.go
package types

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type SessionKey string
type SessionID string
type NotebookID string
type SourceID string
type TributeID string
type RunID string

// TurnID is the backend's monotonic row id for a stored conversation turn.
type TurnID int64

func (id TurnID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// NewSessionID returns a fresh client-side session id. A new one is
// generated every time a chat view starts.
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewSessionKey(parts ...string) SessionKey {
	return SessionKey(strings.Join(parts, ":"))
}
