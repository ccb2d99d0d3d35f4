// internal/conversation/errors.go
package conversation

import (
	"errors"
	"fmt"

	"github.com/user/memorial/internal/types"
)

var (
	ErrMissingSession  = errors.New("session id is required")
	ErrMissingNotebook = errors.New("notebook id is required")
)

// DeliveryError reports that the answering backend did not acknowledge a
// question. The user has to resend.
type DeliveryError struct {
	SessionID types.SessionID
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver message for session %s: %v", e.SessionID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
