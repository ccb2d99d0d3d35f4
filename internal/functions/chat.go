package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/user/memorial/internal/types"
)

// SendChatMessageName is the function the chat clients call to ask a question.
const SendChatMessageName = "send-chat-message"

// SendChatMessage returns the handler that hands a question to answerer.
// Missing user ids default to defaultUser.
func SendChatMessage(answerer types.Answerer, defaultUser string) Handler {
	return func(ctx context.Context, body json.RawMessage) (any, error) {
		var req types.SendRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, &RequestError{Err: fmt.Errorf("decode body: %w", err)}
		}
		req.Message = strings.TrimSpace(req.Message)
		switch {
		case req.SessionID == "":
			return nil, &RequestError{Err: errors.New("session_id is required")}
		case req.NotebookID == "":
			return nil, &RequestError{Err: errors.New("notebook_id is required")}
		case req.Message == "":
			return nil, &RequestError{Err: errors.New("message is required")}
		}
		if req.UserID == "" {
			req.UserID = defaultUser
		}
		if err := answerer.SendChatMessage(ctx, req); err != nil {
			return nil, fmt.Errorf("send chat message: %w", err)
		}
		return map[string]any{"success": true}, nil
	}
}
