// internal/chat/errors.go
package chat

import "errors"

// Rejections leave the input untouched and show no echo.
var (
	ErrEmptyInput        = errors.New("message is empty")
	ErrNoProcessedSource = errors.New("no source has finished processing")
	ErrSendInFlight      = errors.New("a message is already being sent")
	ErrAnswerPending     = errors.New("waiting for the previous answer")
	ErrQuestionTooLong   = errors.New("question is too long")
)

// ErrAnswerTimeout is surfaced when no answer arrived within the policy's
// answer timeout.
var ErrAnswerTimeout = errors.New("answer timed out")
