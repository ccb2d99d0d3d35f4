package gateway

import (
	"context"
	"time"

	"github.com/user/memorial/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks the delivery of one question to the answer pipeline.
type Run struct {
	ID        types.RunID
	SessionID types.SessionID
	Request   types.SendRequest
	Status    RunStatus
	Attempts  int
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Error     error
	Ctx       context.Context
}

func NewRun(req types.SendRequest) *Run {
	return &Run{
		ID:        types.NewRunID(),
		SessionID: req.SessionID,
		Request:   req,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}

func (r *Run) start() {
	now := time.Now()
	r.StartedAt = &now
	r.Status = RunStatusRunning
}

func (r *Run) finish(err error) {
	now := time.Now()
	r.EndedAt = &now
	r.Error = err
	if err != nil {
		r.Status = RunStatusFailed
		return
	}
	r.Status = RunStatusComplete
}
