package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/memorial/internal/types"
)

// ErrQueueStopped is returned by Enqueue after Stop.
var ErrQueueStopped = errors.New("queue stopped")

// DefaultLaneIdle is how long an empty session lane waits for another
// question before its goroutine exits.
const DefaultLaneIdle = time.Minute

// Queue keeps one FIFO lane per chat session so questions of a session are
// delivered in order, while a weighted semaphore bounds how many deliveries
// run at once across sessions.
type Queue struct {
	lanes     map[types.SessionID]chan *Run
	semaphore *semaphore.Weighted
	processor func(*Run) error
	active    atomic.Int64
	stopped   bool
	laneIdle  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[types.SessionID]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
		laneIdle:  DefaultLaneIdle,
	}
}

// Start must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels in-flight deliveries, closes every lane and waits for the
// lane goroutines to exit.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		for _, lane := range q.lanes {
			close(lane)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue appends run to its session lane, starting the lane on first use.
// Sends happen under q.mu, so a lane that is being reaped never receives.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || q.ctx == nil {
		return ErrQueueStopped
	}
	lane, exists := q.lanes[run.SessionID]
	if !exists {
		lane = make(chan *Run, 100)
		q.lanes[run.SessionID] = lane
		q.wg.Add(1)
		go q.processLane(run.SessionID, lane)
	}

	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("queue full for session %s", run.SessionID)
	}
}

func (q *Queue) processLane(sessionID types.SessionID, lane chan *Run) {
	defer q.wg.Done()
	idle := time.NewTimer(q.laneIdle)
	defer idle.Stop()
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			q.process(run)
			q.semaphore.Release(1)
			idle.Reset(q.laneIdle)
		case <-idle.C:
			if q.reap(sessionID, lane) {
				return
			}
			idle.Reset(q.laneIdle)
		case <-q.ctx.Done():
			return
		}
	}
}

// reap removes an empty lane from the map. It reports false when a run
// arrived in the meantime.
func (q *Queue) reap(sessionID types.SessionID, lane chan *Run) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(lane) > 0 || q.stopped {
		return q.stopped
	}
	if q.lanes[sessionID] == lane {
		delete(q.lanes, sessionID)
	}
	slog.Debug("session lane closed", "session_id", string(sessionID))
	return true
}

// Lanes reports how many session lanes are open.
func (q *Queue) Lanes() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.lanes)
}

func (q *Queue) process(run *Run) {
	q.mu.RLock()
	fn := q.processor
	q.mu.RUnlock()
	if fn == nil {
		return
	}

	q.active.Add(1)
	defer q.active.Add(-1)

	run.Ctx = q.ctx
	run.start()
	err := fn(run)
	run.finish(err)
	if err != nil {
		slog.Error("delivery failed", "run_id", string(run.ID), "session_id", string(run.SessionID), "error", err)
		return
	}
	slog.Debug("delivery complete", "run_id", string(run.ID), "session_id", string(run.SessionID),
		"duration", run.EndedAt.Sub(*run.StartedAt))
}

// WaitIdle blocks until no runs are being processed or the timeout expires.
// It reports whether the queue went idle.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.mu.Lock()
	q.processor = fn
	q.mu.Unlock()
}
