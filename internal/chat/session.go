// internal/chat/session.go
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/memorial/internal/tokens"
	"github.com/user/memorial/internal/types"
)

type State int

const (
	Idle State = iota
	Sending
	AwaitingAnswer
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case AwaitingAnswer:
		return "awaiting_answer"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Conversation is the message cache a Session drives. *conversation.View
// implements it.
type Conversation interface {
	Messages() []types.NormalizedMessage
	Sources() []types.Source
	RefreshSources(ctx context.Context) ([]types.Source, error)
	SendMessage(ctx context.Context, content string) error
	Refetch(ctx context.Context) error
	Changes() <-chan struct{}
}

// Snapshot is what a chat surface renders.
type Snapshot struct {
	State    State
	Input    string
	Pending  string // optimistic echo of the question in flight
	Typing   bool
	Err      error
	Messages []types.NormalizedMessage
}

// Session runs the send/await handshake for one conversation: it echoes a
// question optimistically, delivers it, and waits for the answer to land
// in the conversation.
type Session struct {
	conv     Conversation
	policy   *RefetchPolicy
	budget   *tokens.Budget
	onChange func(Snapshot)

	mu        sync.Mutex
	pubMu     sync.Mutex
	state     State
	input     string
	pending   string
	typing    bool
	err       error
	lastCount int
	gen       int
	timers    []*time.Timer

	ctx     context.Context
	cancel  context.CancelFunc
	timerWG sync.WaitGroup
	done    chan struct{}
}

type Option func(*Session)

func WithPolicy(p *RefetchPolicy) Option {
	return func(s *Session) { s.policy = p.withDefaults() }
}

// WithBudget rejects questions over the budget's token limit.
func WithBudget(b *tokens.Budget) Option {
	return func(s *Session) { s.budget = b }
}

// WithObserver registers fn to receive every state change in order. fn
// must not call back into the Session.
func WithObserver(fn func(Snapshot)) Option {
	return func(s *Session) { s.onChange = fn }
}

// NewSession starts watching conv. Close must be called to release it.
func NewSession(conv Conversation, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conv:   conv,
		policy: DefaultRefetchPolicy(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastCount = len(conv.Messages())
	go s.watch()
	return s
}

func (s *Session) watch() {
	defer close(s.done)
	changes := s.conv.Changes()
	for {
		select {
		case <-s.ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			s.mu.Lock()
			s.observeLocked()
			s.publishLocked()
		}
	}
}

// observeLocked compares the message count with the last observed count.
// Growth while awaiting means the answer arrived.
func (s *Session) observeLocked() {
	if s.state == Sending {
		return
	}
	n := len(s.conv.Messages())
	if s.state == AwaitingAnswer && n > s.lastCount {
		s.pending = ""
		s.typing = false
		s.state = Idle
		slog.Debug("answer arrived", "messages", n)
	}
	s.lastCount = n
}

// publishLocked releases s.mu and hands the snapshot to the observer.
func (s *Session) publishLocked() {
	snap := s.snapshotLocked()
	s.pubMu.Lock()
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(snap)
	}
	s.pubMu.Unlock()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:    s.state,
		Input:    s.input,
		Pending:  s.pending,
		Typing:   s.typing,
		Err:      s.err,
		Messages: s.conv.Messages(),
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) SetInput(text string) {
	s.mu.Lock()
	s.input = text
	s.publishLocked()
}

// Submit sends text, or the current input when text is empty. Rejected
// questions keep the input as it was.
func (s *Session) Submit(ctx context.Context, text string) error {
	s.mu.Lock()
	if text == "" {
		text = s.input
	}
	question := strings.TrimSpace(text)
	if err := s.admitLocked(question); err != nil {
		return s.rejectLocked(err)
	}
	s.mu.Unlock()

	if err := s.checkSources(ctx); err != nil {
		s.mu.Lock()
		return s.rejectLocked(err)
	}
	if n, ok := s.budget.Check(question); !ok {
		s.mu.Lock()
		return s.rejectLocked(fmt.Errorf("%w: %d tokens, limit %d", ErrQuestionTooLong, n, s.budget.Limit()))
	}

	s.mu.Lock()
	if err := s.admitLocked(question); err != nil {
		return s.rejectLocked(err)
	}
	s.state = Sending
	s.pending = question
	s.input = ""
	s.err = nil
	s.lastCount = len(s.conv.Messages())
	s.gen++
	gen := s.gen
	s.publishLocked()

	if err := s.conv.SendMessage(ctx, question); err != nil {
		s.mu.Lock()
		s.state = Idle
		s.pending = ""
		s.typing = false
		s.input = question
		s.err = err
		s.publishLocked()
		slog.Warn("question delivery failed", "error", err)
		return err
	}

	s.mu.Lock()
	s.state = AwaitingAnswer
	s.typing = true
	s.scheduleLocked(gen)
	s.observeLocked()
	s.publishLocked()
	return nil
}

func (s *Session) admitLocked(question string) error {
	switch {
	case question == "":
		return ErrEmptyInput
	case s.state == Sending:
		return ErrSendInFlight
	case s.pending != "" || s.state == AwaitingAnswer:
		return ErrAnswerPending
	}
	return nil
}

func (s *Session) rejectLocked(err error) error {
	s.err = err
	s.publishLocked()
	return err
}

// checkSources accepts when a processed source is known, re-reading the
// sources once in case processing finished since the last snapshot.
func (s *Session) checkSources(ctx context.Context) error {
	if types.HasProcessedSource(s.conv.Sources()) {
		return nil
	}
	sources, err := s.conv.RefreshSources(ctx)
	if err != nil {
		slog.Warn("refresh sources before send", "error", err)
		return ErrNoProcessedSource
	}
	if !types.HasProcessedSource(sources) {
		return ErrNoProcessedSource
	}
	return nil
}

func (s *Session) scheduleLocked(gen int) {
	if s.ctx.Err() != nil {
		return
	}
	for _, t := range s.timers {
		if t.Stop() {
			s.timerWG.Done()
		}
	}
	s.timers = s.timers[:0]
	for attempt := 1; attempt <= s.policy.MaxAttempts(); attempt++ {
		d, _ := s.policy.Delay(attempt)
		s.timerWG.Add(1)
		s.timers = append(s.timers, time.AfterFunc(d, func() {
			defer s.timerWG.Done()
			s.refetch(attempt)
		}))
	}
	if s.policy.AnswerTimeout > 0 {
		s.timerWG.Add(1)
		s.timers = append(s.timers, time.AfterFunc(s.policy.AnswerTimeout, func() {
			defer s.timerWG.Done()
			s.expire(gen)
		}))
	}
}

func (s *Session) refetch(attempt int) {
	if s.ctx.Err() != nil {
		return
	}
	if err := s.conv.Refetch(s.ctx); err != nil {
		slog.Warn("scheduled refetch failed", "attempt", attempt, "of", s.policy.MaxAttempts(), "error", err)
		return
	}
	s.mu.Lock()
	s.observeLocked()
	s.publishLocked()
}

func (s *Session) expire(gen int) {
	s.mu.Lock()
	if s.gen != gen || s.state != AwaitingAnswer || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.state = Idle
	s.pending = ""
	s.typing = false
	s.err = ErrAnswerTimeout
	s.publishLocked()
	slog.Warn("answer did not arrive", "timeout", s.policy.AnswerTimeout)
}

// Close stops scheduled refetches and the timeout, and stops watching the
// conversation. It does not close the conversation.
func (s *Session) Close() {
	s.cancel()
	s.mu.Lock()
	for _, t := range s.timers {
		if t.Stop() {
			s.timerWG.Done()
		}
	}
	s.timers = nil
	s.mu.Unlock()
	s.timerWG.Wait()
	<-s.done
}
