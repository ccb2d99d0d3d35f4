package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/user/memorial/internal/conversation"
	"github.com/user/memorial/internal/testutil"
	"github.com/user/memorial/internal/tokens"
	"github.com/user/memorial/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// The tokenizer downloads its vocabulary once; keep-alive connections outlive the tests.
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

type fakeConv struct {
	mu        sync.Mutex
	msgs      []types.NormalizedMessage
	sources   []types.Source
	sendErr   error
	sendGate  chan struct{}
	sent      []string
	refetches int
	onRefetch func(f *fakeConv)
	changes   chan struct{}
}

func newFakeConv(processed bool) *fakeConv {
	f := &fakeConv{changes: make(chan struct{}, 1)}
	if processed {
		f.sources = []types.Source{testutil.ProcessedSource("s1", "nb", "Bio", "text")}
	}
	return f
}

func (f *fakeConv) Messages() []types.NormalizedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.NormalizedMessage(nil), f.msgs...)
}

func (f *fakeConv) Sources() []types.Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources
}

func (f *fakeConv) RefreshSources(context.Context) ([]types.Source, error) {
	return f.Sources(), nil
}

func (f *fakeConv) SendMessage(_ context.Context, content string) error {
	if f.sendGate != nil {
		<-f.sendGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, content)
	return nil
}

func (f *fakeConv) Refetch(context.Context) error {
	f.mu.Lock()
	f.refetches++
	hook := f.onRefetch
	f.mu.Unlock()
	if hook != nil {
		hook(f)
	}
	return nil
}

func (f *fakeConv) Changes() <-chan struct{} { return f.changes }

// add appends n messages without notifying, as a missed push would.
func (f *fakeConv) add(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.msgs = append(f.msgs, types.NormalizedMessage{ID: types.TurnID(len(f.msgs) + 1)})
	}
}

func (f *fakeConv) push(n int) {
	f.add(n)
	select {
	case f.changes <- struct{}{}:
	default:
	}
}

func (f *fakeConv) refetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refetches
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) observe(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) anyTyping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.snaps {
		if s.Typing {
			return true
		}
	}
	return false
}

func fastPolicy() *RefetchPolicy {
	return &RefetchPolicy{
		Delays:        []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond},
		AnswerTimeout: 150 * time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRejectWithoutProcessedSource(t *testing.T) {
	conv := newFakeConv(false)
	s := NewSession(conv, WithPolicy(fastPolicy()))
	defer s.Close()

	s.SetInput("Ông sinh năm nào?")
	err := s.Submit(context.Background(), "")
	if !errors.Is(err, ErrNoProcessedSource) {
		t.Fatalf("expected ErrNoProcessedSource, got %v", err)
	}
	snap := s.Snapshot()
	if snap.Input != "Ông sinh năm nào?" {
		t.Errorf("expected input retained, got %q", snap.Input)
	}
	if snap.Pending != "" || snap.State != Idle {
		t.Errorf("expected no echo and idle, got %+v", snap)
	}
	if len(conv.sent) != 0 {
		t.Error("expected nothing delivered")
	}
}

func TestRejectEmptyInput(t *testing.T) {
	s := NewSession(newFakeConv(true))
	defer s.Close()

	s.SetInput("   ")
	if err := s.Submit(context.Background(), ""); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func TestDeliveryFailureRestoresInput(t *testing.T) {
	conv := newFakeConv(true)
	conv.sendErr = errors.New("function unreachable")
	rec := &recorder{}
	s := NewSession(conv, WithPolicy(fastPolicy()), WithObserver(rec.observe))
	defer s.Close()

	s.SetInput("Ông sinh năm nào?")
	err := s.Submit(context.Background(), "")
	if err == nil {
		t.Fatal("expected delivery error")
	}
	snap := s.Snapshot()
	if snap.Input != "Ông sinh năm nào?" {
		t.Errorf("expected input restored, got %q", snap.Input)
	}
	if snap.Pending != "" || snap.Typing || snap.State != Idle {
		t.Errorf("expected echo cleared, no typing, idle; got %+v", snap)
	}
	if !errors.Is(snap.Err, conv.sendErr) {
		t.Errorf("expected error surfaced, got %v", snap.Err)
	}
	if rec.anyTyping() {
		t.Error("typing indicator shown for a failed delivery")
	}
}

func TestAnswerViaLivePush(t *testing.T) {
	conv := newFakeConv(true)
	s := NewSession(conv, WithPolicy(&RefetchPolicy{Delays: []time.Duration{time.Hour}}))
	defer s.Close()

	if err := s.Submit(context.Background(), "Câu hỏi"); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if snap.State != AwaitingAnswer || !snap.Typing || snap.Pending != "Câu hỏi" || snap.Input != "" {
		t.Fatalf("unexpected snapshot after send: %+v", snap)
	}

	conv.push(2)
	waitFor(t, "answer", func() bool {
		snap := s.Snapshot()
		return snap.State == Idle && !snap.Typing && snap.Pending == ""
	})
}

func TestAnswerViaScheduledRefetch(t *testing.T) {
	conv := newFakeConv(true)
	conv.onRefetch = func(f *fakeConv) {
		if f.refetchCount() == 2 {
			f.push(2)
		}
	}
	s := NewSession(conv, WithPolicy(fastPolicy()))
	defer s.Close()

	if err := s.Submit(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "answer via refetch", func() bool { return s.Snapshot().State == Idle })
	if s.Snapshot().Err != nil {
		t.Errorf("unexpected error %v", s.Snapshot().Err)
	}
}

func TestAnswerFoundByRefetchWithoutNotification(t *testing.T) {
	conv := newFakeConv(true)
	conv.onRefetch = func(f *fakeConv) {
		if f.refetchCount() == 1 {
			f.add(2)
		}
	}
	s := NewSession(conv, WithPolicy(fastPolicy()))
	defer s.Close()

	if err := s.Submit(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "answer via refetch", func() bool { return s.Snapshot().State == Idle })
}

func TestRejectWhileAnswerPending(t *testing.T) {
	conv := newFakeConv(true)
	s := NewSession(conv, WithPolicy(&RefetchPolicy{Delays: []time.Duration{time.Hour}}))
	defer s.Close()

	if err := s.Submit(context.Background(), "first"); err != nil {
		t.Fatal(err)
	}
	s.SetInput("second")
	if err := s.Submit(context.Background(), ""); !errors.Is(err, ErrAnswerPending) {
		t.Errorf("expected ErrAnswerPending, got %v", err)
	}
	if s.Snapshot().Input != "second" {
		t.Error("expected rejected input retained")
	}
}

func TestRejectWhileSending(t *testing.T) {
	conv := newFakeConv(true)
	conv.sendGate = make(chan struct{})
	s := NewSession(conv, WithPolicy(&RefetchPolicy{Delays: []time.Duration{time.Hour}}))
	defer s.Close()

	errc := make(chan error, 1)
	go func() { errc <- s.Submit(context.Background(), "first") }()
	waitFor(t, "sending state", func() bool { return s.Snapshot().State == Sending })

	if err := s.Submit(context.Background(), "second"); !errors.Is(err, ErrSendInFlight) {
		t.Errorf("expected ErrSendInFlight, got %v", err)
	}
	close(conv.sendGate)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
}

func TestAnswerTimeout(t *testing.T) {
	conv := newFakeConv(true)
	s := NewSession(conv, WithPolicy(fastPolicy()))
	defer s.Close()

	if err := s.Submit(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "timeout", func() bool { return errors.Is(s.Snapshot().Err, ErrAnswerTimeout) })
	snap := s.Snapshot()
	if snap.State != Idle || snap.Typing || snap.Pending != "" {
		t.Errorf("expected idle without echo or typing, got %+v", snap)
	}
	if n := conv.refetchCount(); n != 3 {
		t.Errorf("expected 3 refetches, got %d", n)
	}

	if err := s.Submit(context.Background(), "again"); err != nil {
		t.Errorf("expected new question accepted after timeout, got %v", err)
	}
}

func TestCloseCancelsScheduledRefetches(t *testing.T) {
	conv := newFakeConv(true)
	s := NewSession(conv, WithPolicy(fastPolicy()))

	if err := s.Submit(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	s.Close()
	time.Sleep(100 * time.Millisecond)
	if n := conv.refetchCount(); n != 0 {
		t.Errorf("expected no refetch after close, got %d", n)
	}
}

func TestQuestionTooLong(t *testing.T) {
	counter, err := tokens.NewCounter("")
	if err != nil {
		t.Fatal(err)
	}
	conv := newFakeConv(true)
	s := NewSession(conv, WithBudget(tokens.NewBudget(counter, 5)))
	defer s.Close()

	err = s.Submit(context.Background(), strings.Repeat("kỷ niệm ", 40))
	if !errors.Is(err, ErrQuestionTooLong) {
		t.Fatalf("expected ErrQuestionTooLong, got %v", err)
	}
	if s.Snapshot().Pending != "" {
		t.Error("expected no echo for rejected question")
	}
}

func TestSessionOverConversationStore(t *testing.T) {
	const (
		sessionID  types.SessionID  = "sess"
		notebookID types.NotebookID = "nb"
	)
	b := testutil.NewBackend()
	b.AddSource(testutil.ProcessedSource("src", notebookID, "Hồi ký", "a\nb\nc"))
	b.OnSend(func(req types.SendRequest) {
		go func() {
			b.AppendTurn(context.Background(), req.SessionID, []byte(testutil.HumanJSON(req.Message)))
			b.AppendTurn(context.Background(), req.SessionID, []byte(testutil.AnswerJSON("Trả lời", "src", 1, 2)))
		}()
	})

	store := conversation.New(b, b, b, b)
	view, err := store.Subscribe(context.Background(), sessionID, notebookID)
	if err != nil {
		t.Fatal(err)
	}
	defer view.Close()
	<-view.Loaded()

	s := NewSession(view, WithPolicy(fastPolicy()))
	defer s.Close()

	if err := s.Submit(context.Background(), "Ông là ai?"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "answer", func() bool {
		snap := s.Snapshot()
		return snap.State == Idle && len(snap.Messages) == 2
	})
	if got := b.Sent()[0].UserID; got != conversation.DefaultUserID {
		t.Errorf("expected default user id, got %q", got)
	}
}

func TestRefetchesFollowPolicyAttempts(t *testing.T) {
	conv := newFakeConv(true)
	policy := &RefetchPolicy{
		Delays:        []time.Duration{5 * time.Millisecond, 10 * time.Millisecond},
		AnswerTimeout: time.Second,
	}
	s := NewSession(conv, WithPolicy(policy))
	defer s.Close()

	if err := s.Submit(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "scheduled refetches", func() bool { return conv.refetchCount() == policy.MaxAttempts() })
	time.Sleep(50 * time.Millisecond)
	if n := conv.refetchCount(); n != policy.MaxAttempts() {
		t.Errorf("expected %d refetches, got %d", policy.MaxAttempts(), n)
	}
	if s.Snapshot().State != AwaitingAnswer {
		t.Errorf("expected to keep awaiting until the timeout, got %v", s.Snapshot().State)
	}
}
