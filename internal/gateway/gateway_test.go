package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/memorial/internal/testutil"
	"github.com/user/memorial/internal/types"
)

func newTestGateway(t *testing.T, backend *testutil.Backend, url string, opts ...Option) *Gateway {
	t.Helper()
	opts = append([]Option{WithRetryPolicy(&RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   1.0,
		MaxDelay:     time.Millisecond,
	})}, opts...)
	gw := New(backend, url, opts...)
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)
	return gw
}

func waitTurns(t *testing.T, backend *testutil.Backend, sid types.SessionID, n int) []types.StoredTurn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		turns, _ := backend.ListTurns(context.Background(), sid)
		if len(turns) >= n {
			return turns
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d turns for %s", n, sid)
	return nil
}

func TestGatewayHandleInboundValidates(t *testing.T) {
	gw := newTestGateway(t, testutil.NewBackend(), "http://example.invalid/hook")
	ctx := context.Background()

	cases := []struct {
		req  types.SendRequest
		want error
	}{
		{types.SendRequest{NotebookID: "nb", Message: "hi"}, ErrMissingSession},
		{types.SendRequest{SessionID: "s", Message: "hi"}, ErrMissingNotebook},
		{types.SendRequest{SessionID: "s", NotebookID: "nb"}, ErrEmptyMessage},
	}
	for _, tc := range cases {
		if err := gw.HandleInbound(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Errorf("HandleInbound(%+v) = %v, want %v", tc.req, err, tc.want)
		}
	}
}

func TestGatewayWithoutWebhook(t *testing.T) {
	gw := newTestGateway(t, testutil.NewBackend(), "")
	err := gw.SendChatMessage(context.Background(), types.SendRequest{SessionID: "s", NotebookID: "nb", Message: "hi"})
	if !errors.Is(err, ErrNoWebhook) {
		t.Fatalf("expected ErrNoWebhook, got %v", err)
	}
}

func TestGatewayStoresInlineAnswer(t *testing.T) {
	answer := `{"output":[{"text":"Ông sinh năm 1920.","citations":[]}]}`
	received := make(chan types.SendRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got types.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		received <- got
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, answer)
	}))
	defer srv.Close()

	backend := testutil.NewBackend()
	gw := newTestGateway(t, backend, srv.URL)
	req := types.SendRequest{SessionID: "s1", NotebookID: "nb", Message: "Ông sinh năm nào?", UserID: "public-user"}
	if err := gw.SendChatMessage(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	turns := waitTurns(t, backend, "s1", 2)
	if got := <-received; got != req {
		t.Errorf("webhook received %+v, want %+v", got, req)
	}

	var human, ai map[string]any
	if err := json.Unmarshal(turns[0].Message, &human); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(turns[1].Message, &ai); err != nil {
		t.Fatal(err)
	}
	if human["type"] != "human" || human["content"] != req.Message {
		t.Errorf("unexpected human turn: %v", human)
	}
	if ai["type"] != "ai" || ai["content"] != answer {
		t.Errorf("unexpected ai turn: %v", ai)
	}
}

func TestGatewayPipelineWritesItself(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, `{"message":"Workflow was started"}`)
	}))
	defer srv.Close()

	backend := testutil.NewBackend()
	gw := newTestGateway(t, backend, srv.URL)
	if err := gw.SendChatMessage(context.Background(), types.SendRequest{SessionID: "s", NotebookID: "nb", Message: "hi"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !gw.Queue.WaitIdle(time.Second) {
		t.Fatal("queue did not go idle")
	}
	turns, _ := backend.ListTurns(context.Background(), "s")
	if len(turns) != 0 {
		t.Errorf("expected no stored turns, got %d", len(turns))
	}
}

func TestGatewayRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"output":[]}`)
	}))
	defer srv.Close()

	backend := testutil.NewBackend()
	gw := newTestGateway(t, backend, srv.URL)
	if err := gw.SendChatMessage(context.Background(), types.SendRequest{SessionID: "s", NotebookID: "nb", Message: "hi"}); err != nil {
		t.Fatal(err)
	}

	waitTurns(t, backend, "s", 2)
	if n := calls.Load(); n != 3 {
		t.Errorf("expected 3 webhook calls, got %d", n)
	}
}

func TestGatewaySessionsAreIndependent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"output":[{"text":"ok"}]}`)
	}))
	defer srv.Close()

	backend := testutil.NewBackend()
	gw := newTestGateway(t, backend, srv.URL, WithMaxConcurrent(2))
	for _, sid := range []types.SessionID{"a", "b", "a"} {
		if err := gw.SendChatMessage(context.Background(), types.SendRequest{SessionID: sid, NotebookID: "nb", Message: "hi"}); err != nil {
			t.Fatal(err)
		}
	}

	waitTurns(t, backend, "a", 4)
	waitTurns(t, backend, "b", 2)
}
