package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeRealtime accepts one channel join and then emits the given frames.
func fakeRealtime(t *testing.T, status string, frames ...string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/v1/websocket" || r.URL.Query().Get("apikey") != "anon" {
			t.Errorf("unexpected websocket url %s", r.URL)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var join phxMessage
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		if join.Event != "phx_join" || join.Topic != "realtime:chat-messages-sess-1" {
			t.Errorf("unexpected join %+v", join)
		}
		if !strings.Contains(string(join.Payload), `"filter":"session_id=eq.sess-1"`) {
			t.Errorf("join payload lacks filter: %s", join.Payload)
		}
		reply, _ := json.Marshal(map[string]any{"status": status, "response": map[string]any{}})
		conn.WriteJSON(phxMessage{Topic: join.Topic, Event: "phx_reply", Payload: reply, Ref: join.Ref})
		for _, f := range frames {
			conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestRealtimeDeliversInserts(t *testing.T) {
	frame := `{"topic":"realtime:chat-messages-sess-1","event":"postgres_changes","ref":null,"payload":{"ids":[1],"data":{"type":"INSERT","table":"n8n_chat_histories","record":{"id":7,"session_id":"sess-1","message":{"type":"human","content":"hi"}}}}}`
	server := fakeRealtime(t, "ok", `{"topic":"phoenix","event":"phx_reply","ref":"99","payload":{}}`, frame)
	defer server.Close()

	rt, err := NewRealtime(server.URL, "anon", WithHeartbeat(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := rt.Subscribe(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	select {
	case turn := <-ch:
		if turn.ID != 7 || turn.SessionID != "sess-1" {
			t.Errorf("unexpected turn %+v", turn)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no insert delivered")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel closed after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestRealtimeJoinRejected(t *testing.T) {
	server := fakeRealtime(t, "error")
	defer server.Close()

	rt, _ := NewRealtime(server.URL, "anon")
	if _, err := rt.Subscribe(context.Background(), "sess-1"); err == nil {
		t.Fatal("expected join error")
	}
}

func TestNewRealtimeURL(t *testing.T) {
	rt, err := NewRealtime("https://abc.supabase.co/", "key")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(rt.wsURL, "wss://abc.supabase.co/realtime/v1/websocket?") || !strings.Contains(rt.wsURL, "vsn=1.0.0") {
		t.Errorf("unexpected url %s", rt.wsURL)
	}
}

func TestDecodeInsertRejectsEmpty(t *testing.T) {
	if _, err := decodeInsert(json.RawMessage(`{"data":{"type":"INSERT"}}`)); err == nil {
		t.Error("expected error for change without record")
	}
}
