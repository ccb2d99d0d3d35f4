package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/user/memorial/internal/types"
)

func TestListTurns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/n8n_chat_histories" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("session_id") != "eq.sess-1" || q.Get("order") != "id.asc" || q.Get("select") != "*" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("apikey") != "anon" || r.Header.Get("Authorization") != "Bearer anon" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		w.Write([]byte(`[{"id":1,"session_id":"sess-1","message":"hi"},{"id":2,"session_id":"sess-1","message":{"type":"ai","content":"x"}}]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "anon")
	turns, err := c.ListTurns(context.Background(), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 || turns[1].ID != 2 || string(turns[0].Message) != `"hi"` {
		t.Errorf("unexpected turns %+v", turns)
	}
}

func TestListSourcesAndGetSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("notebook_id") == "eq.nb":
			if q.Get("order") != "created_at.desc" {
				t.Errorf("unexpected order %q", q.Get("order"))
			}
			w.Write([]byte(`[{"id":"s1","notebook_id":"nb","title":"Bio","type":"pdf","content":"a\nb","processing_status":"completed","created_at":"2024-05-01T10:00:00+00:00"}]`))
		case q.Get("id") == "eq.s1":
			w.Write([]byte(`[{"id":"s1","title":"Bio","type":"pdf"}]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, "anon")
	sources, err := c.ListSources(context.Background(), "nb")
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 1 || !sources[0].IsProcessed() {
		t.Errorf("unexpected sources %+v", sources)
	}
	if _, err := c.GetSource(context.Background(), "s1"); err != nil {
		t.Errorf("GetSource: %v", err)
	}
	if _, err := c.GetSource(context.Background(), "missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSendChatMessage(t *testing.T) {
	var got types.SendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/functions/v1/send-chat-message" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "anon")
	req := types.SendRequest{SessionID: "s", NotebookID: "nb", Message: "Ông là ai?", UserID: "public-user"}
	if err := c.SendChatMessage(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if got != req {
		t.Errorf("got %+v, want %+v", got, req)
	}
}

func TestSendChatMessageError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"n8n unreachable"}`))
	}))
	defer server.Close()

	err := NewClient(server.URL, "anon").SendChatMessage(context.Background(), types.SendRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 500 || apiErr.Message != "n8n unreachable" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestTributes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "service" {
			t.Errorf("expected service key, got %q", r.Header.Get("apikey"))
		}
		switch r.Method {
		case http.MethodPost:
			if r.Header.Get("Prefer") != "return=representation" {
				t.Errorf("unexpected Prefer %q", r.Header.Get("Prefer"))
			}
			var row map[string]any
			json.NewDecoder(r.Body).Decode(&row)
			if row["is_deleted"] != false || row["name"] != "Tưởng nhớ" {
				t.Errorf("unexpected row %v", row)
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`[{"id":12,"name":"Tưởng nhớ","contents":"Kính viếng","is_deleted":false,"created_at":"2024-05-01T20:00:00+00:00"}]`))
		case http.MethodGet:
			q := r.URL.Query()
			if q.Get("limit") != "10" || q.Get("offset") != "20" || q.Get("is_deleted") != "eq.false" {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			w.Header().Set("Content-Range", "20-20/21")
			w.Write([]byte(`[{"id":1,"name":"A"}]`))
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, "anon", WithServiceKey("service"))
	contents := "Kính viếng"
	created, err := c.CreateTribute(context.Background(), &types.Tribute{Name: "Tưởng nhớ", Contents: &contents})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != "12" {
		t.Errorf("expected id 12, got %q", created.ID)
	}

	rows, total, err := c.ListTributes(context.Background(), 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || total != 21 {
		t.Errorf("expected 1 row of 21, got %d of %d", len(rows), total)
	}
}

func TestParseContentRange(t *testing.T) {
	tests := map[string]int{"0-49/123": 123, "*/0": 0, "": 0, "0-1/*": 0}
	for in, want := range tests {
		if got := parseContentRange(in); got != want {
			t.Errorf("parseContentRange(%q) = %d, want %d", in, got, want)
		}
	}
}
