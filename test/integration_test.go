//go:build integration

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/memorial/internal/chat"
	"github.com/user/memorial/internal/citation"
	"github.com/user/memorial/internal/conversation"
	"github.com/user/memorial/internal/gateway"
	"github.com/user/memorial/internal/render"
	"github.com/user/memorial/internal/server"
	"github.com/user/memorial/internal/state"
	"github.com/user/memorial/internal/types"
)

const notebook types.NotebookID = "nb-1"

func openDB(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "memorial.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	content := "Born in Hue.\nTaught literature for forty years.\nWrote three books.\nRetired in 1995."
	status := types.StatusCompleted
	if err := db.PutSource(context.Background(), &types.Source{
		ID:               "src-1",
		NotebookID:       notebook,
		Title:            "Biography",
		Type:             types.SourceTypeText,
		Content:          &content,
		ProcessingStatus: &status,
	}); err != nil {
		t.Fatal(err)
	}
	return db
}

// answerWebhook replies inline with one cited paragraph.
func answerWebhook(t *testing.T, calls *atomic.Int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req types.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"output": []any{
			map[string]any{
				"text": "They taught literature and wrote three books.",
				"citations": []any{map[string]any{
					"chunk_source_id":  "src-1",
					"chunk_index":      0,
					"chunk_lines_from": 2,
					"chunk_lines_to":   3,
				}},
			},
		}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEndToEnd(t *testing.T) {
	db := openDB(t)
	var calls atomic.Int32
	hook := answerWebhook(t, &calls)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := gateway.New(db, hook.URL)
	gw.Start(ctx)
	defer gw.Stop()

	store := conversation.New(db, db, db, gw)
	sessionID := types.NewSessionID()
	view, err := store.Subscribe(ctx, sessionID, notebook)
	if err != nil {
		t.Fatal(err)
	}
	defer view.Close()
	<-view.Loaded()

	session := chat.NewSession(view, chat.WithPolicy(&chat.RefetchPolicy{
		Delays:        []time.Duration{200 * time.Millisecond},
		AnswerTimeout: 5 * time.Second,
	}))
	defer session.Close()

	if err := session.Submit(ctx, "What did they do?"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "answer", func() bool {
		s := session.Snapshot()
		return s.State == chat.Idle && len(s.Messages) == 2
	})

	msgs := view.Messages()
	if !msgs[0].IsUser() || msgs[1].IsUser() {
		t.Fatalf("unexpected roles: %+v", msgs)
	}
	if calls.Load() != 1 {
		t.Errorf("webhook calls = %d", calls.Load())
	}

	c, ok := render.FindByLabel(msgs[1].Message, "1")
	if !ok {
		t.Fatalf("answer has no citation [1]: %+v", msgs[1].Message)
	}
	if c.SourceTitle != "Biography" {
		t.Errorf("citation title = %q", c.SourceTitle)
	}
	src, err := db.GetSource(ctx, c.SourceID)
	if err != nil {
		t.Fatal(err)
	}
	cv, err := citation.Open(&c, src)
	if err != nil {
		t.Fatal(err)
	}
	var highlighted []int
	for _, l := range cv.Lines {
		if l.Highlighted {
			highlighted = append(highlighted, l.Number)
		}
	}
	if len(highlighted) != 2 || highlighted[0] != 2 || highlighted[1] != 3 {
		t.Errorf("highlighted lines = %v", highlighted)
	}
}

func TestEndToEndOverHTTP(t *testing.T) {
	db := openDB(t)
	var calls atomic.Int32
	hook := answerWebhook(t, &calls)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := gateway.New(db, hook.URL)
	gw.Start(ctx)
	defer gw.Stop()

	api := httptest.NewServer(server.New(server.Backend{
		Turns:         db,
		Sources:       db,
		Tributes:      db,
		Answerer:      gw,
		Conversations: conversation.New(db, db, db, gw),
	}, server.Config{NotebookID: notebook}))
	defer api.Close()

	sessionID := types.NewSessionID()
	resp, err := http.Post(api.URL+"/api/sessions/"+string(sessionID)+"/messages", "application/json",
		jsonBody(t, map[string]string{"message": "Where were they born?"}))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("send status = %d", resp.StatusCode)
	}

	var msgs []types.NormalizedMessage
	waitFor(t, "stored answer", func() bool {
		resp, err := http.Get(api.URL + "/api/sessions/" + string(sessionID) + "/messages")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Messages []types.NormalizedMessage `json:"messages"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		msgs = body.Messages
		return len(msgs) == 2
	})
	if !msgs[1].Message.Content.IsStructured() {
		t.Errorf("answer not structured: %+v", msgs[1].Message.Content)
	}
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(data)
}
