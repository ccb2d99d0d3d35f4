package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/user/memorial/internal/config"
	"github.com/user/memorial/internal/testutil"
	"github.com/user/memorial/internal/transform"
	"github.com/user/memorial/internal/types"
)

func sampleSession() []types.NormalizedMessage {
	src := testutil.ProcessedSource("src-1", "nb-1", "Biography", "a\nb\nc")
	turns := []types.StoredTurn{
		{ID: 1, SessionID: "s-1", Message: json.RawMessage(testutil.HumanJSON("Who were they?"))},
		{ID: 2, SessionID: "s-1", Message: json.RawMessage(testutil.AnswerJSON("A literature professor.", "src-1", 2, 3))},
	}
	return transform.TransformAll(turns, []types.Source{src})
}

func TestNewExport(t *testing.T) {
	exp := newExport("s-1", sampleSession())
	if len(exp.Messages) != 2 {
		t.Fatalf("messages = %d", len(exp.Messages))
	}
	q, a := exp.Messages[0], exp.Messages[1]
	if q.Role != "human" || q.Text != "Who were they?" || len(q.Citations) != 0 {
		t.Errorf("question = %+v", q)
	}
	if a.Role != "ai" || a.Text != "A literature professor." {
		t.Errorf("answer = %+v", a)
	}
	if len(a.Citations) != 1 {
		t.Fatalf("citations = %+v", a.Citations)
	}
	c := a.Citations[0]
	if c.Marker != "1" || c.SourceID != "src-1" || c.Title != "Biography" || c.Lines != "2-3" {
		t.Errorf("citation = %+v", c)
	}
}

func TestWriteExportFormats(t *testing.T) {
	exp := newExport("s-1", sampleSession())

	var js bytes.Buffer
	if err := writeExport(&js, "json", exp); err != nil {
		t.Fatalf("json: %v", err)
	}
	var fromJSON sessionExport
	if err := json.Unmarshal(js.Bytes(), &fromJSON); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if fromJSON.SessionID != "s-1" || len(fromJSON.Messages) != 2 {
		t.Errorf("json export = %+v", fromJSON)
	}

	var ym bytes.Buffer
	if err := writeExport(&ym, "yaml", exp); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !strings.Contains(ym.String(), "session_id: s-1") {
		t.Errorf("yaml missing session id:\n%s", ym.String())
	}
	var fromYAML sessionExport
	if err := yaml.Unmarshal(ym.Bytes(), &fromYAML); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if fromYAML.Messages[1].Citations[0].Lines != "2-3" {
		t.Errorf("yaml export = %+v", fromYAML)
	}

	if err := writeExport(&bytes.Buffer{}, "xml", exp); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestPrompterAsk(t *testing.T) {
	var out bytes.Buffer
	p := &prompter{in: bufio.NewScanner(strings.NewReader("\n  custom  \n")), out: &out}

	if got := p.ask("Driver", "sqlite"); got != "sqlite" {
		t.Errorf("empty input = %q", got)
	}
	if got := p.ask("Notebook id", ""); got != "custom" {
		t.Errorf("typed input = %q", got)
	}
	if got := p.ask("Token", "keep"); got != "keep" {
		t.Errorf("eof input = %q", got)
	}
	if !strings.Contains(out.String(), "Driver [sqlite]: ") || !strings.Contains(out.String(), "Notebook id: ") {
		t.Errorf("prompts = %q", out.String())
	}
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	if _, err := readPID(dir); err == nil || !strings.Contains(err.Error(), "PID file not found") {
		t.Errorf("missing file: %v", err)
	}

	os.WriteFile(filepath.Join(dir, pidFile), []byte("garbage\n"), 0o644)
	if _, err := readPID(dir); err == nil || !strings.Contains(err.Error(), "invalid PID") {
		t.Errorf("garbage file: %v", err)
	}

	path, err := writePIDFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != pidFile {
		t.Errorf("pid path = %s", path)
	}
	pid, err := readPID(dir)
	if err != nil || pid != os.Getpid() {
		t.Errorf("readPID = %d, %v (want %s)", pid, err, strconv.Itoa(os.Getpid()))
	}
}

func TestNotebookFlag(t *testing.T) {
	cfg := config.Default()
	if _, err := notebookFlag(cfg, ""); err == nil {
		t.Error("expected error without a notebook")
	}
	cfg.NotebookID = "nb-config"
	if id, _ := notebookFlag(cfg, ""); id != "nb-config" {
		t.Errorf("config notebook = %q", id)
	}
	if id, _ := notebookFlag(cfg, "nb-flag"); id != "nb-flag" {
		t.Errorf("flag notebook = %q", id)
	}
}

func TestOpenBackendLocal(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Answer.WebhookURL = "http://127.0.0.1:1/answer"

	b, err := openBackend(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if b.Gateway == nil {
		t.Fatal("sqlite driver should answer through the local gateway")
	}
	if _, err := b.local(); err != nil {
		t.Errorf("local: %v", err)
	}
	if got := ingestKey(b, "k"); got != "k" {
		t.Errorf("ingest key = %q", got)
	}
	if serverBackend(b, b.conversations(cfg), "u").Functions == nil {
		t.Error("local backend should mount the function registry")
	}
}

func TestOpenBackendHosted(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Backend.Driver = config.DriverSupabase
	cfg.Backend.Supabase.URL = "https://example.supabase.co"
	cfg.Backend.Supabase.AnonKey = "anon"

	b, err := openBackend(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if b.Gateway != nil {
		t.Error("hosted driver should not start a local gateway")
	}
	if _, err := b.local(); err != errLocalOnly {
		t.Errorf("local() = %v", err)
	}
	if got := ingestKey(b, "k"); got != "" {
		t.Errorf("ingest key = %q", got)
	}
	if serverBackend(b, b.conversations(cfg), "u").Functions != nil {
		t.Error("hosted backend should not mount local functions")
	}
}

func TestDeleteTribute(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Answer.WebhookURL = "http://127.0.0.1:1/answer"

	b, err := openBackend(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	ctx := context.Background()
	contents := "Forever remembered"
	created, err := b.Tributes.CreateTribute(ctx, &types.Tribute{Name: "A student", Contents: &contents})
	if err != nil {
		t.Fatal(err)
	}
	if err := deleteTribute(ctx, b, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, total, err := b.Tributes.ListTributes(ctx, 10, 0); err != nil || total != 0 {
		t.Errorf("after delete: total = %d, err = %v", total, err)
	}
	if err := deleteTribute(ctx, b, created.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestDeleteTributeHosted(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Backend.Driver = config.DriverSupabase
	cfg.Backend.Supabase.URL = "https://example.supabase.co"
	cfg.Backend.Supabase.AnonKey = "anon"

	b, err := openBackend(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := deleteTribute(context.Background(), b, "1"); err != errLocalOnly {
		t.Errorf("expected errLocalOnly, got %v", err)
	}
}

func TestSessionOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Chat.MaxQuestionTokens = 0
	if n := len(sessionOptions(cfg)); n != 1 {
		t.Errorf("options without budget = %d", n)
	}
}
