package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/memorial/internal/chat"
	"github.com/user/memorial/internal/citation"
	"github.com/user/memorial/internal/render"
	"github.com/user/memorial/internal/types"
)

var (
	chatSession  string
	chatNotebook string
	chatWidth    int
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatSession, "session", "", "session id to continue (default: a new session)")
	chatCmd.Flags().StringVar(&chatNotebook, "notebook", "", "notebook id (default: notebook_id from config)")
	chatCmd.Flags().IntVar(&chatWidth, "width", 80, "terminal width")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the memorial's sources in the terminal",
	Long: `Ask questions in the terminal. Answers cite their sources with [n]
markers. Commands: ":source <n>" shows citation n of the last answer,
":quit" leaves.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	notebookID, err := notebookFlag(cfg, chatNotebook)
	if err != nil {
		return err
	}
	sessionID := types.SessionID(chatSession)
	if sessionID == "" {
		sessionID = types.NewSessionID()
	}

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	defer b.startGateway(ctx)()

	view, err := b.conversations(cfg).Subscribe(ctx, sessionID, notebookID)
	if err != nil {
		return err
	}
	defer view.Close()

	select {
	case <-view.Loaded():
	case <-time.After(15 * time.Second):
		return errors.New("timed out loading the conversation")
	}
	if err := view.Err(); err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	t := &terminalChat{
		term:  render.NewTerminal(chatWidth),
		out:   cmd.OutOrStdout(),
		shown: len(view.Messages()),
	}
	t.printf("Session %s\n\n", sessionID)
	for _, m := range view.Messages() {
		t.printf("%s\n\n", t.term.Message(m))
	}

	opts := append(sessionOptions(cfg), chat.WithObserver(t.observe))
	session := chat.NewSession(view, opts...)
	defer session.Close()

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == ":quit" || line == ":q":
			return nil
		case strings.HasPrefix(line, ":source"):
			t.showSource(ctx, b.Sources, view.Messages(), strings.TrimSpace(strings.TrimPrefix(line, ":source")))
		default:
			// Rejections and delivery errors reach the observer.
			_ = session.Submit(ctx, line)
		}
	}
	return scanner.Err()
}

// terminalChat prints a chat.Session to a terminal.
type terminalChat struct {
	term *render.Terminal

	mu      sync.Mutex
	out     io.Writer
	shown   int
	pending string
	typing  bool
	lastErr error
}

func (t *terminalChat) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminalChat) observe(s chat.Snapshot) {
	if s.Pending != "" && s.Pending != t.pending {
		t.printf("%s\n", t.term.Pending(s.Pending))
	}
	t.pending = s.Pending

	if s.Typing && !t.typing {
		t.printf("%s\n", t.term.Typing())
	}
	t.typing = s.Typing

	if t.shown > len(s.Messages) {
		t.shown = len(s.Messages)
	}
	for _, m := range s.Messages[t.shown:] {
		if !m.IsUser() {
			t.printf("\n%s\n\n", t.term.Message(m))
		}
	}
	t.shown = len(s.Messages)

	if s.Err != nil && s.Err != t.lastErr {
		t.printf("%s\n", t.term.Error(s.Err))
	}
	t.lastErr = s.Err
}

func (t *terminalChat) showSource(ctx context.Context, sources types.SourceStore, msgs []types.NormalizedMessage, label string) {
	if label == "" {
		t.printf("Usage: :source <n>\n")
		return
	}
	last, ok := render.LastAnswer(msgs)
	if !ok {
		t.printf("There is no answer to cite yet.\n")
		return
	}
	c, ok := render.FindByLabel(last.Message, label)
	if !ok {
		t.printf("The last answer has no citation [%s].\n", label)
		return
	}
	src, err := sources.GetSource(ctx, c.SourceID)
	if err != nil {
		t.printf("%s\n", citation.EmptyState)
		return
	}
	v, err := citation.Open(&c, src)
	if err != nil {
		t.printf("%s\n", citation.EmptyState)
		return
	}
	t.printf("%s\n\n", t.term.Source(v, 20))
}
