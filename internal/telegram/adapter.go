// Package telegram bridges Telegram chats to memorial conversations.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/memorial/internal/chat"
	"github.com/user/memorial/internal/citation"
	"github.com/user/memorial/internal/conversation"
	"github.com/user/memorial/internal/render"
	"github.com/user/memorial/internal/types"
)

const (
	maxTelegramMessage = 4096
	sourceLines        = 40
	loadTimeout        = 15 * time.Second
)

// Sender is satisfied by *tgbotapi.BotAPI.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// SessionResolver binds Telegram chats to conversation sessions.
type SessionResolver interface {
	ResolveOrCreate(ctx context.Context, key types.SessionKey) (types.SessionID, error)
	ResetSession(ctx context.Context, key types.SessionKey) (types.SessionID, error)
}

// Deps are the conversation services the bridge drives.
type Deps struct {
	Conversations *conversation.Store
	Sources       types.SourceStore
	Sessions      SessionResolver
	NotebookID    types.NotebookID
	// SessionOptions configure every chat.Session the bridge opens.
	SessionOptions []chat.Option
}

// Adapter bridges Telegram to the conversation store.
type Adapter struct {
	bot    *tgbotapi.BotAPI
	sender Sender
	deps   Deps

	mu      sync.Mutex
	threads map[types.SessionKey]*thread
}

func New(token string, deps Deps) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, deps)
	a.bot = bot
	return a, nil
}

func newAdapter(sender Sender, deps Deps) *Adapter {
	return &Adapter{sender: sender, deps: deps, threads: make(map[types.SessionKey]*thread)}
}

// Start long-polls for updates until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)
	slog.Info("telegram bridge started", "bot", a.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			a.Close()
			return
		}
	}
}

// Close releases every open conversation.
func (a *Adapter) Close() {
	a.mu.Lock()
	threads := a.threads
	a.threads = make(map[types.SessionKey]*thread)
	a.mu.Unlock()
	for _, t := range threads {
		t.close()
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	t, err := a.thread(ctx, msg)
	if err != nil {
		slog.Error("open telegram conversation", "chat_id", chatID, "error", err)
		a.sendResponse(chatID, "Sorry, the conversation could not be opened. Please try again later.")
		return
	}
	if err := t.session.Submit(ctx, msg.Text); err != nil {
		a.sendResponse(chatID, userMessage(err))
		return
	}
	if _, err := a.sender.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		slog.Debug("send typing action", "error", err)
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, "Xin chào! Ask me anything about the life remembered here. Answers cite the documents they come from; use /source <n> to read a cited passage.")

	case "new":
		key := buildSessionKey(msg.From.ID, chatID)
		a.mu.Lock()
		old := a.threads[key]
		delete(a.threads, key)
		a.mu.Unlock()
		if old != nil {
			old.close()
		}
		if _, err := a.deps.Sessions.ResetSession(ctx, key); err != nil {
			slog.Error("reset telegram session", "chat_id", chatID, "error", err)
			a.sendResponse(chatID, "Error starting a new conversation.")
			return
		}
		a.sendResponse(chatID, "Started a new conversation.")

	case "status":
		t, err := a.thread(ctx, msg)
		if err != nil {
			a.sendResponse(chatID, "Error fetching status.")
			return
		}
		snap := t.session.Snapshot()
		a.sendResponse(chatID, fmt.Sprintf("Session: %s\nMessages: %d\nState: %s", t.sessionID, len(snap.Messages), snap.State))

	case "source":
		a.sendResponse(chatID, a.sourceReply(ctx, msg))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /new, /status, /source <n>")
	}
}

// sourceReply opens citation n of the last answer.
func (a *Adapter) sourceReply(ctx context.Context, msg *tgbotapi.Message) string {
	label := strings.TrimSpace(msg.CommandArguments())
	if label == "" {
		return "Usage: /source <n>"
	}
	t, err := a.thread(ctx, msg)
	if err != nil {
		return "Error opening the conversation."
	}
	last, ok := render.LastAnswer(t.view.Messages())
	if !ok {
		return "There is no answer to cite yet."
	}
	c, ok := render.FindByLabel(last.Message, label)
	if !ok {
		return fmt.Sprintf("The last answer has no citation [%s].", label)
	}
	src, err := a.deps.Sources.GetSource(ctx, c.SourceID)
	if err != nil {
		slog.Warn("load cited source", "source_id", c.SourceID, "error", err)
		return citation.EmptyState
	}
	v, err := citation.Open(&c, src)
	if err != nil {
		return citation.EmptyState
	}
	return render.PlainSource(v, sourceLines)
}

// thread returns the open conversation of the message's chat, opening it
// on first use.
func (a *Adapter) thread(ctx context.Context, msg *tgbotapi.Message) (*thread, error) {
	key := buildSessionKey(msg.From.ID, msg.Chat.ID)

	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.threads[key]; ok {
		return t, nil
	}

	sid, err := a.deps.Sessions.ResolveOrCreate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	view, err := a.deps.Conversations.Subscribe(ctx, sid, a.deps.NotebookID)
	if err != nil {
		return nil, fmt.Errorf("subscribe conversation: %w", err)
	}
	select {
	case <-view.Loaded():
	case <-time.After(loadTimeout):
		view.Close()
		return nil, errors.New("conversation load timed out")
	case <-ctx.Done():
		view.Close()
		return nil, ctx.Err()
	}

	t := &thread{
		sessionID: sid,
		view:      view,
		delivered: len(view.Messages()),
		out:       make(chan string, 16),
		done:      make(chan struct{}),
	}
	go t.drain(func(text string) { a.sendResponse(msg.Chat.ID, text) })
	opts := append(slices.Clone(a.deps.SessionOptions), chat.WithObserver(t.observe))
	t.session = chat.NewSession(view, opts...)
	a.threads[key] = t
	slog.Info("telegram conversation opened", "session_id", sid, "chat_id", msg.Chat.ID)
	return t, nil
}

// thread is one Telegram chat's live conversation.
type thread struct {
	sessionID types.SessionID
	view      *conversation.View
	session   *chat.Session

	// Observer state, touched only from observe.
	delivered int
	lastErr   error

	out  chan string
	done chan struct{}
}

// observe forwards answers that appeared since the last snapshot.
func (t *thread) observe(s chat.Snapshot) {
	if t.delivered > len(s.Messages) {
		t.delivered = len(s.Messages)
	}
	for _, m := range s.Messages[t.delivered:] {
		if !m.IsUser() {
			t.out <- render.Plain(m.Message)
		}
	}
	t.delivered = len(s.Messages)

	if s.Err != t.lastErr {
		t.lastErr = s.Err
		if errors.Is(s.Err, chat.ErrAnswerTimeout) {
			t.out <- "The answer is taking longer than expected. It will be sent here as soon as it is ready."
		}
	}
}

func (t *thread) drain(send func(string)) {
	defer close(t.done)
	for text := range t.out {
		send(text)
	}
}

func (t *thread) close() {
	t.session.Close()
	t.view.Close()
	close(t.out)
	<-t.done
}

func userMessage(err error) string {
	var derr *conversation.DeliveryError
	switch {
	case errors.Is(err, chat.ErrNoProcessedSource):
		return "The memorial documents are still being processed. Please try again shortly."
	case errors.Is(err, chat.ErrAnswerPending), errors.Is(err, chat.ErrSendInFlight):
		return "Please wait for the answer to your previous question."
	case errors.Is(err, chat.ErrQuestionTooLong):
		return "That question is too long. Please shorten it."
	case errors.As(err, &derr):
		return "Sorry, your question could not be delivered. Please try again."
	default:
		return "Sorry, something went wrong processing your message."
	}
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		if _, err := a.sender.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			slog.Error("send telegram message", "chat_id", chatID, "error", err)
		}
	}
}

// splitMessage cuts text into parts of at most maxTelegramMessage bytes,
// preferring line breaks and never splitting a UTF-8 sequence.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > maxTelegramMessage {
		end := maxTelegramMessage
		for end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		if nl := strings.LastIndexByte(text[:end], '\n'); nl > maxTelegramMessage/2 {
			end = nl + 1
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func buildSessionKey(userID, chatID int64) types.SessionKey {
	return types.NewSessionKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}
