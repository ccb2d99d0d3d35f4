package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/user/memorial/internal/chat"
	"github.com/user/memorial/internal/config"
	"github.com/user/memorial/internal/conversation"
	"github.com/user/memorial/internal/gateway"
	"github.com/user/memorial/internal/state"
	"github.com/user/memorial/internal/supabase"
	"github.com/user/memorial/internal/tokens"
	"github.com/user/memorial/internal/types"
)

var errLocalOnly = errors.New("this command needs the sqlite backend (backend.driver = sqlite)")

// backend is the set of stores selected by backend.driver. Local is always
// open: with the supabase driver it only holds Telegram session bindings.
type backend struct {
	Turns    types.TurnStore
	Sources  types.SourceStore
	Tributes types.TributeStore
	Feed     types.Feed
	Answerer types.Answerer
	Local    *state.DB
	// Gateway is set for the sqlite driver and must be started by the caller.
	Gateway *gateway.Gateway
	hosted  bool
}

func openBackend(cfg *config.Config) (*backend, error) {
	db, err := state.Open(cfg.SQLitePath())
	if err != nil {
		return nil, fmt.Errorf("open local database: %w", err)
	}

	if cfg.Backend.Driver == config.DriverSupabase {
		sb := cfg.Backend.Supabase
		var opts []supabase.ClientOption
		if sb.ServiceKey != "" {
			opts = append(opts, supabase.WithServiceKey(sb.ServiceKey))
		}
		client := supabase.NewClient(sb.URL, sb.AnonKey, opts...)
		feed, err := supabase.NewRealtime(sb.URL, sb.AnonKey)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &backend{
			Turns:    client,
			Sources:  client,
			Tributes: client,
			Feed:     feed,
			Answerer: client,
			Local:    db,
			hosted:   true,
		}, nil
	}

	gw := gateway.New(db, cfg.Answer.WebhookURL,
		gateway.WithMaxConcurrent(int64(cfg.Answer.MaxConcurrent)),
		gateway.WithTimeout(cfg.Answer.Timeout.Std()),
	)
	if cfg.Answer.WebhookURL == "" {
		slog.Warn("answer.webhook_url is empty, questions will be rejected")
	}
	return &backend{
		Turns:    db,
		Sources:  db,
		Tributes: db,
		Feed:     db,
		Answerer: gw,
		Local:    db,
		Gateway:  gw,
	}, nil
}

// local returns the SQLite store when it is also the primary backend.
func (b *backend) local() (*state.DB, error) {
	if b.hosted {
		return nil, errLocalOnly
	}
	return b.Local, nil
}

func (b *backend) Close() error {
	return b.Local.Close()
}

func (b *backend) conversations(cfg *config.Config) *conversation.Store {
	return conversation.New(b.Turns, b.Sources, b.Feed, b.Answerer,
		conversation.WithUserID(cfg.Chat.UserID))
}

// sessionOptions builds the Send/Await configuration shared by the chat
// surfaces.
func sessionOptions(cfg *config.Config) []chat.Option {
	opts := []chat.Option{chat.WithPolicy(&chat.RefetchPolicy{
		Delays:        cfg.RefetchDelays(),
		AnswerTimeout: cfg.Chat.AnswerTimeout.Std(),
	})}
	if cfg.Chat.MaxQuestionTokens <= 0 {
		return opts
	}
	counter, err := tokens.NewCounter(cfg.Chat.TokenizerModel)
	if err != nil {
		slog.Warn("question budget disabled", "model", cfg.Chat.TokenizerModel, "error", err)
		return opts
	}
	return append(opts, chat.WithBudget(tokens.NewBudget(counter, cfg.Chat.MaxQuestionTokens)))
}

func notebookFlag(cfg *config.Config, flag string) (types.NotebookID, error) {
	id := flag
	if id == "" {
		id = cfg.NotebookID
	}
	if id == "" {
		return "", errors.New("no notebook: pass --notebook or set notebook_id")
	}
	return types.NotebookID(id), nil
}

// startGateway starts local answer delivery when the backend has one and
// returns its stop function.
func (b *backend) startGateway(ctx context.Context) func() {
	if b.Gateway == nil {
		return func() {}
	}
	b.Gateway.Start(ctx)
	return b.Gateway.Stop
}
