// Package gateway delivers questions to the answer pipeline for the
// self-hosted backend.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/memorial/internal/types"
)

var (
	ErrMissingSession  = errors.New("session_id is required")
	ErrMissingNotebook = errors.New("notebook_id is required")
	ErrEmptyMessage    = errors.New("message is required")
	ErrNoWebhook       = errors.New("answer webhook is not configured")
)

var _ types.Answerer = (*Gateway)(nil)

// Gateway accepts questions, acknowledges them immediately and delivers
// them in the background through a per-session Queue.
type Gateway struct {
	Queue     *Queue
	forwarder *Forwarder

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Gateway.
type Option func(*config)

type config struct {
	maxConcurrent int64
	retry         *RetryPolicy
	timeout       time.Duration
	doer          Doer
}

// WithMaxConcurrent bounds parallel deliveries across sessions.
func WithMaxConcurrent(n int64) Option {
	return func(c *config) { c.maxConcurrent = n }
}

func WithRetryPolicy(p *RetryPolicy) Option {
	return func(c *config) { c.retry = p }
}

// WithTimeout bounds a single webhook call.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

func WithDoer(d Doer) Option {
	return func(c *config) { c.doer = d }
}

// New creates a Gateway that appends turns to turns and forwards questions
// to webhookURL. An empty webhookURL makes every question fail with
// ErrNoWebhook.
func New(turns types.TurnStore, webhookURL string, opts ...Option) *Gateway {
	cfg := config{maxConcurrent: 2, retry: DefaultRetryPolicy(), timeout: 2 * time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}
	fw := NewForwarder(turns, webhookURL, cfg.doer, cfg.timeout, cfg.retry)
	q := NewQueue(cfg.maxConcurrent)
	q.SetProcessor(fw.Process)
	return &Gateway{Queue: q, forwarder: fw}
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels pending deliveries and waits for the lanes to drain.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

// HandleInbound validates req and enqueues it. It returns once the question
// is queued, before the pipeline has answered.
func (g *Gateway) HandleInbound(ctx context.Context, req types.SendRequest) error {
	switch {
	case req.SessionID == "":
		return ErrMissingSession
	case req.NotebookID == "":
		return ErrMissingNotebook
	case req.Message == "":
		return ErrEmptyMessage
	case g.forwarder.webhookURL == "":
		return ErrNoWebhook
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.Queue.Enqueue(NewRun(req)); err != nil {
		return fmt.Errorf("enqueue question: %w", err)
	}
	return nil
}

// SendChatMessage implements types.Answerer.
func (g *Gateway) SendChatMessage(ctx context.Context, req types.SendRequest) error {
	return g.HandleInbound(ctx, req)
}
