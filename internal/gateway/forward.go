package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/user/memorial/internal/types"
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Forwarder posts questions to the answer webhook and records the
// exchange as chat history rows.
type Forwarder struct {
	turns      types.TurnStore
	webhookURL string
	client     Doer
	timeout    time.Duration
	retry      *RetryPolicy
}

func NewForwarder(turns types.TurnStore, webhookURL string, client Doer, timeout time.Duration, retry *RetryPolicy) *Forwarder {
	if client == nil {
		client = &http.Client{}
	}
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	return &Forwarder{turns: turns, webhookURL: webhookURL, client: client, timeout: timeout, retry: retry}
}

// humanTurn and aiTurn follow the LangChain message rows the hosted
// pipeline writes.
type humanTurn struct {
	Type             string         `json:"type"`
	Content          string         `json:"content"`
	AdditionalKwargs map[string]any `json:"additional_kwargs"`
	ResponseMetadata map[string]any `json:"response_metadata"`
}

type aiTurn struct {
	Type             string         `json:"type"`
	Content          string         `json:"content"`
	ToolCalls        []any          `json:"tool_calls"`
	InvalidToolCalls []any          `json:"invalid_tool_calls"`
	AdditionalKwargs map[string]any `json:"additional_kwargs"`
	ResponseMetadata map[string]any `json:"response_metadata"`
}

// Process delivers one run. When the webhook answers inline with an
// {"output": [...]} body, the question and the answer are stored together;
// otherwise the pipeline is expected to write both rows itself.
func (f *Forwarder) Process(run *Run) error {
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	var body []byte
	err := f.retry.Execute(ctx, func() error {
		run.Attempts++
		var err error
		body, err = f.post(ctx, run.Request)
		return err
	})
	if err != nil {
		return fmt.Errorf("deliver question: %w", err)
	}

	if !hasOutput(body) {
		slog.Debug("answer webhook replied without output", "session_id", string(run.SessionID))
		return nil
	}
	if err := f.append(ctx, run.SessionID, humanTurn{
		Type:             string(types.MessageHuman),
		Content:          run.Request.Message,
		AdditionalKwargs: map[string]any{},
		ResponseMetadata: map[string]any{},
	}); err != nil {
		return err
	}
	return f.append(ctx, run.SessionID, aiTurn{
		Type:             string(types.MessageAI),
		Content:          string(body),
		ToolCalls:        []any{},
		InvalidToolCalls: []any{},
		AdditionalKwargs: map[string]any{},
		ResponseMetadata: map[string]any{},
	})
}

func (f *Forwarder) post(ctx context.Context, sr types.SendRequest) ([]byte, error) {
	payload, err := json.Marshal(sr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post answer webhook: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read answer webhook: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return body, nil
}

func (f *Forwarder) append(ctx context.Context, sessionID types.SessionID, row any) error {
	msg, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	if _, err := f.turns.AppendTurn(ctx, sessionID, msg); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func hasOutput(body []byte) bool {
	var probe struct {
		Output json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	out := bytes.TrimSpace(probe.Output)
	return len(out) > 0 && out[0] == '['
}
