// ABOUTME: Escalation summarizer and human-handoff notifier clients
// ABOUTME: Simple JSON-in/JSON-out calls with bounded timeouts and bearer auth

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dingdoor/chat-gateway/internal/auth"
)

// DefaultCallTimeout bounds the escalation and handoff calls
const DefaultCallTimeout = 30 * time.Second

// Escalation is the structured summary attached to a professional-help reply
type Escalation struct {
	Summary          string         `json:"summary"`
	InferredCategory map[string]any `json:"inferredCategory"`
}

// EmptyEscalation is the placeholder used when no summary is available
func EmptyEscalation() Escalation {
	return Escalation{Summary: "", InferredCategory: map[string]any{}}
}

// EndpointConfig configures one outbound JSON endpoint
type EndpointConfig struct {
	URL        string
	Timeout    time.Duration
	Tokens     auth.TokenSource // optional
	HTTPClient *http.Client
}

type endpoint struct {
	name    string
	url     string
	timeout time.Duration
	tokens  auth.TokenSource
	http    *http.Client
}

func newEndpoint(name string, cfg EndpointConfig) endpoint {
	e := endpoint{
		name:    name,
		url:     cfg.URL,
		timeout: cfg.Timeout,
		tokens:  cfg.Tokens,
		http:    cfg.HTTPClient,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultCallTimeout
	}
	if e.http == nil {
		e.http = &http.Client{}
	}
	return e
}

// postJSON sends body and decodes the response into out (when non-nil).
// Every failure is returned as a *ServiceError.
func (e endpoint) postJSON(ctx context.Context, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	data, err := json.Marshal(body)
	if err != nil {
		return &ServiceError{Endpoint: e.name, Err: fmt.Errorf("encoding request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(data))
	if err != nil {
		return &ServiceError{Endpoint: e.name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	if e.tokens != nil {
		tok, err := e.tokens.Token()
		if err != nil {
			return &ServiceError{Endpoint: e.name, Err: fmt.Errorf("obtaining token: %w", err)}
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return &ServiceError{Endpoint: e.name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ServiceError{
			Endpoint:   e.name,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return &ServiceError{Endpoint: e.name, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// EscalationClient asks the summarization endpoint to categorize a paid-service request
type EscalationClient struct {
	endpoint endpoint
	newID    func() string
	logger   *slog.Logger
}

// NewEscalationClient creates an escalation client
func NewEscalationClient(cfg EndpointConfig, logger *slog.Logger) *EscalationClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &EscalationClient{
		endpoint: newEndpoint("escalation", cfg),
		newID:    func() string { return "text_assistant_" + uuid.NewString() },
		logger:   logger.With("component", "escalation"),
	}
}

// Resolve summarizes payload. An empty payload returns EmptyEscalation without a call.
// Transport failures are returned; the caller decides how to degrade.
func (c *EscalationClient) Resolve(ctx context.Context, payload, locale string) (Escalation, error) {
	if payload == "" {
		c.logger.Warn("empty payload for escalation summary")
		return EmptyEscalation(), nil
	}
	if locale == "" {
		locale = DefaultLocale
	}

	body := map[string]any{
		"initialRequest":  payload,
		"locale":          locale,
		"responseDetails": []any{},
		"interactionId":   c.newID(),
	}

	var resp struct {
		Data *Escalation `json:"data"`
	}
	if err := c.endpoint.postJSON(ctx, body, &resp); err != nil {
		return EmptyEscalation(), err
	}

	if resp.Data == nil {
		return EmptyEscalation(), nil
	}
	esc := *resp.Data
	if esc.InferredCategory == nil {
		esc.InferredCategory = map[string]any{}
	}
	return esc, nil
}

// HandoffClient notifies the human-routing endpoint
type HandoffClient struct {
	endpoint endpoint
	logger   *slog.Logger
}

// NewHandoffClient creates a handoff client
func NewHandoffClient(cfg EndpointConfig, logger *slog.Logger) *HandoffClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HandoffClient{
		endpoint: newEndpoint("handoff", cfg),
		logger:   logger.With("component", "handoff"),
	}
}

// Notify routes chatID to a human agent. Any failure is returned as a *HandoffError.
func (c *HandoffClient) Notify(ctx context.Context, chatID, reason string) error {
	if chatID == "" {
		return &HandoffError{Err: fmt.Errorf("%w: missing required field 'chatId'", ErrInvalidRequest)}
	}
	if reason == "" {
		return &HandoffError{ChatID: chatID, Err: fmt.Errorf("%w: missing required field 'reason'", ErrInvalidRequest)}
	}

	body := map[string]string{
		"chatId": chatID,
		"reason": reason,
	}
	if err := c.endpoint.postJSON(ctx, body, nil); err != nil {
		c.logger.Error("handoff request failed", "chat_id", chatID, "error", err)
		return &HandoffError{ChatID: chatID, Err: err}
	}

	c.logger.Info("human handoff requested", "chat_id", chatID, "reason", reason)
	return nil
}
