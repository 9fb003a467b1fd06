// ABOUTME: HTTP client for the external conversational assistant
// ABOUTME: Sends the user turn with history and files, returns the structured reply

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/dingdoor/chat-gateway/internal/store"
)

// Defaults applied when Config leaves a field zero
const (
	DefaultTimeout      = 60 * time.Second
	DefaultFileTimeout  = 120 * time.Second
	DefaultHistoryLimit = 20
	DefaultLocale       = "en"
)

// HistoryMessage is one prior turn sent to the assistant as context
type HistoryMessage struct {
	Role        string             `json:"role"`
	Output      string             `json:"output"`
	Attachments []store.Attachment `json:"attachments"`
}

// File is an attachment forwarded to the assistant
type File struct {
	Filename    string
	Data        []byte
	ContentType string
}

// SendRequest is a single user turn
type SendRequest struct {
	ChatID           string
	UserID           string
	Message          string
	PreviousMessages []HistoryMessage
	Files            []File
}

// FileRef correlates an uploaded filename with the assistant's file registry
type FileRef struct {
	Filename    string `json:"filename"`
	FileID      string `json:"fileId"`
	ContentType string `json:"contentType"`
}

// Result is the assistant's structured reply
type Result struct {
	ID             string           `json:"id"`
	Message        string           `json:"message"`
	CTA            string           `json:"cta"`
	CTAData        json.RawMessage  `json:"ctaData"`
	Locale         string           `json:"locale"`
	Title          string           `json:"title"`
	TokenUsage     store.TokenUsage `json:"-"`
	AttachmentsMap []FileRef        `json:"attachmentsMap"`

	RawTokenUsage json.RawMessage `json:"tokenUsage"`
}

// Action interprets the reply's cta tag and payload
func (r *Result) Action() Action {
	return ParseAction(r.CTA, r.CTAData)
}

// HistoryReader loads prior turns of a conversation
type HistoryReader interface {
	ListMessages(ctx context.Context, conversationID string, query store.MessageQuery) ([]*store.Message, error)
}

// Config configures the assistant client
type Config struct {
	URL          string
	Timeout      time.Duration
	FileTimeout  time.Duration
	HistoryLimit int
	HTTPClient   *http.Client
}

// Client talks to the assistant endpoint
type Client struct {
	url          string
	timeout      time.Duration
	fileTimeout  time.Duration
	historyLimit int
	http         *http.Client
	history      HistoryReader
	logger       *slog.Logger
}

// NewClient creates an assistant client. history may be nil to disable backfill.
func NewClient(cfg Config, history HistoryReader, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		url:          cfg.URL,
		timeout:      cfg.Timeout,
		fileTimeout:  cfg.FileTimeout,
		historyLimit: cfg.HistoryLimit,
		http:         cfg.HTTPClient,
		history:      history,
		logger:       logger.With("component", "assistant"),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.fileTimeout <= 0 {
		c.fileTimeout = DefaultFileTimeout
	}
	if c.historyLimit <= 0 {
		c.historyLimit = DefaultHistoryLimit
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

// Send forwards a user turn to the assistant.
// When PreviousMessages is empty and ChatID is set, recent history is backfilled from the store.
func (c *Client) Send(ctx context.Context, req SendRequest) (*Result, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: missing required field 'userId'", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: missing or invalid field 'message'", ErrInvalidRequest)
	}

	history := req.PreviousMessages
	if len(history) == 0 && req.ChatID != "" {
		history = c.loadHistory(ctx, req.ChatID)
	}

	timeout := c.timeout
	if len(req.Files) > 0 {
		timeout = c.fileTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		body        io.Reader
		contentType string
		err         error
	)
	if len(req.Files) > 0 {
		body, contentType, err = encodeMultipart(req, history)
	} else {
		body, contentType, err = encodeJSON(req, history)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding assistant request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, &ServiceError{Endpoint: "assistant", Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Error("assistant request failed", "chat_id", req.ChatID, "error", err)
		return nil, &ServiceError{Endpoint: "assistant", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error("assistant returned error status",
			"chat_id", req.ChatID,
			"status", resp.StatusCode)
		return nil, &ServiceError{
			Endpoint:   "assistant",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
		}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ServiceError{Endpoint: "assistant", StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	result.normalize()

	c.logger.Debug("assistant replied",
		"chat_id", req.ChatID,
		"cta", result.CTA,
		"files", len(req.Files),
		"history", len(history),
		"duration", time.Since(start))
	return &result, nil
}

// loadHistory reads recent context turns; failures degrade to no history
func (c *Client) loadHistory(ctx context.Context, chatID string) []HistoryMessage {
	if c.history == nil {
		return nil
	}

	msgs, err := c.history.ListMessages(ctx, chatID, store.MessageQuery{Limit: c.historyLimit})
	if err != nil {
		c.logger.Error("loading conversation history", "chat_id", chatID, "error", err)
		return nil
	}

	history := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		atts := m.Attachments
		if atts == nil {
			atts = []store.Attachment{}
		}
		history = append(history, HistoryMessage{
			Role:        string(m.Role),
			Output:      m.Content,
			Attachments: atts,
		})
	}
	c.logger.Debug("backfilled history", "chat_id", chatID, "count", len(history))
	return history
}

func (r *Result) normalize() {
	if r.Locale == "" {
		r.Locale = DefaultLocale
	}
	if r.Title == "" {
		r.Title = store.DefaultTitle
	}
	// tokenUsage is only kept when it is an object
	var usage store.TokenUsage
	if len(r.RawTokenUsage) > 0 && json.Unmarshal(r.RawTokenUsage, &usage) == nil && usage != nil {
		r.TokenUsage = usage
	}
}

func encodeJSON(req SendRequest, history []HistoryMessage) (io.Reader, string, error) {
	payload := map[string]any{
		"userId":  req.UserID,
		"message": req.Message,
	}
	if req.ChatID != "" {
		payload["id"] = req.ChatID
	}
	if len(history) > 0 {
		payload["previousMessages"] = history
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(data), "application/json", nil
}

func encodeMultipart(req SendRequest, history []HistoryMessage) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{{"userId", req.UserID}, {"message", req.Message}}
	if req.ChatID != "" {
		fields = append(fields, [2]string{"id", req.ChatID})
	}
	if len(history) > 0 {
		encoded, err := json.Marshal(history)
		if err != nil {
			return nil, "", err
		}
		fields = append(fields, [2]string{"previousMessages", string(encoded)})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	for _, f := range req.Files {
		ctype := f.ContentType
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Filename))
		h.Set("Content-Type", ctype)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
