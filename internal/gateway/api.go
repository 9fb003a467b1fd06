// ABOUTME: HTTP API handlers for sending, inserting and reading chat messages
// ABOUTME: Wraps each route with CORS, metrics, rate limiting and Idempotency-Key replay

package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dingdoor/chat-gateway/internal/assistant"
	"github.com/dingdoor/chat-gateway/internal/conversation"
	"github.com/dingdoor/chat-gateway/internal/dedupe"
	"github.com/dingdoor/chat-gateway/internal/store"
)

// Idempotency headers
const (
	headerIdempotencyKey    = "Idempotency-Key"
	headerIdempotencyReplay = "Idempotent-Replay"
)

// SendMessageResponse is the JSON response for POST /api/messages/send.
type SendMessageResponse struct {
	Success        bool             `json:"success"`
	ConversationID string           `json:"conversationId"`
	Reply          string           `json:"reply"`
	ReplyID        string           `json:"replyId"`
	UserMsgID      string           `json:"userMsgId"`
	Event          string           `json:"event"`
	EventData      map[string]any   `json:"eventData"`
	TokenUsage     store.TokenUsage `json:"tokenUsage"`
}

// InsertMessageResponse is the JSON response for POST /api/messages/insert.
type InsertMessageResponse struct {
	Success          bool   `json:"success"`
	ConversationID   string `json:"conversationId"`
	MessageID        string `json:"messageId"`
	AttachmentsCount int    `json:"attachmentsCount"`
}

// MessageResponse is one stored message in a history read.
type MessageResponse struct {
	ID              string             `json:"id"`
	Role            string             `json:"role"`
	Content         string             `json:"content"`
	Timestamp       int64              `json:"timestamp"`
	Event           string             `json:"event,omitempty"`
	EventData       map[string]any     `json:"eventData,omitempty"`
	TokenUsage      store.TokenUsage   `json:"tokenUsage,omitempty"`
	Attachments     []store.Attachment `json:"attachments,omitempty"`
	IsCxInteraction bool               `json:"isCxInteraction"`
	Rate            int                `json:"rate"`
}

// HistoryResponse is the JSON response for GET /api/conversations/{id}/messages.
type HistoryResponse struct {
	ConversationID string            `json:"conversationId"`
	Messages       []MessageResponse `json:"messages"`
}

// apiHandler returns the status and the value to encode as the JSON body
type apiHandler func(r *http.Request) (int, any)

// api wraps a route handler with CORS, metrics and the body size limit.
func (g *Gateway) api(route string, h apiHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status := g.serveAPI(w, r, route, h)
		g.metrics.ObserveRequest(route, strconv.Itoa(status), time.Since(start))
	})
}

func (g *Gateway) serveAPI(w http.ResponseWriter, r *http.Request, route string, h apiHandler) int {
	setCORSHeaders(w.Header())
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return http.StatusNoContent
	}

	if r.Method == http.MethodPost && g.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, g.maxBodyBytes)
	}

	status, body := h(r)
	if cached, ok := body.(replayed); ok {
		w.Header().Set(headerIdempotencyReplay, "true")
		w.Header().Set("Content-Type", cached.ContentType)
		w.WriteHeader(cached.Status)
		_, _ = w.Write(cached.Body)
		return cached.Status
	}
	return g.writeJSON(w, status, body)
}

// replayed is a recorded response written back verbatim
type replayed struct {
	*dedupe.Response
}

// idempotent runs fn at most once per route, userId and Idempotency-Key.
// A retry gets the recorded response; the same key with a different request is 422.
// Only 200 responses are recorded, so a failed request can be retried under its key.
func (g *Gateway) idempotent(r *http.Request, route, userID string, request any, fn func() (int, any)) (int, any) {
	key := r.Header.Get(headerIdempotencyKey)
	if key == "" {
		return fn()
	}

	fingerprint, err := requestFingerprint(request)
	if err != nil {
		g.logger.Error("fingerprinting request failed", "route", route, "error", err)
		return http.StatusInternalServerError, errorBody("fingerprinting request failed")
	}

	cacheKey := strings.Join([]string{route, userID, key}, "\x00")
	cached, state := g.responses.Begin(cacheKey)
	switch state {
	case dedupe.Replay:
		if cached.Fingerprint != fingerprint {
			return http.StatusUnprocessableEntity, errorBody("Idempotency-Key was already used for a different request")
		}
		g.metrics.IdempotentReplay()
		return cached.Status, replayed{cached}
	case dedupe.InFlight:
		return http.StatusConflict, errorBody("a request with this Idempotency-Key is still in progress")
	}

	status, body := fn()
	data, err := json.Marshal(body)
	if err != nil {
		g.responses.Abandon(cacheKey)
		g.logger.Error("encoding response failed", "route", route, "error", err)
		return http.StatusInternalServerError, errorBody("encoding response failed")
	}
	if status == http.StatusOK {
		g.responses.Complete(cacheKey, dedupe.Response{
			Status:      status,
			ContentType: "application/json",
			Body:        data,
			Fingerprint: fingerprint,
		})
	} else {
		g.responses.Abandon(cacheKey)
	}
	return status, json.RawMessage(data)
}

// requestFingerprint hashes the decoded request, attachments included
func requestFingerprint(request any) (string, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// setCORSHeaders applies the permissive CORS policy to every API response
func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "*")
}

// writeJSON writes a JSON response and returns the status written.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, body any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Debug("writing response failed", "error", err)
	}
	return status
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

// errorResponse maps an error to its HTTP status and body.
// Validation failures are 400, everything else is 500 with the message surfaced.
func errorResponse(err error) (int, any) {
	var reqErr *requestError
	var valErr *conversation.ValidationError
	switch {
	case errors.As(err, &reqErr), errors.As(err, &valErr), errors.Is(err, assistant.ErrInvalidRequest):
		return http.StatusBadRequest, errorBody(err.Error())
	default:
		return http.StatusInternalServerError, errorBody(err.Error())
	}
}

// allow applies the per-user rate limit
func (g *Gateway) allow(userID string) bool {
	if g.limiters.Allow(userID) {
		return true
	}
	g.metrics.RateLimited()
	return false
}

// handleSend handles POST /api/messages/send.
func (g *Gateway) handleSend(r *http.Request) (int, any) {
	f, err := parseForm(r)
	if err != nil {
		return errorResponse(err)
	}
	req, err := f.toSendRequest()
	if err != nil {
		return errorResponse(err)
	}
	return g.idempotent(r, routeSend, req.UserID, req, func() (int, any) {
		if !g.allow(req.UserID) {
			return http.StatusTooManyRequests, errorBody("rate limit exceeded")
		}
		return g.send(r, req)
	})
}

func (g *Gateway) send(r *http.Request, req *conversation.SendRequest) (int, any) {
	resp, err := g.service.Send(r.Context(), req)
	if err != nil {
		status, body := errorResponse(err)
		if status >= http.StatusInternalServerError {
			g.logger.Error("send failed", "user_id", req.UserID, "chat_id", req.ChatID, "error", err)
		}
		return status, body
	}

	tokenUsage := resp.TokenUsage
	if tokenUsage == nil {
		tokenUsage = store.TokenUsage{}
	}
	return http.StatusOK, SendMessageResponse{
		Success:        true,
		ConversationID: resp.ConversationID,
		Reply:          resp.Reply,
		ReplyID:        resp.ReplyID,
		UserMsgID:      resp.UserMsgID,
		Event:          resp.Event,
		EventData:      resp.EventData,
		TokenUsage:     tokenUsage,
	}
}

// handleInsert handles POST /api/messages/insert.
func (g *Gateway) handleInsert(r *http.Request) (int, any) {
	f, err := parseForm(r)
	if err != nil {
		return errorResponse(err)
	}
	req, err := f.toInsertRequest()
	if err != nil {
		return errorResponse(err)
	}
	return g.idempotent(r, routeInsert, req.UserID, req, func() (int, any) {
		if !g.allow(req.UserID) {
			return http.StatusTooManyRequests, errorBody("rate limit exceeded")
		}
		return g.insert(r, req)
	})
}

func (g *Gateway) insert(r *http.Request, req *conversation.InsertRequest) (int, any) {
	resp, err := g.service.Insert(r.Context(), req)
	if err != nil {
		status, body := errorResponse(err)
		if status >= http.StatusInternalServerError {
			g.logger.Error("insert failed", "user_id", req.UserID, "conversation_id", req.ConversationID, "error", err)
		}
		return status, body
	}

	return http.StatusOK, InsertMessageResponse{
		Success:          true,
		ConversationID:   resp.ConversationID,
		MessageID:        resp.MessageID,
		AttachmentsCount: resp.AttachmentsCount,
	}
}

// handleHistory handles GET /api/conversations/{id}/messages.
// Supports ?limit=N and ?internal=true to include internal messages.
func (g *Gateway) handleHistory(r *http.Request) (int, any) {
	conversationID := r.PathValue("id")

	var query store.MessageQuery
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return http.StatusBadRequest, errorBody("limit must be a non-negative integer")
		}
		query.Limit = limit
	}
	if raw := r.URL.Query().Get("internal"); raw != "" {
		internal, err := strconv.ParseBool(raw)
		if err != nil {
			return http.StatusBadRequest, errorBody("internal must be true or false")
		}
		query.IncludeInternal = internal
	}

	msgs, err := g.service.History(r.Context(), conversationID, query)
	if err != nil {
		status, body := errorResponse(err)
		if status >= http.StatusInternalServerError {
			g.logger.Error("history read failed", "conversation_id", conversationID, "error", err)
		}
		return status, body
	}

	out := HistoryResponse{ConversationID: conversationID, Messages: make([]MessageResponse, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, MessageResponse{
			ID:              m.ID,
			Role:            string(m.Role),
			Content:         m.Content,
			Timestamp:       m.Timestamp,
			Event:           m.Event,
			EventData:       m.EventData,
			TokenUsage:      m.TokenUsage,
			Attachments:     m.Attachments,
			IsCxInteraction: m.IsCxInteraction,
			Rate:            m.Rate,
		})
	}
	return http.StatusOK, out
}
