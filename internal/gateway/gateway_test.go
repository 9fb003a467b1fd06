// ABOUTME: Tests for the gateway HTTP surface
// ABOUTME: Covers routing, CORS, error mapping, idempotent replay, rate limits and lifecycle

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dingdoor/chat-gateway/internal/assistant"
	"github.com/dingdoor/chat-gateway/internal/config"
	"github.com/dingdoor/chat-gateway/internal/conversation"
	"github.com/dingdoor/chat-gateway/internal/dedupe"
	"github.com/dingdoor/chat-gateway/internal/metrics"
	"github.com/dingdoor/chat-gateway/internal/store"
)

type fakeService struct {
	mu         sync.Mutex
	sendResp   *conversation.SendResponse
	insertResp *conversation.InsertResponse
	history    []*store.Message
	err        error

	sends     []*conversation.SendRequest
	inserts   []*conversation.InsertRequest
	lastQuery store.MessageQuery
}

func (f *fakeService) Send(ctx context.Context, req *conversation.SendRequest) (*conversation.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.sendResp != nil {
		return f.sendResp, nil
	}
	return &conversation.SendResponse{ConversationID: "conv-1", Reply: "<p>hi</p>", ReplyID: "r1", UserMsgID: "u1", EventData: map[string]any{}}, nil
}

func (f *fakeService) Insert(ctx context.Context, req *conversation.InsertRequest) (*conversation.InsertResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.insertResp != nil {
		return f.insertResp, nil
	}
	return &conversation.InsertResponse{ConversationID: "conv-1", MessageID: "m1", AttachmentsCount: len(req.Files)}, nil
}

func (f *fakeService) History(ctx context.Context, conversationID string, query store.MessageQuery) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return f.history, nil
}

func (f *fakeService) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func testConfig() *config.Config {
	return &config.Config{
		Server:      config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Limits:      config.LimitsConfig{MaxUploadSize: 1 << 20},
		Idempotency: config.IdempotencyConfig{TTL: time.Minute, MaxEntries: 100},
		Metrics:     config.MetricsConfig{Path: "/metrics"},
	}
}

func newTestGateway(t *testing.T, cfg *config.Config, svc ChatService, st store.Store, m *metrics.Metrics) *Gateway {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	if st == nil {
		st = store.NewMockStore()
	}
	gw, err := New(cfg, Deps{Service: svc, Store: st, Metrics: m})
	require.NoError(t, err)
	t.Cleanup(gw.responses.Close)
	return gw
}

func postJSON(t *testing.T, h http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(testConfig(), Deps{Store: store.NewMockStore()})
	assert.Error(t, err)

	_, err = New(testConfig(), Deps{Service: &fakeService{}})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	gw := newTestGateway(t, nil, &fakeService{}, nil, nil)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReady(t *testing.T) {
	st := store.NewMockStore()
	gw := newTestGateway(t, nil, &fakeService{}, st, nil)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	st.PingErr = errors.New("disk gone")
	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSend_Options(t *testing.T) {
	gw := newTestGateway(t, nil, &fakeService{}, nil, nil)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/messages/send", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestSend_JSON(t *testing.T) {
	svc := &fakeService{}
	gw := newTestGateway(t, nil, svc, nil, nil)

	body := `{"id":"chat-9","userId":"u-1","message":"hello","previousMessages":[{"role":"user","output":"earlier"}]}`
	rec := postJSON(t, gw.Handler(), "/api/messages/send", body, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	out := decodeBody(t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "conv-1", out["conversationId"])
	assert.Equal(t, "<p>hi</p>", out["reply"])
	assert.Equal(t, "r1", out["replyId"])
	assert.Equal(t, "u1", out["userMsgId"])
	assert.Equal(t, map[string]any{}, out["tokenUsage"], "nil token usage is encoded as an empty object")

	require.Len(t, svc.sends, 1)
	req := svc.sends[0]
	assert.Equal(t, "chat-9", req.ChatID)
	assert.Equal(t, "u-1", req.UserID)
	assert.Equal(t, "hello", req.Message)
	require.Len(t, req.PreviousMessages, 1)
	assert.Equal(t, "earlier", req.PreviousMessages[0].Output)
}

func TestSend_ValidationMakesNoCalls(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantErr     string
	}{
		{"missing user", "application/json", `{"message":"hi"}`, "userId and message are required"},
		{"blank message", "application/json", `{"userId":"u","message":"   "}`, "userId and message are required"},
		{"empty body", "application/json", ``, "Empty JSON body"},
		{"not json", "application/json", `{oops`, "Invalid JSON body"},
		{"wrong content type", "text/plain", `hello`, "Missing JSON"},
		{"history not a list", "application/json", `{"userId":"u","message":"hi","previousMessages":{"a":1}}`, "previousMessages must be JSON list"},
		{"object user", "application/json", `{"userId":{"a":1},"message":123}`, "userId must be a string"},
		{"numeric message", "application/json", `{"userId":"u","message":123}`, "message must be a string"},
		{"boolean chat id", "application/json", `{"id":true,"userId":"u","message":"hi"}`, "id must be a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			gw := newTestGateway(t, nil, svc, nil, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/messages/send", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			gw.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantErr, decodeBody(t, rec)["error"])
			assert.Zero(t, svc.sendCount())
		})
	}
}

func TestSend_MultipartValidation(t *testing.T) {
	svc := &fakeService{}
	gw := newTestGateway(t, nil, svc, nil, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("message", "hi"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/messages/send", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, svc.sendCount())
}

func writeFilePart(t *testing.T, mw *multipart.Writer, field, filename, contentType string, data []byte) {
	t.Helper()
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
}

func TestSend_Multipart(t *testing.T) {
	svc := &fakeService{}
	gw := newTestGateway(t, nil, svc, nil, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("userId", "u-1"))
	require.NoError(t, mw.WriteField("message", "see attached"))
	require.NoError(t, mw.WriteField("id", "chat-1"))
	require.NoError(t, mw.WriteField("previousMessages", `[{"role":"assistant","output":"ok"}]`))
	writeFilePart(t, mw, "zeta", "notes.txt", "", []byte("notes"))
	writeFilePart(t, mw, "alpha", "photo.png", "image/x-custom", []byte("png"))
	writeFilePart(t, mw, "beta", " ", "", []byte("blob"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/messages/send", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, svc.sends, 1)
	got := svc.sends[0]
	assert.Equal(t, "chat-1", got.ChatID)
	require.Len(t, got.PreviousMessages, 1)
	require.Len(t, got.Files, 3)

	// Ordered by field name: alpha, beta, zeta
	assert.Equal(t, "photo.png", got.Files[0].Filename)
	assert.Equal(t, "image/x-custom", got.Files[0].ContentType)
	assert.True(t, strings.HasPrefix(got.Files[1].Filename, "upload-"), got.Files[1].Filename)
	assert.Equal(t, "application/octet-stream", got.Files[1].ContentType)
	assert.Equal(t, "notes.txt", got.Files[2].Filename)
	assert.True(t, strings.HasPrefix(got.Files[2].ContentType, "text/plain"), got.Files[2].ContentType)
	assert.Equal(t, []byte("notes"), got.Files[2].Data)
}

func TestSend_BodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.MaxUploadSize = 64
	svc := &fakeService{}
	gw := newTestGateway(t, cfg, svc, nil, nil)

	body := `{"userId":"u","message":"` + strings.Repeat("x", 200) + `"}`
	rec := postJSON(t, gw.Handler(), "/api/messages/send", body, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "exceeds 64 bytes")
	assert.Zero(t, svc.sendCount())
}

func TestSend_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantErr    string
	}{
		{"validation", &conversation.ValidationError{Field: "userId", Message: "userId and message are required"}, http.StatusBadRequest, "userId and message are required"},
		{"precondition", assistant.ErrInvalidRequest, http.StatusBadRequest, "invalid assistant request"},
		{"assistant down", &assistant.ServiceError{Endpoint: "assistant", StatusCode: 502, Err: errors.New("bad gateway")}, http.StatusInternalServerError, "assistant service error: status 502: bad gateway"},
		{"handoff", &assistant.HandoffError{ChatID: "c1", Err: errors.New("refused")}, http.StatusInternalServerError, "handoff for chat c1 failed: refused"},
		{"persistence", &conversation.PersistenceError{ConversationID: "c1", Op: "save messages", Err: errors.New("locked")}, http.StatusInternalServerError, "save messages for conversation c1: locked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newTestGateway(t, nil, &fakeService{err: tt.err}, nil, nil)

			rec := postJSON(t, gw.Handler(), "/api/messages/send", `{"userId":"u","message":"hi"}`, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantErr, decodeBody(t, rec)["error"])
		})
	}
}

func TestSend_IdempotentReplay(t *testing.T) {
	svc := &fakeService{}
	gw := newTestGateway(t, nil, svc, nil, nil)
	headers := map[string]string{headerIdempotencyKey: "key-1"}

	first := postJSON(t, gw.Handler(), "/api/messages/send", `{"userId":"u","message":"hi"}`, headers)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get(headerIdempotencyReplay))

	second := postJSON(t, gw.Handler(), "/api/messages/send", `{"userId":"u","message":"hi"}`, headers)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(headerIdempotencyReplay))
	assert.Equal(t, "*", second.Header().Get("Access-Control-Allow-Origin"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, svc.sendCount())

	// Same key on another route is a different request
	rec := postJSON(t, gw.Handler(), "/api/messages/insert", `{"userId":"u","message":"note"}`, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(headerIdempotencyReplay))
}

func TestSend_IdempotencyKeyScopedToUser(t *testing.T) {
	svc := &fakeService{}
	gw := newTestGateway(t, nil, svc, nil, nil)
	headers := map[string]string{headerIdempotencyKey: "k1"}

	alice := postJSON(t, gw.Handler(), "/api/messages/send", `{"userId":"alice","message":"secret"}`, headers)
	require.Equal(t, http.StatusOK, alice.Code)

	bob := postJSON(t, gw.Handler(), "/api/messages/send", `{"userId":"bob","message":"hello"}`, headers)
	require.Equal(t, http.StatusOK, bob.Code)
	assert.Empty(t, bob.Header().Get(headerIdempotencyReplay))

	require.Equal(t, 2, svc.sendCount())
	assert.Equal(t, "bob", svc.sends[1].UserID)
	assert.Equal(t, "hello", svc.sends[1].Message)
}

func TestSend_IdempotencyKeyReusedForDifferentRequest(t *testing.T) {
	svc := &fakeService{}
	gw := newTestGateway(t, nil, svc, nil, nil)
	headers := map[string]string{headerIdempotencyKey: "k1"}

	first := postJSON(t, gw.Handler(), "/api/messages/send", `{"userId":"u","message":"first"}`, headers)
	require.Equal(t, http.StatusOK, first.Code)

	rec := postJSON(t, gw.Handler(), "/api/messages/send", `{"userId":"u","message":"second"}`, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, rec.Header().Get(headerIdempotencyReplay))
	assert.Equal(t, "Idempotency-Key was already used for a different request", decodeBody(t, rec)["error"])
	assert.Equal(t, 1, svc.sendCount())

	// The original request still replays
	rec = postJSON(t, gw.Handler(), "/api/messages/send", `{"userId":"u","message":"first"}`, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(headerIdempotencyReplay))
	assert.Equal(t, 1, svc.sendCount())
}

func TestInsert_NonStringFieldsMakeNoCalls(t *testing.T) {
	svc := &fakeService{}
	gw := newTestGateway(t, nil, svc, nil, nil)

	rec := postJSON(t, gw.Handler(), "/api/messages/insert", `{"conversationId":12,"userId":"u","message":"hi"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "conversationId must be a string", decodeBody(t, rec)["error"])

	rec = postJSON(t, gw.Handler(), "/api/messages/insert", `{"userId":"u","message":"hi","role":["agent"]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "role must be a string", decodeBody(t, rec)["error"])

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Empty(t, svc.inserts)
}

func TestSend_FailedRequestIsNotReplayed(t *testing.T) {
	svc := &fakeService{err: &assistant.ServiceError{Endpoint: "assistant", Err: errors.New("timeout")}}
	gw := newTestGateway(t, nil, svc, nil, nil)
	headers := map[string]string{headerIdempotencyKey: "key-2"}

	rec := postJSON(t, gw.Handler(), "/api/messages/send", `{"userId":"u","message":"hi"}`, headers)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	svc.mu.Lock()
	svc.err = nil
	svc.mu.Unlock()

	rec = postJSON(t, gw.Handler(), "/api/messages/send", `{"userId":"u","message":"hi"}`, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(headerIdempotencyReplay))
	assert.Equal(t, 2, svc.sendCount())
}

func TestSend_InFlightKeyConflicts(t *testing.T) {
	gw := newTestGateway(t, nil, &fakeService{}, nil, nil)

	_, state := gw.responses.Begin(routeSend + "\x00u\x00busy")
	require.Equal(t, dedupe.Fresh, state)

	rec := postJSON(t, gw.Handler(), "/api/messages/send", `{"userId":"u","message":"hi"}`, map[string]string{headerIdempotencyKey: "busy"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSend_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.RequestsPerSecond = 0.001
	cfg.Limits.Burst = 1
	svc := &fakeService{}
	gw := newTestGateway(t, cfg, svc, nil, nil)

	rec := postJSON(t, gw.Handler(), "/api/messages/send", `{"userId":"u-1","message":"hi"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, gw.Handler(), "/api/messages/send", `{"userId":"u-1","message":"again"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", decodeBody(t, rec)["error"])

	rec = postJSON(t, gw.Handler(), "/api/messages/send", `{"userId":"u-2","message":"hi"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, svc.sendCount())
}

func TestInsert_JSON(t *testing.T) {
	svc := &fakeService{}
	gw := newTestGateway(t, nil, svc, nil, nil)

	body := `{"conversationId":"conv-7","userId":"agent-1","role":"humanAgent","message":"Hi, I'm Ana","event":"humanAgentJoined","eventData":"{\"agent\":\"Ana\"}"}`
	rec := postJSON(t, gw.Handler(), "/api/messages/insert", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decodeBody(t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "m1", out["messageId"])
	assert.Equal(t, float64(0), out["attachmentsCount"])

	require.Len(t, svc.inserts, 1)
	got := svc.inserts[0]
	assert.Equal(t, "conv-7", got.ConversationID)
	assert.Equal(t, "humanAgent", got.Role)
	assert.Equal(t, "humanAgentJoined", got.Event)
	assert.Equal(t, map[string]any{"agent": "Ana"}, got.EventData)
}

func TestInsert_BadEventData(t *testing.T) {
	svc := &fakeService{}
	gw := newTestGateway(t, nil, svc, nil, nil)

	rec := postJSON(t, gw.Handler(), "/api/messages/insert", `{"userId":"u","message":"m","eventData":[1,2]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.inserts)
}

func TestHistory_Query(t *testing.T) {
	svc := &fakeService{history: []*store.Message{
		{ID: "a", Role: store.RoleUser, Content: "<p>hi</p>", Timestamp: 1},
		{ID: "b", Role: store.RoleAssistant, Content: "<p>hello</p>", Timestamp: 2, Event: "requestService"},
	}}
	gw := newTestGateway(t, nil, svc, nil, nil)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/messages?limit=5&internal=true", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "conv-1", out.ConversationID)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "assistant", out.Messages[1].Role)
	assert.Equal(t, "requestService", out.Messages[1].Event)
	assert.Equal(t, store.MessageQuery{Limit: 5, IncludeInternal: true}, svc.lastQuery)

	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/messages?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	gw := newTestGateway(t, cfg, &fakeService{}, nil, metrics.New())

	postJSON(t, gw.Handler(), "/api/messages/send", `{"userId":"u","message":"hi"}`, nil)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `chat_gateway_requests_total{route="send",status="200"} 1`)
}

func TestMetricsRoute_Disabled(t *testing.T) {
	gw := newTestGateway(t, nil, &fakeService{}, nil, metrics.New())

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// fakeAssistantServer answers every turn with a fixed reply
func fakeAssistantServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"conv-e2e","message":"Hello **there**","cta":"","locale":"en","title":"Greeting","tokenUsage":{"input":3}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEndToEnd_SendInsertHistory(t *testing.T) {
	srv := fakeAssistantServer(t)
	st := store.NewMockStore()
	svc := conversation.New(conversation.Deps{
		Store:     st,
		Assistant: assistant.NewClient(assistant.Config{URL: srv.URL}, st, nil),
		Now:       func() time.Time { return time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC) },
	})
	gw := newTestGateway(t, nil, svc, st, nil)

	rec := postJSON(t, gw.Handler(), "/api/messages/send", `{"userId":"u-1","message":"hi"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody(t, rec)
	assert.Equal(t, "conv-e2e", out["conversationId"])
	assert.Equal(t, "<p>Hello <strong>there</strong></p>", out["reply"])
	assert.Equal(t, map[string]any{"input": float64(3)}, out["tokenUsage"])

	rec = postJSON(t, gw.Handler(), "/api/messages/insert", `{"conversationId":"conv-e2e","userId":"agent-1","role":"humanAgent","message":"taking over"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var visible HistoryResponse
	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/conv-e2e/messages", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &visible))
	require.Len(t, visible.Messages, 2)
	assert.Equal(t, "user", visible.Messages[0].Role)
	assert.Equal(t, "assistant", visible.Messages[1].Role)

	var all HistoryResponse
	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/conv-e2e/messages?internal=true", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all.Messages, 3)
	assert.True(t, all.Messages[2].IsCxInteraction)
	assert.Equal(t, "taking over", all.Messages[2].Content)

	conv, err := st.GetConversation(context.Background(), "conv-e2e")
	require.NoError(t, err)
	assert.Equal(t, int64(3), conv.TotalMessageCount)
}

func TestServe_GracefulShutdown(t *testing.T) {
	gw := newTestGateway(t, nil, &fakeService{}, nil, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
