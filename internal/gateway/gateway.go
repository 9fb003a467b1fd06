// ABOUTME: Gateway orchestrator that owns the HTTP server and its collaborators
// ABOUTME: Manages routes, health endpoints and the graceful shutdown lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dingdoor/chat-gateway/internal/config"
	"github.com/dingdoor/chat-gateway/internal/conversation"
	"github.com/dingdoor/chat-gateway/internal/dedupe"
	"github.com/dingdoor/chat-gateway/internal/metrics"
	"github.com/dingdoor/chat-gateway/internal/store"
)

// Route names used for metrics labels and idempotency key scoping
const (
	routeSend    = "send"
	routeInsert  = "insert"
	routeHistory = "history"
)

// ChatService is the conversation behaviour the HTTP surface exposes
type ChatService interface {
	Send(ctx context.Context, req *conversation.SendRequest) (*conversation.SendResponse, error)
	Insert(ctx context.Context, req *conversation.InsertRequest) (*conversation.InsertResponse, error)
	History(ctx context.Context, conversationID string, query store.MessageQuery) ([]*store.Message, error)
}

// Deps are the collaborators a Gateway serves
type Deps struct {
	Service ChatService
	Store   store.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Gateway serves the chat HTTP API.
type Gateway struct {
	config     *config.Config
	service    ChatService
	store      store.Store
	metrics    *metrics.Metrics
	httpServer *http.Server
	logger     *slog.Logger

	// responses replays completed POSTs that carry an Idempotency-Key
	responses *dedupe.Cache

	// limiters throttles each userId on the message routes; nil when disabled
	limiters *limiterPool

	maxBodyBytes int64
}

// New creates a Gateway from config and prebuilt collaborators.
func New(cfg *config.Config, deps Deps) (*Gateway, error) {
	if deps.Service == nil {
		return nil, fmt.Errorf("gateway requires a chat service")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("gateway requires a store")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		config:       cfg,
		service:      deps.Service,
		store:        deps.Store,
		metrics:      deps.Metrics,
		logger:       logger.With("component", "gateway"),
		responses:    dedupe.New(cfg.Idempotency.TTL, cfg.Idempotency.MaxEntries),
		limiters:     newLimiterPool(cfg.Limits.RequestsPerSecond, cfg.Limits.Burst),
		maxBodyBytes: cfg.Limits.MaxUploadSize,
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP mux
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	send := g.api(routeSend, g.handleSend)
	mux.Handle("POST /api/messages/send", send)
	mux.Handle("OPTIONS /api/messages/send", send)

	insert := g.api(routeInsert, g.handleInsert)
	mux.Handle("POST /api/messages/insert", insert)
	mux.Handle("OPTIONS /api/messages/insert", insert)

	history := g.api(routeHistory, g.handleHistory)
	mux.Handle("GET /api/conversations/{id}/messages", history)
	mux.Handle("OPTIONS /api/conversations/{id}/messages", history)

	if g.config.Metrics.Enabled && g.metrics != nil {
		mux.Handle("GET "+g.config.Metrics.Path, g.metrics.Handler())
	}

	return mux
}

// Handler exposes the routes for tests and embedding
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run listens on the configured address and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is canceled
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "store close", g.store.Close())
	g.responses.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
