// ABOUTME: Builds a Gateway and all of its collaborators from configuration
// ABOUTME: Store, outbound clients, blob uploader, business hours and metrics are created once per process

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dingdoor/chat-gateway/internal/assistant"
	"github.com/dingdoor/chat-gateway/internal/auth"
	"github.com/dingdoor/chat-gateway/internal/blob"
	"github.com/dingdoor/chat-gateway/internal/config"
	"github.com/dingdoor/chat-gateway/internal/conversation"
	"github.com/dingdoor/chat-gateway/internal/metrics"
	"github.com/dingdoor/chat-gateway/internal/store"
)

// tokenSubject identifies this gateway in outbound JWTs
const tokenSubject = "chat-gateway"

// initStore creates the SQLite store. CHAT_GATEWAY_DB_PATH overrides the configured path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CHAT_GATEWAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// tokenSource picks the outbound bearer: a signed JWT, a static token, or none.
func tokenSource(cfg config.AssistantConfig, logger *slog.Logger) auth.TokenSource {
	switch {
	case cfg.SigningSecret != "":
		logger.Info("outbound calls authenticated with signed JWT")
		return auth.NewJWTSigner([]byte(cfg.SigningSecret), tokenSubject, cfg.TokenTTL)
	case cfg.ServiceToken != "":
		logger.Info("outbound calls authenticated with static token")
		return auth.StaticToken(cfg.ServiceToken)
	default:
		logger.Warn("outbound calls are unauthenticated - no signing_secret or service_token configured")
		return nil
	}
}

// initUploader returns nil when no bucket is configured
func initUploader(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (blob.Uploader, error) {
	if cfg.Bucket == "" {
		logger.Warn("attachment storage disabled - no storage.bucket configured")
		return nil, nil
	}
	up, err := blob.NewS3Uploader(ctx, blob.S3Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		PathStyle:       cfg.PathStyle,
		PreviewTTL:      cfg.PreviewTTL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing blob storage: %w", err)
	}
	return up, nil
}

// Build creates a fully wired Gateway from configuration.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlStore, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	hours, err := conversation.NewBusinessHours(cfg.Handoff.Timezone, cfg.Handoff.OpenHour, cfg.Handoff.CloseHour, cfg.Handoff.LocationLabel)
	if err != nil {
		_ = sqlStore.Close()
		return nil, fmt.Errorf("configuring business hours: %w", err)
	}

	uploader, err := initUploader(ctx, cfg.Storage, logger)
	if err != nil {
		_ = sqlStore.Close()
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	tokens := tokenSource(cfg.Assistant, logger)

	svc := conversation.New(conversation.Deps{
		Store: sqlStore,
		Assistant: assistant.NewClient(assistant.Config{
			URL:          cfg.Assistant.URL,
			Timeout:      cfg.Assistant.Timeout,
			FileTimeout:  cfg.Assistant.FileTimeout,
			HistoryLimit: cfg.Assistant.HistoryLimit,
		}, sqlStore, logger),
		Escalator: assistant.NewEscalationClient(assistant.EndpointConfig{
			URL:     cfg.Assistant.EscalationURL,
			Timeout: cfg.Assistant.EscalationTimeout,
			Tokens:  tokens,
		}, logger),
		Handoff: assistant.NewHandoffClient(assistant.EndpointConfig{
			URL:     cfg.Assistant.HandoffURL,
			Timeout: cfg.Assistant.EscalationTimeout,
			Tokens:  tokens,
		}, logger),
		Uploader: uploader,
		Hours:    hours,
		Metrics:  m,
		Logger:   logger,
	})

	return New(cfg, Deps{
		Service: svc,
		Store:   sqlStore,
		Metrics: m,
		Logger:  logger,
	})
}
