// ABOUTME: Conversation service orchestrating one chat exchange end to end
// ABOUTME: Assistant call, CTA branching, attachment upload and the dual message write

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dingdoor/chat-gateway/internal/assistant"
	"github.com/dingdoor/chat-gateway/internal/blob"
	"github.com/dingdoor/chat-gateway/internal/metrics"
	"github.com/dingdoor/chat-gateway/internal/render"
	"github.com/dingdoor/chat-gateway/internal/store"
)

// EventRequestService tags an assistant message that carries an escalation summary
const EventRequestService = "requestService"

// Assistant sends a user turn to the conversational assistant
type Assistant interface {
	Send(ctx context.Context, req assistant.SendRequest) (*assistant.Result, error)
}

// Escalator summarizes a professional-help request
type Escalator interface {
	Resolve(ctx context.Context, payload, locale string) (assistant.Escalation, error)
}

// HandoffNotifier routes a conversation to a human agent
type HandoffNotifier interface {
	Notify(ctx context.Context, chatID, reason string) error
}

// Deps are the collaborators a Service needs. They are built once per process.
type Deps struct {
	Store     store.Store
	Assistant Assistant
	Escalator Escalator
	Handoff   HandoffNotifier
	Uploader  blob.Uploader // nil disables attachment storage
	Hours     BusinessHours
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service records chat exchanges
type Service struct {
	store     store.Store
	assistant Assistant
	escalator Escalator
	handoff   HandoffNotifier
	uploader  blob.Uploader
	hours     BusinessHours
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a conversation service
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	hours := deps.Hours
	if hours.loc == nil {
		hours = DefaultBusinessHours()
	}
	return &Service{
		store:     deps.Store,
		assistant: deps.Assistant,
		escalator: deps.Escalator,
		handoff:   deps.Handoff,
		uploader:  deps.Uploader,
		hours:     hours,
		metrics:   deps.Metrics,
		logger:    logger.With("component", "conversation"),
		now:       now,
	}
}

// SendRequest is one inbound user turn
type SendRequest struct {
	ChatID           string
	UserID           string
	Message          string
	PreviousMessages []assistant.HistoryMessage
	Files            []assistant.File
}

// SendResponse describes the recorded exchange
type SendResponse struct {
	ConversationID string
	Reply          string
	ReplyID        string
	UserMsgID      string
	Event          string
	EventData      map[string]any
	TokenUsage     store.TokenUsage
}

// Send forwards the user's message to the assistant, applies the reply's
// call-to-action, and records both turns plus the conversation aggregate.
func (s *Service) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	if req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		return nil, invalid("userId", "userId and message are required")
	}

	calledAt := s.now().UnixMilli()
	result, err := s.assistant.Send(ctx, assistant.SendRequest{
		ChatID:           req.ChatID,
		UserID:           req.UserID,
		Message:          req.Message,
		PreviousMessages: req.PreviousMessages,
		Files:            req.Files,
	})
	s.metrics.OutboundCall("assistant", err)
	if err != nil {
		if errors.Is(err, assistant.ErrInvalidRequest) {
			return nil, invalid("message", "%s", err.Error())
		}
		return nil, err
	}
	repliedAt := s.now().UnixMilli()

	conversationID := firstNonEmpty(result.ID, req.ChatID, uuid.NewString())
	logger := s.logger.With("conversation_id", conversationID, "user_id", req.UserID)

	userHTML, err := render.Markdown(req.Message)
	if err != nil {
		return nil, err
	}
	replyHTML, err := render.Reply(result.Message)
	if err != nil {
		return nil, err
	}

	action := result.Action()
	s.metrics.Action(action.Kind())
	outcome := &ctaOutcome{
		svc:            s,
		ctx:            ctx,
		conversationID: conversationID,
		locale:         result.Locale,
		logger:         logger,
	}
	if err := action.Accept(outcome); err != nil {
		return nil, err
	}

	visibleReply := replyHTML
	if outcome.offlineNotice != "" {
		visibleReply = outcome.offlineNotice
	}

	// The storage path embeds the message id, so it is reserved before upload
	userMsgID := s.store.NewMessageID()
	attachments, err := s.uploadAttachments(ctx, req.UserID, conversationID, userMsgID, req.Files)
	if err != nil {
		return nil, err
	}
	attachments = ReconcileAttachments(attachments, result.AttachmentsMap)

	userMsg, err := store.NewMessage(store.RoleUser, userHTML, calledAt, attachments)
	if err != nil {
		return nil, err
	}
	userMsg.ID = userMsgID
	userMsg.TokenUsage = result.TokenUsage

	replyMsg, err := store.NewMessage(store.RoleAssistant, visibleReply, repliedAt, nil)
	if err != nil {
		return nil, err
	}
	replyMsg.ID = s.store.NewMessageID()
	replyMsg.Event = outcome.event
	replyMsg.EventData = outcome.eventData
	replyMsg.TokenUsage = result.TokenUsage

	if err := s.store.SaveMessages(ctx, conversationID, []*store.Message{userMsg, replyMsg}); err != nil {
		logger.Error("saving messages failed", "error", err)
		return nil, &PersistenceError{ConversationID: conversationID, Op: "save messages", Err: err}
	}
	s.metrics.MessagePersisted(string(store.RoleUser))
	s.metrics.MessagePersisted(string(store.RoleAssistant))

	_, err = s.store.UpsertConversation(ctx, &store.ConversationUpsert{
		ID:           conversationID,
		UserID:       req.UserID,
		LastMessage:  firstNonEmpty(visibleReply, userHTML),
		Title:        result.Title,
		MessageCount: 2,
		At:           s.now().UnixMilli(),
	})
	if err != nil {
		logger.Error("updating conversation failed", "error", err)
		return nil, &PersistenceError{ConversationID: conversationID, Op: "update conversation", Err: err}
	}

	logger.Info("exchange recorded",
		"user_msg_id", userMsgID,
		"reply_id", replyMsg.ID,
		"cta", action.Kind(),
		"attachments", len(attachments))

	eventData := outcome.eventData
	if eventData == nil {
		eventData = map[string]any{}
	}
	return &SendResponse{
		ConversationID: conversationID,
		Reply:          visibleReply,
		ReplyID:        replyMsg.ID,
		UserMsgID:      userMsgID,
		Event:          outcome.event,
		EventData:      eventData,
		TokenUsage:     result.TokenUsage,
	}, nil
}

// InsertRequest records a message without involving the assistant
type InsertRequest struct {
	ConversationID string
	UserID         string
	Role           string
	Message        string
	Event          string
	EventData      map[string]any
	Files          []assistant.File
}

// InsertResponse describes the recorded message
type InsertResponse struct {
	ConversationID   string
	MessageID        string
	AttachmentsCount int
}

// insertableRoles are the roles a direct insert may use
var insertableRoles = map[store.Role]bool{
	store.RoleUser:       true,
	store.RoleHumanAgent: true,
	store.RoleSystem:     true,
}

// Insert records one internal message, such as a human agent's reply or a
// system notice, and bumps the conversation aggregate by one.
func (s *Service) Insert(ctx context.Context, req *InsertRequest) (*InsertResponse, error) {
	if req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		return nil, invalid("userId", "userId and message are required")
	}

	role := store.Role(strings.TrimSpace(req.Role))
	if role == "" {
		role = store.RoleUser
	}
	if !insertableRoles[role] {
		return nil, invalid("role", "role must be one of 'user', 'humanAgent' or 'system'")
	}

	conversationID := firstNonEmpty(req.ConversationID, uuid.NewString())
	logger := s.logger.With("conversation_id", conversationID, "user_id", req.UserID)

	msgID := s.store.NewMessageID()
	attachments, err := s.uploadAttachments(ctx, req.UserID, conversationID, msgID, req.Files)
	if err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	msg, err := store.NewMessage(role, req.Message, now, attachments)
	if err != nil {
		return nil, invalid("role", "%s", err.Error())
	}
	msg.ID = msgID
	msg.Event = req.Event
	msg.EventData = req.EventData
	msg.IsCxInteraction = true

	if err := s.store.SaveMessages(ctx, conversationID, []*store.Message{msg}); err != nil {
		logger.Error("saving message failed", "error", err)
		return nil, &PersistenceError{ConversationID: conversationID, Op: "save messages", Err: err}
	}
	s.metrics.MessagePersisted(string(role))

	_, err = s.store.UpsertConversation(ctx, &store.ConversationUpsert{
		ID:           conversationID,
		UserID:       req.UserID,
		LastMessage:  req.Message,
		MessageCount: 1,
		At:           now,
	})
	if err != nil {
		logger.Error("updating conversation failed", "error", err)
		return nil, &PersistenceError{ConversationID: conversationID, Op: "update conversation", Err: err}
	}

	logger.Info("message inserted", "message_id", msgID, "role", role, "event", req.Event)
	return &InsertResponse{
		ConversationID:   conversationID,
		MessageID:        msgID,
		AttachmentsCount: len(attachments),
	}, nil
}

// History returns stored messages for a conversation, oldest first
func (s *Service) History(ctx context.Context, conversationID string, query store.MessageQuery) ([]*store.Message, error) {
	if conversationID == "" {
		return nil, invalid("id", "conversation id is required")
	}
	msgs, err := s.store.ListMessages(ctx, conversationID, query)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return msgs, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
