// ABOUTME: Store interface and data types for chat-gateway persistence
// ABOUTME: Defines Conversation, Message, Attachment and the document-store contract

package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateMessage is returned when a message ID is written twice.
// Messages are immutable, so a second write is always rejected.
var ErrDuplicateMessage = errors.New("message already exists")

// ErrInvalidRole is returned for roles outside the fixed enumeration
var ErrInvalidRole = errors.New("invalid role")

// DefaultTitle is used for conversations the assistant has not titled yet
const DefaultTitle = "New Chat"

// EventHumanAgentJoined marks the system turn written when a human agent takes over.
// These turns are never sent to the assistant as context.
const EventHumanAgentJoined = "humanAgentJoined"

// Role identifies who authored a message
type Role string

// Role values
const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleHumanAgent Role = "humanAgent"
	RoleSystem     Role = "system"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleHumanAgent, RoleSystem:
		return true
	}
	return false
}

// ParseRole converts a raw role string, rejecting unknown values
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Conversation is the aggregate document summarizing a chat.
// Timestamps are epoch milliseconds.
type Conversation struct {
	ID                string
	UserID            string
	CreatedAt         int64
	LastMessageAt     int64
	UpdatedAt         int64
	TotalMessageCount int64
	LastMessage       string
	Title             string
}

// ConversationUpsert carries one aggregate update.
// MessageCount is added atomically when the conversation already exists.
type ConversationUpsert struct {
	ID           string
	UserID       string
	LastMessage  string
	Title        string
	MessageCount int
	At           int64 // epoch ms applied to lastMessageAt/updatedAt (and createdAt on insert)
}

// TokenUsage is the assistant's token accounting, stored as reported
type TokenUsage map[string]any

// Attachment describes a stored file attached to a message
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Bytes       int64  `json:"bytes"`
	StoragePath string `json:"storagePath"`
	URI         string `json:"uri"`
	URL         string `json:"url,omitempty"`
	FileID      string `json:"fileId,omitempty"`
}

// Message is a single turn within a conversation. Once saved it is never updated.
type Message struct {
	ID              string
	ConversationID  string
	Role            Role
	Content         string
	Timestamp       int64 // epoch ms
	Event           string
	EventData       map[string]any
	TokenUsage      TokenUsage
	Attachments     []Attachment
	IsCxInteraction bool // internal/operational turn, excluded from assistant context
	Rate            int
}

// NewMessage builds a message with a validated role. Attachments are copied.
func NewMessage(role Role, content string, timestamp int64, attachments []Attachment) (*Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, string(role))
	}
	msg := &Message{
		Role:      role,
		Content:   content,
		Timestamp: timestamp,
	}
	if len(attachments) > 0 {
		msg.Attachments = append([]Attachment(nil), attachments...)
	}
	return msg, nil
}

// MessageQuery controls ListMessages.
// Limit keeps the most recent N messages; results are always oldest first.
type MessageQuery struct {
	Limit           int
	IncludeInternal bool
}

// Store defines the document-store operations the gateway needs
type Store interface {
	// Conversations
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	UpsertConversation(ctx context.Context, upsert *ConversationUpsert) (*Conversation, error)

	// Messages
	NewMessageID() string
	SaveMessages(ctx context.Context, conversationID string, msgs []*Message) error
	ListMessages(ctx context.Context, conversationID string, query MessageQuery) ([]*Message, error)

	Ping(ctx context.Context) error
	Close() error
}

// clampLimit applies the default and maximum page sizes
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

// excludedFromContext reports whether a message is hidden from assistant history
func excludedFromContext(m *Message) bool {
	return m.IsCxInteraction || m.Event == EventHumanAgentJoined
}
