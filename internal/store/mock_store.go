// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject failures per operation

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lithammer/shortuuid/v4"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	messages      map[string][]*Message    // keyed by conversation ID
	messageIDs    map[string]struct{}

	// Injected errors, returned by the matching operation when non-nil
	GetErr    error
	UpsertErr error
	SaveErr   error
	ListErr   error
	PingErr   error

	// Call counters
	UpsertCalls int
	SaveCalls   int
	ListCalls   int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		messageIDs:    make(map[string]struct{}),
	}
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	result := *c
	return &result, nil
}

// UpsertConversation creates or increments the aggregate.
func (m *MockStore) UpsertConversation(ctx context.Context, u *ConversationUpsert) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpsertCalls++
	if m.UpsertErr != nil {
		return nil, m.UpsertErr
	}

	c, ok := m.conversations[u.ID]
	if !ok {
		title := u.Title
		if title == "" {
			title = DefaultTitle
		}
		c = &Conversation{
			ID:        u.ID,
			UserID:    u.UserID,
			CreatedAt: u.At,
			Title:     title,
		}
		m.conversations[u.ID] = c
	}
	c.TotalMessageCount += int64(u.MessageCount)
	c.LastMessageAt = u.At
	c.UpdatedAt = u.At
	c.LastMessage = u.LastMessage

	result := *c
	return &result, nil
}

// NewMessageID reserves a fresh message identifier.
func (m *MockStore) NewMessageID() string {
	return shortuuid.New()
}

// SaveMessages stores the batch atomically: either all messages land or none do.
func (m *MockStore) SaveMessages(ctx context.Context, conversationID string, msgs []*Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveCalls++
	if m.SaveErr != nil {
		return m.SaveErr
	}

	batch := make([]*Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = shortuuid.New()
		}
		if _, dup := m.messageIDs[msg.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.ID)
		}
		if _, dup := seen[msg.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.ID)
		}
		if !msg.Role.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidRole, string(msg.Role))
		}
		seen[msg.ID] = struct{}{}
		msg.ConversationID = conversationID

		cp := *msg
		cp.Attachments = append([]Attachment(nil), msg.Attachments...)
		batch = append(batch, &cp)
	}

	for _, msg := range batch {
		m.messageIDs[msg.ID] = struct{}{}
		m.messages[conversationID] = append(m.messages[conversationID], msg)
	}
	return nil
}

// ListMessages returns the most recent messages, oldest first.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, q MessageQuery) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListCalls++
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	var filtered []*Message
	for _, msg := range m.messages[conversationID] {
		if !q.IncludeInternal && excludedFromContext(msg) {
			continue
		}
		filtered = append(filtered, msg)
	}

	// Stable sort keeps insertion order for equal timestamps, matching rowid tie-break
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp < filtered[j].Timestamp
	})

	limit := clampLimit(q.Limit)
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	result := make([]*Message, len(filtered))
	for i, msg := range filtered {
		cp := *msg
		result[i] = &cp
	}
	return result, nil
}

// Messages returns every stored message for a conversation, including internal ones.
func (m *MockStore) Messages(conversationID string) []*Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Message, 0, len(m.messages[conversationID]))
	for _, msg := range m.messages[conversationID] {
		cp := *msg
		result = append(result, &cp)
	}
	return result
}

// Ping reports the injected ping error, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
