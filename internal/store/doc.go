// Package store provides persistent storage for the chat gateway using SQLite.
//
// # Data Model
//
// Two collections back every chat:
//
//   - Conversation: the aggregate document keyed by conversation ID. It carries
//     the owning user, timestamps, the last visible reply, the title and a
//     running totalMessageCount.
//   - Message: an immutable turn under a conversation. Messages are written in
//     batches and never updated afterwards.
//
// All timestamps are epoch milliseconds.
//
// # Concurrency
//
// UpsertConversation applies the counter increment inside a single
// INSERT ... ON CONFLICT statement, so concurrent sends to the same
// conversation never lose updates. SaveMessages writes its batch in one
// transaction.
//
// # Internal Messages
//
// Messages flagged IsCxInteraction, and system turns carrying the
// humanAgentJoined event, are operational records. ListMessages omits them
// unless MessageQuery.IncludeInternal is set, which keeps them out of the
// context sent to the assistant.
//
// # Testing
//
// MockStore is an in-memory implementation with per-operation error injection
// and call counters for service-level tests.
package store
