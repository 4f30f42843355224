// Package store provides persistent storage for prism-gateway.
//
// # Architecture
//
// The routing core depends only on the Store interface. Two implementations
// are provided:
//
//   - SQLStore: database/sql backed, speaking either SQLite (modernc.org/sqlite)
//     or PostgreSQL (github.com/lib/pq). Queries are written once with '?'
//     placeholders and rebound per dialect.
//   - MockStore: in-memory, for unit tests. Enforces the same uniqueness rules.
//
// # Data Models
//
//   - Client: end customer, created on first contact
//   - Conversation: lifecycle state (ai_responding, awaiting_human, closed) and
//     the area it was escalated to
//   - Message: immutable, ordered by (timestamp, id) within a conversation
//   - Area: topic bucket with instructions and an optional specialist
//   - AssistantSettings: singleton row with the base prompt and generation knobs
//
// # Concurrency
//
// A partial unique index allows at most one open conversation per client.
// CreateConversation reports a lost race as ErrDuplicateConversation so the
// caller can re-read the winner.
//
// # Migrations
//
// Schema migrations are embedded per dialect under migrations/ and applied with
// goose when the store is opened.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(ctx, ":memory:") or a
// t.TempDir() path for integration tests with real SQLite.
package store
