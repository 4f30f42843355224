// Package conversation manages support conversations and their messages.
//
// # Lifecycle
//
// Lifecycle owns the state machine:
//
//	ai_responding ──escalate──▶ awaiting_human ──close──▶ closed
//	      └──────────────────close──────────────────────────┘
//
// A client has at most one open (non-closed) conversation. GetOrCreateActive
// relies on the store's unique index and re-reads the winner when two
// requests race to open one. Any transition out of closed fails with
// ErrInvalidTransition.
//
// # Pipeline
//
// Pipeline is the only writer of messages. It trims and validates input,
// stamps a strictly increasing timestamp and persists the message:
//
//	msg, err := pipeline.Create(ctx, conversation.NewMessage{
//		ConversationID: conv.ID,
//		Content:        "hola",
//		Type:           store.MessageTypeClient,
//		Sender:         "Ana",
//	})
//
// Rejected input is reported as *ValidationError and never reaches the store.
package conversation
