// ABOUTME: Message pipeline validating, timestamping and persisting conversation messages
// ABOUTME: Timestamps are strictly increasing per pipeline so history order matches creation order

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/prism-gateway/internal/store"
)

const (
	// DefaultHistoryLimit is used when History is called with a non-positive limit.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps a single History page.
	MaxHistoryLimit = 500
)

// PipelineStore defines what the pipeline needs from storage
type PipelineStore interface {
	CreateMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]*store.Message, error)
}

// NewMessage is the input to Pipeline.Create
type NewMessage struct {
	ConversationID int64
	Content        string
	Type           store.MessageType
	Sender         string
	IsDerivation   bool
}

// Pipeline persists messages in creation order
type Pipeline struct {
	store  PipelineStore
	clock  func() time.Time
	logger *slog.Logger

	mu   sync.Mutex
	last time.Time
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithClock replaces the wall clock used to stamp messages.
func WithClock(clock func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		p.clock = clock
	}
}

// NewPipeline creates a message pipeline. Pass nil logger for default.
func NewPipeline(s PipelineStore, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		store:  s,
		clock:  time.Now,
		logger: logger.With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Create validates and stores a message, returning it with its generated id.
func (p *Pipeline) Create(ctx context.Context, in NewMessage) (*store.Message, error) {
	content := strings.TrimSpace(in.Content)
	switch {
	case in.ConversationID <= 0:
		return nil, &ValidationError{Field: "conversation_id", Reason: "must be a positive id"}
	case content == "":
		return nil, &ValidationError{Field: "content", Reason: "must not be blank"}
	case !in.Type.Valid():
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown message type %q", in.Type)}
	}

	sender := strings.TrimSpace(in.Sender)
	if sender == "" {
		sender = string(in.Type)
	}

	msg := &store.Message{
		ConversationID: in.ConversationID,
		Content:        content,
		Type:           in.Type,
		Sender:         sender,
		Timestamp:      p.stamp(),
		IsDerivation:   in.IsDerivation,
	}
	if err := p.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("storing message: %w", err)
	}

	p.logger.Debug("message stored",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"type", msg.Type)
	return msg, nil
}

// History returns messages of a conversation in ascending order.
func (p *Pipeline) History(ctx context.Context, conversationID int64, limit, offset int) ([]*store.Message, error) {
	if offset < 0 {
		return nil, &ValidationError{Field: "offset", Reason: "must not be negative"}
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	msgs, err := p.store.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return msgs, nil
}

// stamp returns the clock reading, nudged forward when it does not advance
// past the previous stamp.
func (p *Pipeline) stamp() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := p.clock().UTC()
	if !ts.After(p.last) {
		ts = p.last.Add(time.Microsecond)
	}
	p.last = ts
	return ts
}
