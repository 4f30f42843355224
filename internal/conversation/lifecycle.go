// ABOUTME: Conversation lifecycle state machine: ai_responding -> awaiting_human -> closed
// ABOUTME: Guarantees at most one open conversation per client using the store's unique index

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/prism-gateway/internal/store"
)

// LifecycleStore defines what the lifecycle manager needs from storage
type LifecycleStore interface {
	GetActiveConversation(ctx context.Context, clientID string) (*store.Conversation, error)
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id int64) (*store.Conversation, error)
	UpdateConversation(ctx context.Context, conv *store.Conversation, from store.ConversationState) error
}

// Lifecycle owns conversation state transitions
type Lifecycle struct {
	store  LifecycleStore
	now    func() time.Time
	logger *slog.Logger
}

// NewLifecycle creates a lifecycle manager. Pass nil logger for default.
func NewLifecycle(s LifecycleStore, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		store:  s,
		now:    time.Now,
		logger: logger.With("component", "lifecycle"),
	}
}

// GetOrCreateActive returns the client's open conversation, creating one in
// ai_responding when none exists. Concurrent callers for the same client all
// receive the same conversation.
func (l *Lifecycle) GetOrCreateActive(ctx context.Context, clientID string) (*store.Conversation, error) {
	conv, err := l.store.GetActiveConversation(ctx, clientID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up active conversation: %w", err)
	}

	now := l.now().UTC()
	conv = &store.Conversation{
		ClientID:  clientID,
		State:     store.StateAIResponding,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.CreateConversation(ctx, conv); err != nil {
		// Another request opened one between our lookup and insert
		if errors.Is(err, store.ErrDuplicateConversation) {
			existing, getErr := l.store.GetActiveConversation(ctx, clientID)
			if getErr != nil {
				return nil, fmt.Errorf("fetching conversation after duplicate: %w", getErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	l.logger.Info("conversation opened", "conversation_id", conv.ID, "client_id", clientID)
	return conv, nil
}

// Escalate hands the conversation to humans. When areaID is non-nil the
// conversation is assigned to that area and stamped with the derivation time.
// Escalating an already escalated conversation keeps its state.
func (l *Lifecycle) Escalate(ctx context.Context, conversationID int64, areaID *int64) (*store.Conversation, error) {
	return l.apply(ctx, conversationID, store.StateAwaitingHuman, func(conv *store.Conversation, now time.Time) {
		if areaID != nil {
			id := *areaID
			conv.AreaID = &id
			conv.DerivedAt = &now
		}
	})
}

// Close ends the conversation. Closed is terminal.
func (l *Lifecycle) Close(ctx context.Context, conversationID int64) (*store.Conversation, error) {
	return l.apply(ctx, conversationID, store.StateClosed, nil)
}

// maxTransitionAttempts bounds re-reads when another writer changes the
// state between our read and our write.
const maxTransitionAttempts = 3

func (l *Lifecycle) apply(ctx context.Context, conversationID int64, to store.ConversationState, mutate func(*store.Conversation, time.Time)) (*store.Conversation, error) {
	for attempt := 1; ; attempt++ {
		conv, err := l.store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("loading conversation %d: %w", conversationID, err)
		}

		if !canTransition(conv.State, to) {
			return nil, &TransitionError{ConversationID: conv.ID, From: conv.State, To: to}
		}

		from := conv.State
		now := l.now().UTC()
		conv.State = to
		conv.UpdatedAt = now
		if mutate != nil {
			mutate(conv, now)
		}

		err = l.store.UpdateConversation(ctx, conv, from)
		if errors.Is(err, store.ErrStateConflict) && attempt < maxTransitionAttempts {
			l.logger.Debug("conversation changed during transition, retrying",
				"conversation_id", conversationID,
				"attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("updating conversation %d: %w", conversationID, err)
		}

		if from != to {
			l.logger.Info("conversation state changed",
				"conversation_id", conv.ID,
				"from", from,
				"to", to)
		}
		return conv, nil
	}
}

// canTransition encodes the state machine. Nothing leaves closed.
func canTransition(from, to store.ConversationState) bool {
	switch from {
	case store.StateAIResponding:
		return to == store.StateAwaitingHuman || to == store.StateClosed
	case store.StateAwaitingHuman:
		return to == store.StateAwaitingHuman || to == store.StateClosed
	default:
		return false
	}
}
