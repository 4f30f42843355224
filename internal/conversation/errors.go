// ABOUTME: Error types for conversation lifecycle and message validation
// ABOUTME: TransitionError matches ErrInvalidTransition via errors.Is

package conversation

import (
	"errors"
	"fmt"

	"github.com/2389/prism-gateway/internal/store"
)

// ErrInvalidTransition is returned when a lifecycle change is not allowed from the current state
var ErrInvalidTransition = errors.New("invalid conversation state transition")

// TransitionError describes a rejected state change
type TransitionError struct {
	ConversationID int64
	From           store.ConversationState
	To             store.ConversationState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("conversation %d: cannot move from %s to %s", e.ConversationID, e.From, e.To)
}

// Is lets errors.Is(err, ErrInvalidTransition) match.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ValidationError reports a message rejected before it reached the store
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
