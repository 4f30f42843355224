// ABOUTME: Language-model provider contract used by the triage engine
// ABOUTME: Adapters translate Prompt/Options to a vendor API and report failures as *ProviderError

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is wrapped in a ProviderError when the model returns no text
var ErrEmptyResponse = errors.New("empty response from model")

// Role labels a turn in the conversation sent to the model
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single prior message in the model context
type Turn struct {
	Role    Role
	Content string
}

// Prompt is the full input of a generation call
type Prompt struct {
	System       string
	Conversation []Turn
}

// Options tune a generation call. Zero values leave the provider default.
type Options struct {
	Temperature float64
	MaxTokens   int
	Model       string
}

// Provider generates assistant replies
type Provider interface {
	Generate(ctx context.Context, prompt Prompt, opts Options) (string, error)
}

// ProviderError reports a failed generation call
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// nonEmpty trims text and turns a blank reply into a ProviderError.
func nonEmpty(provider, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &ProviderError{Provider: provider, Err: ErrEmptyResponse}
	}
	return text, nil
}
