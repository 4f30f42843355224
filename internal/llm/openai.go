// ABOUTME: OpenAI-compatible provider built on sashabaranov/go-openai
// ABOUTME: Works with OpenAI, OpenRouter and any server exposing /chat/completions

package llm

import (
	"context"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// ProviderOpenAI is the provider name used in configuration
const ProviderOpenAI = "openai"

// OpenAIProvider calls the chat completions endpoint
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a provider. An empty baseURL selects the public OpenAI API.
func NewOpenAI(apiKey, baseURL, model string, httpClient *http.Client) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if httpClient != nil {
		config.HTTPClient = httpClient
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// Generate sends the prompt as a system message followed by the conversation turns.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt Prompt, opts Options) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(prompt.Conversation)+1)
	if prompt.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt.System})
	}
	for _, turn := range prompt.Conversation {
		role := openai.ChatMessageRoleUser
		if turn.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}

	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", &ProviderError{Provider: ProviderOpenAI, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: ProviderOpenAI, Err: ErrEmptyResponse}
	}
	return nonEmpty(ProviderOpenAI, resp.Choices[0].Message.Content)
}
