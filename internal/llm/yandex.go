// ABOUTME: YandexGPT provider built on Morwran/yagpt
// ABOUTME: Exchanges the OAuth token for an IAM token and refreshes it before it expires

package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Morwran/yagpt"
)

// ProviderYandex is the provider name used in configuration
const ProviderYandex = "yandex"

// iamTokenTTL is shorter than the 12h lifetime Yandex grants IAM tokens.
const iamTokenTTL = time.Hour

// YandexProvider calls the YandexGPT completion API.
// Temperature and token limits are fixed by the yagpt client.
type YandexProvider struct {
	ya     yagpt.YaGPTFace
	newIAM func() (string, error)

	mu        sync.Mutex
	iamToken  string
	refreshed time.Time
}

// NewYandex creates a provider for a Yandex Cloud folder.
func NewYandex(oauthToken, folderID string) (*YandexProvider, error) {
	iam, err := yagpt.NewYaIam(oauthToken)
	if err != nil {
		return nil, fmt.Errorf("initializing yandex iam: %w", err)
	}
	ya, err := yagpt.NewYagpt(folderID)
	if err != nil {
		return nil, fmt.Errorf("initializing yagpt: %w", err)
	}
	p := &YandexProvider{
		ya: ya,
		newIAM: func() (string, error) {
			resp, err := iam.Create()
			if err != nil {
				return "", err
			}
			return resp.IamToken, nil
		},
	}
	if _, err := p.token(); err != nil {
		return nil, err
	}
	return p, nil
}

// Generate sends the system prompt and conversation turns to YandexGPT.
func (p *YandexProvider) Generate(ctx context.Context, prompt Prompt, _ Options) (string, error) {
	token, err := p.token()
	if err != nil {
		return "", &ProviderError{Provider: ProviderYandex, Err: err}
	}

	msgs := make([]yagpt.Message, 0, len(prompt.Conversation)+1)
	if prompt.System != "" {
		msgs = append(msgs, yagpt.Message{Role: "system", Content: prompt.System})
	}
	for _, turn := range prompt.Conversation {
		msgs = append(msgs, yagpt.Message{Role: string(turn.Role), Content: turn.Content})
	}

	resp, err := p.ya.CompletionWithCtx(ctx, token, msgs)
	if err != nil {
		return "", &ProviderError{Provider: ProviderYandex, Err: err}
	}
	if resp == nil || len(resp.Alternatives) == 0 {
		return "", &ProviderError{Provider: ProviderYandex, Err: ErrEmptyResponse}
	}
	return nonEmpty(ProviderYandex, resp.Alternatives[0].Message.Content)
}

func (p *YandexProvider) token() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.iamToken != "" && time.Since(p.refreshed) < iamTokenTTL {
		return p.iamToken, nil
	}
	token, err := p.newIAM()
	if err != nil {
		return "", fmt.Errorf("creating iam token: %w", err)
	}
	p.iamToken = token
	p.refreshed = time.Now()
	return p.iamToken, nil
}
