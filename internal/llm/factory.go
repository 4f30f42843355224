// ABOUTME: Builds the configured language-model provider
// ABOUTME: Maps a provider name to the OpenAI or YandexGPT adapter

package llm

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Settings selects and configures a provider
type Settings struct {
	Provider string
	Model    string
	Timeout  time.Duration

	// OpenAI-compatible
	APIKey  string
	BaseURL string

	// YandexGPT
	YandexOAuthToken string
	YandexFolderID   string
}

// New creates the provider named in settings.
func New(s Settings) (Provider, error) {
	switch strings.ToLower(s.Provider) {
	case ProviderOpenAI, "":
		if s.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an api key")
		}
		var client *http.Client
		if s.Timeout > 0 {
			client = &http.Client{Timeout: s.Timeout}
		}
		return NewOpenAI(s.APIKey, s.BaseURL, s.Model, client), nil
	case ProviderYandex:
		if s.YandexOAuthToken == "" || s.YandexFolderID == "" {
			return nil, fmt.Errorf("yandex provider requires an oauth token and folder id")
		}
		return NewYandex(s.YandexOAuthToken, s.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", s.Provider)
	}
}
