// ABOUTME: Tests for the OpenAI-compatible provider against an httptest server
// ABOUTME: Verifies request shape, option passthrough and ProviderError reporting

package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completionServer(t *testing.T, status int, content string, captured *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`))
			return
		}
		resp := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-test",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_Generate(t *testing.T) {
	var req chatRequest
	srv := completionServer(t, http.StatusOK, "  Hola, ¿en qué te ayudo?  ", &req)
	p := NewOpenAI("test-key", srv.URL+"/v1", "gpt-test", nil)

	out, err := p.Generate(t.Context(), Prompt{
		System: "Eres Prism",
		Conversation: []Turn{
			{Role: RoleUser, Content: "hola"},
			{Role: RoleAssistant, Content: "¡hola!"},
			{Role: RoleUser, Content: "necesito ayuda"},
		},
	}, Options{Temperature: 0.5, MaxTokens: 120})
	require.NoError(t, err)
	assert.Equal(t, "Hola, ¿en qué te ayudo?", out)

	assert.Equal(t, "gpt-test", req.Model)
	assert.InDelta(t, 0.5, req.Temperature, 1e-6)
	assert.Equal(t, 120, req.MaxTokens)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "Eres Prism", req.Messages[0].Content)
	assert.Equal(t, "assistant", req.Messages[2].Role)
	assert.Equal(t, "user", req.Messages[3].Role)
}

func TestOpenAI_ModelOverride(t *testing.T) {
	var req chatRequest
	srv := completionServer(t, http.StatusOK, "ok", &req)
	p := NewOpenAI("test-key", srv.URL+"/v1", "gpt-test", nil)

	_, err := p.Generate(t.Context(), Prompt{Conversation: []Turn{{Role: RoleUser, Content: "x"}}}, Options{Model: "gpt-other"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-other", req.Model)
	assert.Equal(t, "user", req.Messages[0].Role, "no system message when the prompt has none")
}

func TestOpenAI_ErrorsAreProviderErrors(t *testing.T) {
	t.Run("http failure", func(t *testing.T) {
		srv := completionServer(t, http.StatusTooManyRequests, "", nil)
		p := NewOpenAI("test-key", srv.URL+"/v1", "gpt-test", nil)

		_, err := p.Generate(t.Context(), Prompt{Conversation: []Turn{{Role: RoleUser, Content: "x"}}}, Options{})
		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, ProviderOpenAI, pe.Provider)
	})

	t.Run("blank completion", func(t *testing.T) {
		srv := completionServer(t, http.StatusOK, "   ", nil)
		p := NewOpenAI("test-key", srv.URL+"/v1", "gpt-test", nil)

		_, err := p.Generate(t.Context(), Prompt{Conversation: []Turn{{Role: RoleUser, Content: "x"}}}, Options{})
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})
}

func TestNew(t *testing.T) {
	p, err := New(Settings{Provider: "OpenAI", APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, p)

	_, err = New(Settings{Provider: "openai"})
	assert.ErrorContains(t, err, "api key")

	_, err = New(Settings{Provider: "yandex"})
	assert.ErrorContains(t, err, "folder id")

	_, err = New(Settings{Provider: "llama"})
	assert.ErrorContains(t, err, "unknown llm provider")
}
