// ABOUTME: Tests for gateway construction, the HTTP API and shutdown
// ABOUTME: Runs the router through httptest with the mock store and a canned provider

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/prism-gateway/internal/chat"
	"github.com/2389/prism-gateway/internal/config"
	"github.com/2389/prism-gateway/internal/llm"
	"github.com/2389/prism-gateway/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type cannedProvider struct{}

func (cannedProvider) Generate(ctx context.Context, prompt llm.Prompt, opts llm.Options) (string, error) {
	return "Con gusto te ayudo.", nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "prism.db")
	cfg.LLM.APIKey = "sk-test"
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

type testGateway struct {
	gw    *Gateway
	store *store.MockStore
	srv   *httptest.Server
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	s := store.NewMockStore()
	gw, err := New(t.Context(), testConfig(t), testLogger(), WithStore(s), WithProvider(cannedProvider{}))
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = gw.Shutdown(context.Background())
	})
	return &testGateway{gw: gw, store: s, srv: srv}
}

func (tg *testGateway) get(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, tg.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (tg *testGateway) post(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, tg.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (tg *testGateway) openConversation(t *testing.T, clientID, name string) *store.Conversation {
	t.Helper()
	_, err := tg.store.GetOrCreateClient(t.Context(), clientID, name)
	require.NoError(t, err)
	conv, err := tg.gw.lifecycle.GetOrCreateActive(t.Context(), clientID)
	require.NoError(t, err)
	return conv
}

func TestHealth(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))
}

func TestHealthReady(t *testing.T) {
	tg := newTestGateway(t)

	assert.Equal(t, http.StatusOK, tg.get(t, "/health/ready").StatusCode)

	tg.store.SetErr(errors.New("database gone"))
	assert.Equal(t, http.StatusServiceUnavailable, tg.get(t, "/health/ready").StatusCode)
}

func TestAreaMatch(t *testing.T) {
	tg := newTestGateway(t)
	minutes := 30
	require.NoError(t, tg.store.CreateArea(t.Context(), &store.Area{
		Name:            "Tributaria",
		Instructions:    "Atiende declaracion de renta, impuestos y retenciones",
		Active:          true,
		Specialist:      "Laura",
		ResponseMinutes: &minutes,
	}))
	require.NoError(t, tg.store.CreateArea(t.Context(), &store.Area{
		Name:         "Legal",
		Instructions: "Contratos y constitucion de empresas",
		Active:       true,
	}))

	t.Run("best area", func(t *testing.T) {
		resp := tg.get(t, "/api/areas/match?query=necesito+declarar+renta")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[AreaMatchResponse](t, resp)
		assert.Equal(t, "Tributaria", got.Area.Name)
		assert.Equal(t, "Laura", got.Area.Specialist)
		require.NotNil(t, got.Area.ResponseMinutes)
		assert.Equal(t, 30, *got.Area.ResponseMinutes)
		assert.Greater(t, got.Score, 0.3)
	})

	t.Run("short query", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, tg.get(t, "/api/areas/match?query=iva").StatusCode)
	})

	t.Run("no match", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, tg.get(t, "/api/areas/match?query=buenos+dias").StatusCode)
	})
}

func TestListConversations(t *testing.T) {
	tg := newTestGateway(t)
	conv := tg.openConversation(t, "42", "Ana")

	resp := tg.get(t, "/api/conversations")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	got := decode[ConversationsResponse](t, resp)
	require.Len(t, got.Conversations, 1)
	assert.Equal(t, conv.ID, got.Conversations[0].ID)
	assert.Equal(t, "42", got.Conversations[0].ClientID)
	assert.Equal(t, "Ana", got.Conversations[0].ClientName)
	assert.Equal(t, string(store.StateAIResponding), got.Conversations[0].State)
}

func TestCloseConversation(t *testing.T) {
	tg := newTestGateway(t)
	conv := tg.openConversation(t, "42", "Ana")

	wsURL := "ws" + strings.TrimPrefix(tg.srv.URL, "http") + "/ws/panel"
	ws, _, err := websocket.Dial(t.Context(), wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.CloseNow() })
	readType(t, ws) // connection_established

	join, err := json.Marshal(map[string]any{"type": chat.TypeJoinConversation, "conversation_id": conv.ID})
	require.NoError(t, err)
	require.NoError(t, ws.Write(t.Context(), websocket.MessageText, join))
	require.Eventually(t, func() bool {
		return tg.gw.registry.Stats().Subscriptions[conv.ID] == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp := tg.post(t, "/api/conversations/"+itoa(conv.ID)+"/close")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, chat.TypeConversationClosed, readType(t, ws))

	stored, err := tg.store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateClosed, stored.State)

	t.Run("already closed", func(t *testing.T) {
		assert.Equal(t, http.StatusConflict, tg.post(t, "/api/conversations/"+itoa(conv.ID)+"/close").StatusCode)
	})
	t.Run("unknown", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, tg.post(t, "/api/conversations/999/close").StatusCode)
	})
	t.Run("bad id", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, tg.post(t, "/api/conversations/abc/close").StatusCode)
	})
}

func TestConnections(t *testing.T) {
	tg := newTestGateway(t)

	wsURL := "ws" + strings.TrimPrefix(tg.srv.URL, "http") + "/ws/client_7"
	ws, _, err := websocket.Dial(t.Context(), wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.CloseNow() })
	readType(t, ws)

	resp := tg.get(t, "/api/connections")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats struct {
		Connections []string `json:"connections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, []string{"client_7"}, stats.Connections)
}

func TestCORSPreflight(t *testing.T) {
	tg := newTestGateway(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodOptions, tg.srv.URL+"/api/conversations", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://panel.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodGet)
}

func TestNew_OpensConfiguredStore(t *testing.T) {
	cfg := testConfig(t)
	gw, err := New(t.Context(), cfg, testLogger(), WithProvider(cannedProvider{}))
	require.NoError(t, err)
	assert.True(t, gw.ownsStore)

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/health/ready", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, gw.Shutdown(context.Background()))
}

func TestNew_RejectsMissingCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.APIKey = ""

	_, err := New(t.Context(), cfg, testLogger(), WithStore(store.NewMockStore()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating llm provider")
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	gw, err := New(t.Context(), cfg, testLogger(), WithStore(store.NewMockStore()), WithProvider(cannedProvider{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/custom/state")
	require.NoError(t, err)
	assert.Equal(t, "/custom/state", dir)

	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dir, filepath.Join("prism-gateway", "tailscale")))
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	key, err := resolveTailscaleAuthKey("tskey-configured")
	require.NoError(t, err)
	assert.Equal(t, "tskey-configured", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)

	t.Setenv("TS_AUTHKEY", "")
	_, err = resolveTailscaleAuthKey("")
	assert.Error(t, err)
}

func readType(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	require.NoError(t, err)
	var env struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	return env.Type
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
