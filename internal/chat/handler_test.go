// ABOUTME: End-to-end tests of chat sessions over real WebSocket connections
// ABOUTME: Uses httptest, the mock store and a scripted language model

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/prism-gateway/internal/conversation"
	"github.com/2389/prism-gateway/internal/dedupe"
	"github.com/2389/prism-gateway/internal/llm"
	"github.com/2389/prism-gateway/internal/registry"
	"github.com/2389/prism-gateway/internal/store"
	"github.com/2389/prism-gateway/internal/triage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptedProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (p *scriptedProvider) Generate(ctx context.Context, prompt llm.Prompt, opts llm.Options) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.reply, p.err
}

func (p *scriptedProvider) set(reply string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reply, p.err = reply, err
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// flakyMessages fails CreateMessage for one message type while armed.
type flakyMessages struct {
	*store.MockStore
	mu       sync.Mutex
	failType store.MessageType
}

func (f *flakyMessages) failOn(t store.MessageType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failType = t
}

func (f *flakyMessages) CreateMessage(ctx context.Context, msg *store.Message) error {
	f.mu.Lock()
	fail := f.failType != "" && msg.Type == f.failType
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.MockStore.CreateMessage(ctx, msg)
}

type harness struct {
	store     *store.MockStore
	messages  *flakyMessages
	provider  *scriptedProvider
	registry  *registry.Registry
	lifecycle *conversation.Lifecycle
	url       string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := store.NewMockStore()
	reg := registry.New(testLogger())
	provider := &scriptedProvider{reply: "Hola, ¿en qué te ayudo?"}
	cache := dedupe.New(time.Minute, 100)
	lifecycle := conversation.NewLifecycle(s, testLogger())
	messages := &flakyMessages{MockStore: s}

	h := NewHandler(Config{
		Registry:  reg,
		Store:     s,
		Lifecycle: lifecycle,
		Pipeline:  conversation.NewPipeline(messages, testLogger()),
		Triage:    triage.NewEngine(s, provider, triage.DefaultConfig(), testLogger()),
		Dedupe:    cache,
		Logger:    testLogger(),
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, strings.TrimPrefix(r.URL.Path, "/ws/"))
	}))
	t.Cleanup(func() {
		reg.Close()
		srv.Close()
		cache.Close()
	})

	return &harness{
		store:     s,
		messages:  messages,
		provider:  provider,
		registry:  reg,
		lifecycle: lifecycle,
		url:       "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/",
	}
}

// dial connects and consumes the connection_established greeting.
func (h *harness) dial(t *testing.T, connectionID string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.Dial(t.Context(), h.url+connectionID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.CloseNow() })

	hello := read(t, ws)
	require.Equal(t, TypeConnectionEstablished, hello.Type)
	assert.Equal(t, connectionID, hello.ConnectionID)
	assert.Equal(t, WelcomeText, hello.text(t))
	return ws
}

type testEnvelope struct {
	Type           string                `json:"type"`
	Timestamp      string                `json:"timestamp"`
	ConnectionID   string                `json:"connection_id"`
	ConversationID int64                 `json:"conversation_id"`
	ClientID       string                `json:"client_id"`
	ClientName     string                `json:"client_name"`
	Message        json.RawMessage       `json:"message"`
	Messages       []MessagePayload      `json:"messages"`
	Conversations  []ConversationPayload `json:"conversations"`
	Area           *AreaPayload          `json:"area"`
	Notice         string                `json:"notice"`
	State          string                `json:"state"`
	IsTyping       bool                  `json:"is_typing"`
	Sender         string                `json:"sender"`
	Escalating     bool                  `json:"escalating"`
	Duplicate      bool                  `json:"duplicate"`
	MessageID      int64                 `json:"message_id"`
}

func (e testEnvelope) payload(t *testing.T) MessagePayload {
	t.Helper()
	var p MessagePayload
	require.NoError(t, json.Unmarshal(e.Message, &p), "envelope %s has no message object", e.Type)
	return p
}

func (e testEnvelope) text(t *testing.T) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(e.Message, &s), "envelope %s has no message text", e.Type)
	return s
}

func read(t *testing.T, ws *websocket.Conn) testEnvelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	_, data, err := ws.Read(ctx)
	require.NoError(t, err)

	var env testEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	_, err = time.Parse(time.RFC3339Nano, env.Timestamp)
	require.NoError(t, err, "timestamp %q", env.Timestamp)
	return env
}

func send(t *testing.T, ws *websocket.Conn, frame map[string]any) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, ws.Write(t.Context(), websocket.MessageText, data))
}

func clientMessage(text string) map[string]any {
	return map[string]any{
		"type":        TypeNewClientMessage,
		"client_id":   "42",
		"client_name": "Ana",
		"message":     text,
	}
}

func TestSession_ClientMessageGetsAssistantReply(t *testing.T) {
	h := newHarness(t)
	admin := h.dial(t, "admin")
	client := h.dial(t, "client_42")

	frame := clientMessage("Hola")
	frame["client_message_id"] = "m1"
	send(t, client, frame)

	ack := read(t, client)
	require.Equal(t, TypeMessageAck, ack.Type)
	assert.False(t, ack.Duplicate)
	assert.Positive(t, ack.MessageID)

	posted := read(t, client)
	require.Equal(t, TypeNewMessage, posted.Type)
	assert.Equal(t, "42", posted.ClientID)
	assert.Equal(t, "Ana", posted.ClientName)
	msg := posted.payload(t)
	assert.Equal(t, ack.MessageID, msg.ID)
	assert.Equal(t, "Hola", msg.Content)
	assert.Equal(t, "<p>Hola</p>", msg.ContentHTML)
	assert.Equal(t, "client", msg.MessageType)
	assert.Equal(t, "Ana", msg.Sender)

	answer := read(t, client)
	require.Equal(t, TypeAIResponse, answer.Type)
	assert.Equal(t, posted.ConversationID, answer.ConversationID)
	assert.False(t, answer.Escalating)
	reply := answer.payload(t)
	assert.Equal(t, "Hola, ¿en qué te ayudo?", reply.Content)
	assert.Equal(t, "assistant", reply.MessageType)
	assert.Equal(t, triage.AssistantSender, reply.Sender)

	// the operator panel sees the new message but is not subscribed yet
	seen := read(t, admin)
	assert.Equal(t, TypeNewMessage, seen.Type)
	assert.Equal(t, posted.ConversationID, seen.ConversationID)

	conv, err := h.store.GetConversation(t.Context(), posted.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, store.StateAIResponding, conv.State)

	c, err := h.store.GetOrCreateClient(t.Context(), "42", "")
	require.NoError(t, err)
	assert.Equal(t, store.ClientStatusActive, c.Status)

	assert.Equal(t, []string{"client_42"}, h.registry.SubscribersOf(conv.ID))
}

func TestSession_DefaultClientName(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, "client_7")

	send(t, client, map[string]any{"type": TypeNewClientMessage, "client_id": "7", "message": "hola"})
	posted := read(t, client)
	require.Equal(t, TypeNewMessage, posted.Type)
	assert.Equal(t, "Cliente 7", posted.ClientName)
	assert.Equal(t, "Cliente 7", posted.payload(t).Sender)
}

func TestSession_DuplicateClientMessageDropped(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, "client_42")

	frame := clientMessage("Hola")
	frame["client_message_id"] = "retry-1"

	send(t, client, frame)
	for _, want := range []string{TypeMessageAck, TypeNewMessage, TypeAIResponse} {
		require.Equal(t, want, read(t, client).Type)
	}

	send(t, client, frame)
	dup := read(t, client)
	require.Equal(t, TypeMessageAck, dup.Type)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, 1, h.provider.callCount())

	active, err := h.store.ListActiveConversations(t.Context())
	require.NoError(t, err)
	require.Len(t, active, 1)

	send(t, client, map[string]any{"type": TypeGetConversationHistory, "conversation_id": active[0].ID})
	history := read(t, client)
	require.Equal(t, TypeConversationHistory, history.Type)
	assert.Len(t, history.Messages, 2)
}

func TestSession_RetransmissionAfterReplyFailureIsNotStoredTwice(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, "client_42")
	h.messages.failOn(store.MessageTypeAssistant)

	frame := clientMessage("Hola")
	frame["client_message_id"] = "once-1"

	send(t, client, frame)
	for _, want := range []string{TypeMessageAck, TypeNewMessage, TypeError} {
		require.Equal(t, want, read(t, client).Type)
	}

	h.messages.failOn("")
	send(t, client, frame)
	dup := read(t, client)
	require.Equal(t, TypeMessageAck, dup.Type)
	assert.True(t, dup.Duplicate)

	active, err := h.store.ListActiveConversations(t.Context())
	require.NoError(t, err)
	require.Len(t, active, 1)
	stored, err := h.store.ListMessages(t.Context(), active[0].ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, store.MessageTypeClient, stored[0].Type)
}

func TestSession_RetransmissionAfterStoreFailureIsProcessed(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, "client_42")
	h.messages.failOn(store.MessageTypeClient)

	frame := clientMessage("Hola")
	frame["client_message_id"] = "retry-2"

	send(t, client, frame)
	require.Equal(t, TypeError, read(t, client).Type)

	h.messages.failOn("")
	send(t, client, frame)
	ack := read(t, client)
	require.Equal(t, TypeMessageAck, ack.Type)
	assert.False(t, ack.Duplicate)
	assert.Positive(t, ack.MessageID)
}

func TestSession_ExplicitDerivationEscalates(t *testing.T) {
	h := newHarness(t)
	area := &store.Area{
		Name:            "Tributaria",
		Instructions:    "Declaración de renta e impuestos",
		Active:          true,
		Specialist:      "Laura",
		ResponseMinutes: func() *int { v := 30; return &v }(),
	}
	require.NoError(t, h.store.CreateArea(t.Context(), area))
	h.provider.set("Te ayudo con eso.\n🔄 DERIVAR: Tributaria", nil)

	client := h.dial(t, "client_42")
	send(t, client, clientMessage("Necesito declarar renta"))

	require.Equal(t, TypeNewMessage, read(t, client).Type)

	answer := read(t, client)
	require.Equal(t, TypeAIResponse, answer.Type)
	assert.True(t, answer.Escalating)
	assert.Equal(t, "Te ayudo con eso.", answer.payload(t).Content)

	transfer := read(t, client)
	require.Equal(t, TypeTransferNotification, transfer.Type)
	assert.Equal(t, string(store.StateAwaitingHuman), transfer.State)
	require.NotNil(t, transfer.Area)
	assert.Equal(t, "Tributaria", transfer.Area.Name)
	assert.Equal(t, "Laura", transfer.Area.Specialist)
	assert.Contains(t, transfer.Notice, "Tiempo estimado: 30 minutos")
	record := transfer.payload(t)
	assert.True(t, record.IsDerivation)
	assert.Equal(t, "system", record.MessageType)
	assert.Equal(t, triage.SystemSender, record.Sender)

	conv, err := h.store.GetConversation(t.Context(), transfer.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, store.StateAwaitingHuman, conv.State)
	require.NotNil(t, conv.AreaID)
	assert.Equal(t, area.ID, *conv.AreaID)
	assert.NotNil(t, conv.DerivedAt)

	assert.Eventually(t, func() bool {
		c, err := h.store.GetOrCreateClient(t.Context(), "42", "")
		return err == nil && c.Status == store.ClientStatusEscalated
	}, 2*time.Second, 10*time.Millisecond)

	// escalated conversations no longer reach the assistant
	send(t, client, clientMessage("¿Sigues ahí?"))
	require.Equal(t, TypeNewMessage, read(t, client).Type)
	send(t, client, map[string]any{"type": TypeGetConversationHistory, "conversation_id": conv.ID})
	history := read(t, client)
	require.Equal(t, TypeConversationHistory, history.Type)
	assert.Len(t, history.Messages, 4)
	assert.Equal(t, 1, h.provider.callCount())
}

func TestSession_ProviderFailureFallsBackAndEscalates(t *testing.T) {
	h := newHarness(t)
	h.provider.set("", errors.New("upstream 503"))

	client := h.dial(t, "client_42")
	send(t, client, clientMessage("Hola"))

	require.Equal(t, TypeNewMessage, read(t, client).Type)

	answer := read(t, client)
	require.Equal(t, TypeAIResponse, answer.Type)
	assert.Equal(t, triage.FallbackResponse, answer.payload(t).Content)

	transfer := read(t, client)
	require.Equal(t, TypeTransferNotification, transfer.Type)
	assert.Nil(t, transfer.Area)

	conv, err := h.store.GetConversation(t.Context(), transfer.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, store.StateAwaitingHuman, conv.State)
	assert.Nil(t, conv.AreaID)
}

func TestSession_AdminResponse(t *testing.T) {
	h := newHarness(t)
	admin := h.dial(t, "admin")
	client := h.dial(t, "client_42")

	send(t, client, clientMessage("Hola"))
	posted := read(t, client)
	require.Equal(t, TypeNewMessage, posted.Type)
	require.Equal(t, TypeAIResponse, read(t, client).Type)
	require.Equal(t, TypeNewMessage, read(t, admin).Type)

	send(t, admin, map[string]any{
		"type":            TypeAdminResponse,
		"conversation_id": posted.ConversationID,
		"message":         "Soy un especialista",
	})

	for _, ws := range []*websocket.Conn{admin, client} {
		env := read(t, ws)
		require.Equal(t, TypeAdminResponse, env.Type)
		msg := env.payload(t)
		assert.Equal(t, "Soy un especialista", msg.Content)
		assert.Equal(t, DefaultAdminName, msg.Sender)
		assert.Equal(t, "human", msg.MessageType)
	}

	conv, err := h.store.GetConversation(t.Context(), posted.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, store.StateAwaitingHuman, conv.State)
	assert.ElementsMatch(t, []string{"admin", "client_42"}, h.registry.SubscribersOf(conv.ID))
}

func TestSession_AdminResponseToClosedConversation(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, "client_42")
	admin := h.dial(t, "admin")

	send(t, client, clientMessage("Hola"))
	posted := read(t, client)
	require.Equal(t, TypeNewMessage, posted.Type)

	_, err := h.lifecycle.Close(t.Context(), posted.ConversationID)
	require.NoError(t, err)

	require.Equal(t, TypeNewMessage, read(t, admin).Type)
	send(t, admin, map[string]any{
		"type":            TypeAdminResponse,
		"conversation_id": posted.ConversationID,
		"message":         "¿Sigues ahí?",
	})
	env := read(t, admin)
	require.Equal(t, TypeError, env.Type)
	assert.Equal(t, "La conversación está cerrada", env.text(t))
}

func TestSession_AdminResponseStoreFailureKeepsAssistant(t *testing.T) {
	h := newHarness(t)
	admin := h.dial(t, "admin")
	client := h.dial(t, "client_42")

	send(t, client, clientMessage("Hola"))
	posted := read(t, client)
	require.Equal(t, TypeNewMessage, posted.Type)
	require.Equal(t, TypeAIResponse, read(t, client).Type)
	require.Equal(t, TypeNewMessage, read(t, admin).Type)

	h.messages.failOn(store.MessageTypeHuman)
	send(t, admin, map[string]any{
		"type":            TypeAdminResponse,
		"conversation_id": posted.ConversationID,
		"message":         "Soy un especialista",
	})
	env := read(t, admin)
	require.Equal(t, TypeError, env.Type)
	assert.Equal(t, "Error procesando mensaje", env.text(t))

	conv, err := h.store.GetConversation(t.Context(), posted.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, store.StateAIResponding, conv.State)
}

func TestSession_RejectedFrames(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, "client_42")

	tests := []struct {
		frame string
		want  string
	}{
		{`{"type":"bogus"}`, "Tipo de mensaje desconocido: bogus"},
		{`not json`, "Mensaje mal formado"},
		{`{"type":"new_client_message","client_id":"42","message":"  "}`, "Mensaje inválido: invalid message: is required"},
		{`{"type":"join_conversation","conversation_id":999}`, "Conversación no encontrada"},
	}
	for _, tt := range tests {
		require.NoError(t, client.Write(t.Context(), websocket.MessageText, []byte(tt.frame)))
		env := read(t, client)
		require.Equal(t, TypeError, env.Type, tt.frame)
		assert.Equal(t, tt.want, env.text(t), tt.frame)
	}

	active, err := h.store.ListActiveConversations(t.Context())
	require.NoError(t, err)
	assert.Empty(t, active, "rejected frames must not create conversations")
}

func TestSession_JoinAndTyping(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, "client_42")
	admin := h.dial(t, "admin")

	send(t, client, clientMessage("Hola"))
	posted := read(t, client)
	require.Equal(t, TypeNewMessage, posted.Type)
	require.Equal(t, TypeAIResponse, read(t, client).Type)
	require.Equal(t, TypeNewMessage, read(t, admin).Type)

	send(t, admin, map[string]any{"type": TypeJoinConversation, "conversation_id": posted.ConversationID})
	require.Eventually(t, func() bool {
		return len(h.registry.SubscribersOf(posted.ConversationID)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	send(t, client, map[string]any{
		"type":            TypeTypingIndicator,
		"conversation_id": posted.ConversationID,
		"is_typing":       true,
		"sender_name":     "Ana",
	})
	for _, ws := range []*websocket.Conn{client, admin} {
		typing := read(t, ws)
		require.Equal(t, TypeTypingIndicator, typing.Type)
		assert.True(t, typing.IsTyping)
		assert.Equal(t, "Ana", typing.Sender)
	}

	send(t, admin, map[string]any{"type": TypeTypingIndicator, "conversation_id": posted.ConversationID})
	relayed := read(t, client)
	require.Equal(t, TypeTypingIndicator, relayed.Type)
	assert.False(t, relayed.IsTyping)
	assert.Equal(t, DefaultTypingName, relayed.Sender)
}

func TestSession_ActiveConversationsAndHistoryPaging(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, "client_42")
	admin := h.dial(t, "admin")

	send(t, client, clientMessage("Primera"))
	posted := read(t, client)
	require.Equal(t, TypeNewMessage, posted.Type)
	require.Equal(t, TypeAIResponse, read(t, client).Type)
	require.Equal(t, TypeNewMessage, read(t, admin).Type)

	send(t, admin, map[string]any{"type": TypeGetActiveConversations})
	list := read(t, admin)
	require.Equal(t, TypeActiveConversations, list.Type)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, posted.ConversationID, list.Conversations[0].ID)
	assert.Equal(t, "Ana", list.Conversations[0].ClientName)
	assert.Equal(t, string(store.StateAIResponding), list.Conversations[0].State)

	send(t, admin, map[string]any{
		"type":            TypeGetConversationHistory,
		"conversation_id": posted.ConversationID,
		"limit":           1,
		"offset":          1,
	})
	page := read(t, admin)
	require.Equal(t, TypeConversationHistory, page.Type)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "assistant", page.Messages[0].MessageType)
}

func TestSession_ReconnectReplacesRegistration(t *testing.T) {
	h := newHarness(t)
	first := h.dial(t, "admin")
	h.dial(t, "admin")

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	_, _, err := first.Read(ctx)
	require.Error(t, err, "replaced socket is closed by the server")

	assert.Equal(t, []string{"admin"}, h.registry.Stats().Connections)
}

func TestSession_DisconnectUnregisters(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, "client_42")

	send(t, client, clientMessage("Hola"))
	posted := read(t, client)
	require.Equal(t, TypeAIResponse, read(t, client).Type)

	_ = client.Close(websocket.StatusNormalClosure, "bye")

	assert.Eventually(t, func() bool {
		_, ok := h.registry.Lookup("client_42")
		return !ok && len(h.registry.SubscribersOf(posted.ConversationID)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
