// ABOUTME: WebSocket session handler: registers the connection, runs its read loop and dispatches frames
// ABOUTME: Frames from one connection are handled in order; work outlives the socket via context.WithoutCancel

package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/prism-gateway/internal/conversation"
	"github.com/2389/prism-gateway/internal/dedupe"
	"github.com/2389/prism-gateway/internal/registry"
	"github.com/2389/prism-gateway/internal/store"
	"github.com/2389/prism-gateway/internal/triage"
)

const (
	// DefaultReadLimit caps a single inbound frame.
	DefaultReadLimit = 64 << 10
	// DefaultFrameTimeout bounds the work triggered by one frame, model call included.
	DefaultFrameTimeout = 60 * time.Second
)

// Store defines what the chat layer reads and writes directly
type Store interface {
	GetOrCreateClient(ctx context.Context, id, name string) (*store.Client, error)
	UpdateClientStatus(ctx context.Context, id, status string) error
	GetConversation(ctx context.Context, id int64) (*store.Conversation, error)
	ListActiveConversations(ctx context.Context) ([]*store.ConversationSummary, error)
}

// Triage decides how to answer a client message
type Triage interface {
	Evaluate(ctx context.Context, req triage.Request) triage.Decision
}

// Config wires a Handler. Triage and Dedupe are optional.
type Config struct {
	Registry  *registry.Registry
	Store     Store
	Lifecycle *conversation.Lifecycle
	Pipeline  *conversation.Pipeline
	Triage    Triage
	Dedupe    *dedupe.Cache

	// AllowedOrigins lists host patterns accepted in the Origin header.
	// "*" accepts any origin; empty allows same-origin requests only.
	AllowedOrigins []string
	ReadLimit      int64
	FrameTimeout   time.Duration
	Logger         *slog.Logger
}

// Handler serves WebSocket chat sessions
type Handler struct {
	registry     *registry.Registry
	store        Store
	lifecycle    *conversation.Lifecycle
	pipeline     *conversation.Pipeline
	triage       Triage
	dedupe       *dedupe.Cache
	accept       websocket.AcceptOptions
	readLimit    int64
	frameTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewHandler creates a chat handler from cfg.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		registry:     cfg.Registry,
		store:        cfg.Store,
		lifecycle:    cfg.Lifecycle,
		pipeline:     cfg.Pipeline,
		triage:       cfg.Triage,
		dedupe:       cfg.Dedupe,
		readLimit:    cfg.ReadLimit,
		frameTimeout: cfg.FrameTimeout,
		now:          time.Now,
		logger:       logger.With("component", "chat"),
	}
	if h.readLimit <= 0 {
		h.readLimit = DefaultReadLimit
	}
	if h.frameTimeout <= 0 {
		h.frameTimeout = DefaultFrameTimeout
	}
	if slices.Contains(cfg.AllowedOrigins, "*") {
		h.accept.InsecureSkipVerify = true
	} else {
		h.accept.OriginPatterns = cfg.AllowedOrigins
	}
	return h
}

// ServeWS upgrades the request and runs the session until the socket closes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request, connectionID string) {
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		http.Error(w, "connection id required", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &h.accept)
	if err != nil {
		// Accept has already written the HTTP error
		h.logger.Warn("websocket upgrade failed", "connection_id", connectionID, "error", err)
		return
	}
	ws.SetReadLimit(h.readLimit)

	h.serve(r.Context(), connectionID, ws)
}

func (h *Handler) serve(ctx context.Context, connectionID string, ws *websocket.Conn) {
	log := h.logger.With("connection_id", connectionID)
	conn := h.registry.Register(connectionID, &wsTransport{conn: ws})
	defer func() {
		if h.registry.Release(conn) {
			log.Info("connection closed")
		}
		_ = ws.CloseNow()
	}()

	h.reply(ctx, conn, encodeConnectionEstablished(connectionID, h.now()))

	work := context.WithoutCancel(ctx)
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Debug("peer closed connection")
			default:
				log.Debug("read loop ended", "error", err)
			}
			return
		}
		h.handleFrame(work, conn, data)
	}
}

func (h *Handler) handleFrame(ctx context.Context, conn *registry.Connection, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, h.frameTimeout)
	defer cancel()

	in, err := DecodeInbound(data)
	if err == nil {
		err = h.dispatch(ctx, conn, in)
	}
	if err != nil {
		h.logger.Warn("frame rejected", "connection_id", conn.ID, "error", err)
		h.reply(ctx, conn, encodeError(clientErrorText(err), h.now()))
	}
}

func (h *Handler) dispatch(ctx context.Context, conn *registry.Connection, in Inbound) error {
	switch m := in.(type) {
	case *NewClientMessage:
		return h.onClientMessage(ctx, conn, m)
	case *AdminResponse:
		return h.onAdminResponse(ctx, conn, m)
	case *JoinConversation:
		return h.onJoin(ctx, conn, m)
	case *GetConversationHistory:
		return h.onHistory(ctx, conn, m)
	case *GetActiveConversations:
		return h.onActiveConversations(ctx, conn)
	case *TypingIndicator:
		return h.onTyping(ctx, m)
	}
	return &UnknownTypeError{Type: in.inboundType()}
}

// reply sends to the requesting registration only.
func (h *Handler) reply(ctx context.Context, conn *registry.Connection, payload []byte) {
	if err := h.registry.SendToConnection(ctx, conn, payload); err != nil {
		h.logger.Debug("reply not delivered", "connection_id", conn.ID, "error", err)
	}
}

func (h *Handler) logDelivery(event string, d registry.Delivery) {
	if len(d.Failed) > 0 {
		h.logger.Warn("broadcast partially failed", "event", event, "delivered", d.Delivered, "failed", len(d.Failed))
	}
}

// clientErrorText maps an error to the text shown to clients. Internal error
// text is never exposed.
func clientErrorText(err error) string {
	var (
		unknown    *UnknownTypeError
		validation *conversation.ValidationError
	)
	switch {
	case errors.As(err, &unknown):
		return "Tipo de mensaje desconocido: " + unknown.Type
	case errors.As(err, &validation):
		return "Mensaje inválido: " + validation.Error()
	case errors.Is(err, ErrMalformedFrame):
		return "Mensaje mal formado"
	case errors.Is(err, conversation.ErrInvalidTransition):
		return "La conversación está cerrada"
	case errors.Is(err, store.ErrNotFound):
		return "Conversación no encontrada"
	default:
		return "Error procesando mensaje"
	}
}
