// ABOUTME: HTTP routes for health checks, area matching, conversation listing and closing
// ABOUTME: Mounts the chat WebSocket endpoint next to the REST API on a chi router

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/2389/prism-gateway/internal/chat"
	"github.com/2389/prism-gateway/internal/conversation"
	"github.com/2389/prism-gateway/internal/store"
)

// MinMatchQueryLen is the shortest query the area matcher will score.
const MinMatchQueryLen = 5

// AreaMatchResponse is the body of a successful area match
type AreaMatchResponse struct {
	Area  chat.AreaPayload `json:"area"`
	Score float64          `json:"score"`
}

// ConversationsResponse lists open conversations
type ConversationsResponse struct {
	Conversations []chat.ConversationPayload `json:"conversations"`
}

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(g.config.Server.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Get("/areas/match", g.handleAreaMatch)
		r.Get("/conversations", g.handleListConversations)
		r.Post("/conversations/{id}/close", g.handleCloseConversation)
		r.Get("/connections", g.handleConnections)
	})

	r.Get("/ws/{connection_id}", func(w http.ResponseWriter, r *http.Request) {
		g.chat.ServeWS(w, r, chi.URLParam(r, "connection_id"))
	})

	return r
}

// allowedOrigins treats an empty list as any origin.
func allowedOrigins(configured []string) []string {
	if len(configured) == 0 {
		return []string{"*"}
	}
	return configured
}

// handleHealth returns 200 OK as long as the process is serving.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (g *Gateway) handleAreaMatch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if utf8.RuneCountInString(query) < MinMatchQueryLen {
		g.sendJSONError(w, http.StatusNotFound, "no matching area")
		return
	}

	candidates, err := g.store.ListActiveAreas(r.Context())
	if err != nil {
		g.logger.Error("listing areas for match", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list areas")
		return
	}

	area, score := g.matcher.BestMatch(query, candidates)
	if area == nil {
		g.sendJSONError(w, http.StatusNotFound, "no matching area")
		return
	}

	g.sendJSON(w, http.StatusOK, AreaMatchResponse{
		Area: chat.AreaPayload{
			ID:              area.ID,
			Name:            area.Name,
			Specialist:      area.Specialist,
			ResponseMinutes: area.ResponseMinutes,
		},
		Score: score,
	})
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := g.store.ListActiveConversations(r.Context())
	if err != nil {
		g.logger.Error("listing conversations", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	g.sendJSON(w, http.StatusOK, ConversationsResponse{Conversations: chat.ConversationPayloads(list)})
}

func (g *Gateway) handleCloseConversation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		g.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	conv, err := g.lifecycle.Close(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	case errors.Is(err, conversation.ErrInvalidTransition):
		g.sendJSONError(w, http.StatusConflict, "conversation is already closed")
		return
	case err != nil:
		g.logger.Error("closing conversation", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to close conversation")
		return
	}

	d := g.registry.BroadcastToConversation(r.Context(), conv.ID, chat.EncodeConversationClosed(conv.ID, g.now()))
	g.logger.Info("conversation closed", "conversation_id", conv.ID, "notified", d.Delivered)

	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleConnections(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.registry.Stats())
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing JSON response", "error", err)
	}
}

// sendJSONError sends a JSON error response with the given status code and message.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
