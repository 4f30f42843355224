// ABOUTME: Handlers for each inbound frame type
// ABOUTME: Client messages flow through lifecycle, pipeline, broadcast and triage; operators reply and follow conversations

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/prism-gateway/internal/conversation"
	"github.com/2389/prism-gateway/internal/dedupe"
	"github.com/2389/prism-gateway/internal/registry"
	"github.com/2389/prism-gateway/internal/store"
	"github.com/2389/prism-gateway/internal/triage"
)

// Sender labels used when a frame omits one
const (
	DefaultAdminName  = "Administrador"
	DefaultTypingName = "Usuario"
)

func defaultClientName(clientID string) string {
	return fmt.Sprintf("Cliente %s", clientID)
}

func (h *Handler) onClientMessage(ctx context.Context, conn *registry.Connection, m *NewClientMessage) (err error) {
	var stored bool
	if h.dedupe != nil && m.ClientMessageID != "" {
		key := dedupe.Key(m.ClientID, m.ClientMessageID)
		if h.dedupe.Remember(key) {
			h.logger.Debug("duplicate client message dropped", "client_id", m.ClientID, "client_message_id", m.ClientMessageID)
			h.reply(ctx, conn, encodeAck(m.ClientMessageID, nil, h.now()))
			return nil
		}
		// a retransmission must be processed if this attempt did not store the message
		defer func() {
			if err != nil && !stored {
				h.dedupe.Forget(key)
			}
		}()
	}

	name := strings.TrimSpace(m.ClientName)
	if name == "" {
		name = defaultClientName(m.ClientID)
	}

	client, err := h.store.GetOrCreateClient(ctx, m.ClientID, name)
	if err != nil {
		return fmt.Errorf("loading client: %w", err)
	}

	conv, err := h.lifecycle.GetOrCreateActive(ctx, m.ClientID)
	if err != nil {
		return err
	}

	msg, err := h.pipeline.Create(ctx, conversation.NewMessage{
		ConversationID: conv.ID,
		Content:        m.Message,
		Type:           store.MessageTypeClient,
		Sender:         name,
	})
	if err != nil {
		return err
	}
	stored = true

	if err := h.registry.Join(conn.ID, conv.ID); err != nil {
		h.logger.Debug("sender left before joining", "connection_id", conn.ID, "error", err)
	}
	if m.ClientMessageID != "" {
		h.reply(ctx, conn, encodeAck(m.ClientMessageID, msg, h.now()))
	}

	// operator panels discover new conversations from this broadcast
	h.logDelivery(TypeNewMessage, h.registry.BroadcastAll(ctx, encodeNewMessage(conv, name, msg, h.now())))

	if client.Status == store.ClientStatusNew {
		if err := h.store.UpdateClientStatus(ctx, client.ID, store.ClientStatusActive); err != nil {
			h.logger.Warn("updating client status", "client_id", client.ID, "error", err)
		}
	}

	if conv.State != store.StateAIResponding || h.triage == nil {
		return nil
	}
	return h.respond(ctx, conv, name, msg)
}

// respond runs triage for a stored client message, publishes the assistant
// reply and escalates when the decision asks for it.
func (h *Handler) respond(ctx context.Context, conv *store.Conversation, clientName string, msg *store.Message) error {
	d := h.triage.Evaluate(ctx, triage.Request{ClientName: clientName, Message: msg})
	h.logger.Debug("triage decision",
		"conversation_id", conv.ID,
		"respond", d.ShouldRespond,
		"escalate", d.ShouldEscalate,
		"confidence", d.Confidence,
		"reason", d.Reason)

	if d.ShouldRespond {
		reply, err := h.pipeline.Create(ctx, conversation.NewMessage{
			ConversationID: conv.ID,
			Content:        d.ResponseText,
			Type:           store.MessageTypeAssistant,
			Sender:         triage.AssistantSender,
		})
		if err != nil {
			return fmt.Errorf("storing assistant reply: %w", err)
		}
		h.logDelivery(TypeAIResponse, h.registry.BroadcastToConversation(ctx, conv.ID, encodeAIResponse(reply, d, h.now())))
	}

	if !d.ShouldEscalate {
		return nil
	}
	return h.escalate(ctx, conv.ID, d.TargetArea)
}

// escalate hands the conversation to humans, records the derivation and
// notifies the conversation's subscribers. area may be nil.
func (h *Handler) escalate(ctx context.Context, conversationID int64, area *store.Area) error {
	var areaID *int64
	if area != nil {
		areaID = &area.ID
	}

	conv, err := h.lifecycle.Escalate(ctx, conversationID, areaID)
	if err != nil {
		return err
	}

	record, err := h.pipeline.Create(ctx, conversation.NewMessage{
		ConversationID: conv.ID,
		Content:        triage.DerivationRecord(area),
		Type:           store.MessageTypeSystem,
		Sender:         triage.SystemSender,
		IsDerivation:   true,
	})
	if err != nil {
		return fmt.Errorf("storing derivation record: %w", err)
	}

	h.logDelivery(TypeTransferNotification,
		h.registry.BroadcastToConversation(ctx, conv.ID, encodeTransferNotification(conv, area, record, h.now())))

	if err := h.store.UpdateClientStatus(ctx, conv.ClientID, store.ClientStatusEscalated); err != nil {
		h.logger.Warn("updating client status", "client_id", conv.ClientID, "error", err)
	}

	areaName := ""
	if area != nil {
		areaName = area.Name
	}
	h.logger.Info("conversation escalated", "conversation_id", conv.ID, "area", areaName)
	return nil
}

func (h *Handler) onAdminResponse(ctx context.Context, conn *registry.Connection, m *AdminResponse) error {
	conv, err := h.store.GetConversation(ctx, m.ConversationID)
	if err != nil {
		return fmt.Errorf("loading conversation %d: %w", m.ConversationID, err)
	}
	if !conv.State.Open() {
		return &conversation.TransitionError{ConversationID: conv.ID, From: conv.State, To: store.StateAwaitingHuman}
	}

	sender := strings.TrimSpace(m.AdminName)
	if sender == "" {
		sender = DefaultAdminName
	}

	// store first so a failed write leaves the conversation with the assistant
	msg, err := h.pipeline.Create(ctx, conversation.NewMessage{
		ConversationID: conv.ID,
		Content:        m.Message,
		Type:           store.MessageTypeHuman,
		Sender:         sender,
	})
	if err != nil {
		return err
	}

	// a human answering takes the conversation away from the assistant
	if conv.State == store.StateAIResponding {
		if _, err := h.lifecycle.Escalate(ctx, conv.ID, nil); err != nil {
			return err
		}
	}

	if err := h.registry.Join(conn.ID, conv.ID); err != nil {
		h.logger.Debug("operator left before joining", "connection_id", conn.ID, "error", err)
	}
	h.logDelivery(TypeAdminResponse, h.registry.BroadcastToConversation(ctx, conv.ID, encodeAdminResponse(msg, h.now())))
	return nil
}

func (h *Handler) onJoin(ctx context.Context, conn *registry.Connection, m *JoinConversation) error {
	if _, err := h.store.GetConversation(ctx, m.ConversationID); err != nil {
		return fmt.Errorf("joining conversation %d: %w", m.ConversationID, err)
	}
	if err := h.registry.Join(conn.ID, m.ConversationID); err != nil && !errors.Is(err, registry.ErrConnectionNotFound) {
		return err
	}
	return nil
}

func (h *Handler) onHistory(ctx context.Context, conn *registry.Connection, m *GetConversationHistory) error {
	msgs, err := h.pipeline.History(ctx, m.ConversationID, m.Limit, m.Offset)
	if err != nil {
		return err
	}
	h.reply(ctx, conn, encodeHistory(m.ConversationID, msgs, h.now()))
	return nil
}

func (h *Handler) onActiveConversations(ctx context.Context, conn *registry.Connection) error {
	list, err := h.store.ListActiveConversations(ctx)
	if err != nil {
		return fmt.Errorf("listing active conversations: %w", err)
	}
	h.reply(ctx, conn, encodeActiveConversations(list, h.now()))
	return nil
}

func (h *Handler) onTyping(ctx context.Context, m *TypingIndicator) error {
	sender := strings.TrimSpace(m.SenderName)
	if sender == "" {
		sender = DefaultTypingName
	}
	h.registry.BroadcastToConversation(ctx, m.ConversationID, encodeTyping(m.ConversationID, m.IsTyping, sender, h.now()))
	return nil
}
