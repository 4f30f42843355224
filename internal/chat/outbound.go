// ABOUTME: Outbound WebSocket envelopes and their JSON encoding
// ABOUTME: Every envelope carries its type and an RFC3339 timestamp; message content also ships as HTML

package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/prism-gateway/internal/markdown"
	"github.com/2389/prism-gateway/internal/store"
	"github.com/2389/prism-gateway/internal/triage"
)

// Outbound envelope type tags
const (
	TypeConnectionEstablished = "connection_established"
	TypeNewMessage            = "new_message"
	TypeAIResponse            = "ai_response"
	TypeTransferNotification  = "transfer_notification"
	TypeConversationHistory   = "conversation_history"
	TypeActiveConversations   = "active_conversations"
	TypeConversationClosed    = "conversation_closed"
	TypeMessageAck            = "message_ack"
	TypeError                 = "error"
)

// WelcomeText is sent in connection_established
const WelcomeText = "Conectado a Prism Chat"

type header struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

func newHeader(typ string, now time.Time) header {
	return header{Type: typ, Timestamp: formatTimestamp(now)}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// MessagePayload is the wire form of a stored message
type MessagePayload struct {
	ID           int64  `json:"id"`
	Content      string `json:"content"`
	ContentHTML  string `json:"content_html"`
	Sender       string `json:"sender"`
	Timestamp    string `json:"timestamp"`
	MessageType  string `json:"message_type"`
	IsDerivation bool   `json:"is_derivation"`
}

func messagePayload(m *store.Message) MessagePayload {
	return MessagePayload{
		ID:           m.ID,
		Content:      m.Content,
		ContentHTML:  markdown.Render(m.Content),
		Sender:       m.Sender,
		Timestamp:    formatTimestamp(m.Timestamp),
		MessageType:  string(m.Type),
		IsDerivation: m.IsDerivation,
	}
}

// ConversationPayload is the wire form of an open conversation, shared with
// the HTTP API.
type ConversationPayload struct {
	ID         int64  `json:"id"`
	ClientID   string `json:"client_id"`
	ClientName string `json:"client_name"`
	State      string `json:"state"`
	AreaID     *int64 `json:"area_id,omitempty"`
	AreaName   string `json:"area_name,omitempty"`
	DerivedAt  string `json:"derived_at,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// ConversationPayloads converts store summaries to their wire form.
func ConversationPayloads(list []*store.ConversationSummary) []ConversationPayload {
	out := make([]ConversationPayload, 0, len(list))
	for _, s := range list {
		p := ConversationPayload{
			ID:         s.ID,
			ClientID:   s.ClientID,
			ClientName: s.ClientName,
			State:      string(s.State),
			AreaID:     s.AreaID,
			AreaName:   s.AreaName,
			CreatedAt:  formatTimestamp(s.CreatedAt),
			UpdatedAt:  formatTimestamp(s.UpdatedAt),
		}
		if s.DerivedAt != nil {
			p.DerivedAt = formatTimestamp(*s.DerivedAt)
		}
		out = append(out, p)
	}
	return out
}

// AreaPayload identifies the area a conversation was escalated to
type AreaPayload struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Specialist      string `json:"specialist,omitempty"`
	ResponseMinutes *int   `json:"response_minutes,omitempty"`
}

type connectionEstablished struct {
	header
	ConnectionID string `json:"connection_id"`
	Message      string `json:"message"`
}

type messageEnvelope struct {
	header
	ConversationID int64          `json:"conversation_id"`
	ClientID       string         `json:"client_id,omitempty"`
	ClientName     string         `json:"client_name,omitempty"`
	Message        MessagePayload `json:"message"`
}

type aiResponse struct {
	messageEnvelope
	Confidence float64 `json:"confidence"`
	Escalating bool    `json:"escalating"`
}

type transferNotification struct {
	header
	ConversationID int64          `json:"conversation_id"`
	State          string         `json:"state"`
	Area           *AreaPayload   `json:"area,omitempty"`
	Notice         string         `json:"notice"`
	NoticeHTML     string         `json:"notice_html"`
	Message        MessagePayload `json:"message"`
}

type conversationHistory struct {
	header
	ConversationID int64            `json:"conversation_id"`
	Messages       []MessagePayload `json:"messages"`
}

type activeConversations struct {
	header
	Conversations []ConversationPayload `json:"conversations"`
}

type typingIndicator struct {
	header
	ConversationID int64  `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
	Sender         string `json:"sender"`
}

type conversationClosed struct {
	header
	ConversationID int64 `json:"conversation_id"`
}

type messageAck struct {
	header
	ClientMessageID string `json:"client_message_id"`
	ConversationID  int64  `json:"conversation_id,omitempty"`
	MessageID       int64  `json:"message_id,omitempty"`
	Duplicate       bool   `json:"duplicate"`
}

type errorEnvelope struct {
	header
	Message string `json:"message"`
}

// encode marshals an envelope. The envelope types above contain only
// strings, numbers, bools and slices of them, so marshaling cannot fail.
func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("chat: encoding %T: %v", v, err))
	}
	return b
}

func encodeConnectionEstablished(connectionID string, now time.Time) []byte {
	return encode(connectionEstablished{
		header:       newHeader(TypeConnectionEstablished, now),
		ConnectionID: connectionID,
		Message:      WelcomeText,
	})
}

func encodeNewMessage(conv *store.Conversation, clientName string, msg *store.Message, now time.Time) []byte {
	return encode(messageEnvelope{
		header:         newHeader(TypeNewMessage, now),
		ConversationID: conv.ID,
		ClientID:       conv.ClientID,
		ClientName:     clientName,
		Message:        messagePayload(msg),
	})
}

func encodeAdminResponse(msg *store.Message, now time.Time) []byte {
	return encode(messageEnvelope{
		header:         newHeader(TypeAdminResponse, now),
		ConversationID: msg.ConversationID,
		Message:        messagePayload(msg),
	})
}

func encodeAIResponse(msg *store.Message, d triage.Decision, now time.Time) []byte {
	return encode(aiResponse{
		messageEnvelope: messageEnvelope{
			header:         newHeader(TypeAIResponse, now),
			ConversationID: msg.ConversationID,
			Message:        messagePayload(msg),
		},
		Confidence: d.Confidence,
		Escalating: d.ShouldEscalate,
	})
}

func encodeTransferNotification(conv *store.Conversation, area *store.Area, record *store.Message, now time.Time) []byte {
	notice := triage.TransferNotice(area)
	env := transferNotification{
		header:         newHeader(TypeTransferNotification, now),
		ConversationID: conv.ID,
		State:          string(conv.State),
		Notice:         notice,
		NoticeHTML:     markdown.Render(notice),
		Message:        messagePayload(record),
	}
	if area != nil {
		env.Area = &AreaPayload{
			ID:              area.ID,
			Name:            area.Name,
			Specialist:      area.Specialist,
			ResponseMinutes: area.ResponseMinutes,
		}
	}
	return encode(env)
}

func encodeHistory(conversationID int64, msgs []*store.Message, now time.Time) []byte {
	payloads := make([]MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		payloads = append(payloads, messagePayload(m))
	}
	return encode(conversationHistory{
		header:         newHeader(TypeConversationHistory, now),
		ConversationID: conversationID,
		Messages:       payloads,
	})
}

func encodeActiveConversations(list []*store.ConversationSummary, now time.Time) []byte {
	return encode(activeConversations{
		header:        newHeader(TypeActiveConversations, now),
		Conversations: ConversationPayloads(list),
	})
}

func encodeTyping(conversationID int64, isTyping bool, sender string, now time.Time) []byte {
	return encode(typingIndicator{
		header:         newHeader(TypeTypingIndicator, now),
		ConversationID: conversationID,
		IsTyping:       isTyping,
		Sender:         sender,
	})
}

// EncodeConversationClosed builds the envelope published when a conversation
// is closed through the HTTP API.
func EncodeConversationClosed(conversationID int64, now time.Time) []byte {
	return encode(conversationClosed{
		header:         newHeader(TypeConversationClosed, now),
		ConversationID: conversationID,
	})
}

func encodeAck(clientMessageID string, msg *store.Message, now time.Time) []byte {
	ack := messageAck{
		header:          newHeader(TypeMessageAck, now),
		ClientMessageID: clientMessageID,
		Duplicate:       msg == nil,
	}
	if msg != nil {
		ack.ConversationID = msg.ConversationID
		ack.MessageID = msg.ID
	}
	return encode(ack)
}

func encodeError(text string, now time.Time) []byte {
	return encode(errorEnvelope{
		header:  newHeader(TypeError, now),
		Message: text,
	})
}
