// ABOUTME: Decoding of inbound WebSocket frames into a closed set of request variants
// ABOUTME: Unknown type tags and missing required fields are reported as typed errors

package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/prism-gateway/internal/conversation"
)

// Inbound frame type tags
const (
	TypeNewClientMessage       = "new_client_message"
	TypeAdminResponse          = "admin_response"
	TypeJoinConversation       = "join_conversation"
	TypeGetConversationHistory = "get_conversation_history"
	TypeGetActiveConversations = "get_active_conversations"
	TypeTypingIndicator        = "typing_indicator"
)

// ErrMalformedFrame is returned when a frame is not a JSON object of the expected shape
var ErrMalformedFrame = errors.New("malformed frame")

// UnknownTypeError reports a frame whose type tag is not recognized
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// Inbound is one decoded client request. The set of implementations is closed.
type Inbound interface {
	inboundType() string
}

// NewClientMessage is a message typed by an end customer
type NewClientMessage struct {
	ClientID        string `json:"client_id"`
	ClientName      string `json:"client_name"`
	Message         string `json:"message"`
	ClientMessageID string `json:"client_message_id"`
}

// AdminResponse is a reply written by a human operator
type AdminResponse struct {
	ConversationID int64  `json:"conversation_id"`
	Message        string `json:"message"`
	AdminName      string `json:"admin_name"`
}

// JoinConversation subscribes the connection to a conversation
type JoinConversation struct {
	ConversationID int64 `json:"conversation_id"`
}

// GetConversationHistory asks for a page of stored messages
type GetConversationHistory struct {
	ConversationID int64 `json:"conversation_id"`
	Limit          int   `json:"limit"`
	Offset         int   `json:"offset"`
}

// GetActiveConversations asks for every open conversation
type GetActiveConversations struct{}

// TypingIndicator relays a typing state to the conversation's subscribers
type TypingIndicator struct {
	ConversationID int64  `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
	SenderName     string `json:"sender_name"`
}

func (*NewClientMessage) inboundType() string       { return TypeNewClientMessage }
func (*AdminResponse) inboundType() string          { return TypeAdminResponse }
func (*JoinConversation) inboundType() string       { return TypeJoinConversation }
func (*GetConversationHistory) inboundType() string { return TypeGetConversationHistory }
func (*GetActiveConversations) inboundType() string { return TypeGetActiveConversations }
func (*TypingIndicator) inboundType() string        { return TypeTypingIndicator }

// DecodeInbound parses a frame and checks its required fields.
// Errors are ErrMalformedFrame, *UnknownTypeError or *conversation.ValidationError.
func DecodeInbound(data []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var in Inbound
	switch head.Type {
	case TypeNewClientMessage:
		in = &NewClientMessage{}
	case TypeAdminResponse:
		in = &AdminResponse{}
	case TypeJoinConversation:
		in = &JoinConversation{}
	case TypeGetConversationHistory:
		in = &GetConversationHistory{}
	case TypeGetActiveConversations:
		return &GetActiveConversations{}, nil
	case TypeTypingIndicator:
		in = &TypingIndicator{}
	default:
		return nil, &UnknownTypeError{Type: head.Type}
	}

	if err := json.Unmarshal(data, in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := validate(in); err != nil {
		return nil, err
	}
	return in, nil
}

func validate(in Inbound) error {
	switch m := in.(type) {
	case *NewClientMessage:
		if strings.TrimSpace(m.ClientID) == "" {
			return required("client_id")
		}
		if strings.TrimSpace(m.Message) == "" {
			return required("message")
		}
	case *AdminResponse:
		if m.ConversationID <= 0 {
			return required("conversation_id")
		}
		if strings.TrimSpace(m.Message) == "" {
			return required("message")
		}
	case *JoinConversation:
		if m.ConversationID <= 0 {
			return required("conversation_id")
		}
	case *GetConversationHistory:
		if m.ConversationID <= 0 {
			return required("conversation_id")
		}
		if m.Offset < 0 {
			return &conversation.ValidationError{Field: "offset", Reason: "must not be negative"}
		}
	case *TypingIndicator:
		if m.ConversationID <= 0 {
			return required("conversation_id")
		}
	}
	return nil
}

func required(field string) error {
	return &conversation.ValidationError{Field: field, Reason: "is required"}
}
