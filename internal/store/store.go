// ABOUTME: Store interface and entity types for prism-gateway persistence
// ABOUTME: Defines Client, Conversation, Message, Area and the Store contract used by the core

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a client already has an open
// conversation and another one is created concurrently.
var ErrDuplicateConversation = errors.New("client already has an open conversation")

// ErrStateConflict is returned when a conversation update expected a state the
// conversation is no longer in.
var ErrStateConflict = errors.New("conversation state changed concurrently")

// ErrDuplicateArea is returned when an area with the same name already exists
var ErrDuplicateArea = errors.New("area already exists")

// ConversationState is the lifecycle state of a conversation
type ConversationState string

const (
	StateAIResponding  ConversationState = "ai_responding"
	StateAwaitingHuman ConversationState = "awaiting_human"
	StateClosed        ConversationState = "closed"
)

// Open reports whether the conversation can still receive messages.
func (s ConversationState) Open() bool {
	return s == StateAIResponding || s == StateAwaitingHuman
}

// MessageType identifies who authored a message
type MessageType string

const (
	MessageTypeClient    MessageType = "client"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeHuman     MessageType = "human"
	MessageTypeSystem    MessageType = "system"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeClient, MessageTypeAssistant, MessageTypeHuman, MessageTypeSystem:
		return true
	}
	return false
}

// Client status tags
const (
	ClientStatusNew       = "new"
	ClientStatusActive    = "active"
	ClientStatusEscalated = "escalated"
)

// Client is an end customer talking to the assistant
type Client struct {
	ID        string
	Name      string
	Status    string
	CreatedAt time.Time
}

// Conversation is a support conversation owned by a single client
type Conversation struct {
	ID        int64
	ClientID  string
	State     ConversationState
	AreaID    *int64     // set when escalated to a specific area
	DerivedAt *time.Time // set together with AreaID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversationSummary is an open conversation joined with display data for operator panels
type ConversationSummary struct {
	Conversation
	ClientName string
	AreaName   string
}

// Message is a single immutable entry within a conversation
type Message struct {
	ID             int64
	ConversationID int64
	Content        string
	Type           MessageType
	Sender         string
	Timestamp      time.Time
	IsDerivation   bool
}

// Area is a topic/specialty bucket conversations can be escalated to
type Area struct {
	ID              int64
	Name            string
	Description     string
	Instructions    string
	Active          bool
	Specialist      string // empty when no specialist is assigned
	ResponseMinutes *int   // estimated response time, nil when unknown
	CreatedAt       time.Time
}

// minDerivationInstructions is the shortest instructions text an area needs
// before it is offered for automatic derivation.
const minDerivationInstructions = 10

// ReadyForDerivation reports whether the area can receive automatic escalations.
func (a *Area) ReadyForDerivation() bool {
	return a.Active &&
		a.Specialist != "" &&
		len(strings.TrimSpace(a.Instructions)) >= minDerivationInstructions
}

// AssistantSettings is the globally managed assistant configuration (singleton row)
type AssistantSettings struct {
	SystemPrompt   string
	Temperature    float64
	MaxTokens      int
	Model          string
	AutoDerivation bool
	UpdatedAt      time.Time
}

// Store defines the persistence operations the routing core depends on
type Store interface {
	// Clients
	GetOrCreateClient(ctx context.Context, id, name string) (*Client, error)
	UpdateClientStatus(ctx context.Context, id, status string) error

	// Conversations
	GetActiveConversation(ctx context.Context, clientID string) (*Conversation, error)
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	UpdateConversation(ctx context.Context, conv *Conversation, from ConversationState) error
	ListActiveConversations(ctx context.Context) ([]*ConversationSummary, error)

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]*Message, error)
	ListRecentMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error)

	// Areas (read-only for the core; CreateArea seeds the table)
	ListAreasForDerivation(ctx context.Context) ([]*Area, error)
	ListActiveAreas(ctx context.Context) ([]*Area, error)
	FindAreaByName(ctx context.Context, name string) (*Area, error)
	CreateArea(ctx context.Context, area *Area) error

	// Assistant settings
	GetAssistantSettings(ctx context.Context) (*AssistantSettings, error)
	SaveAssistantSettings(ctx context.Context, settings *AssistantSettings) error

	// Ping checks that the backing store is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
