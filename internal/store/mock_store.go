// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while enforcing the same uniqueness rules

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	clients       map[string]*Client
	conversations map[int64]*Conversation
	messages      map[int64][]*Message // keyed by conversation ID
	areas         []*Area
	settings      *AssistantSettings
	nextConvID    int64
	nextMsgID     int64
	nextAreaID    int64

	// Err, when set, is returned by every method. Used to simulate store outages.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		clients:       make(map[string]*Client),
		conversations: make(map[int64]*Conversation),
		messages:      make(map[int64][]*Message),
	}
}

// SetErr makes every subsequent call fail with err (nil restores normal behavior).
func (m *MockStore) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// GetOrCreateClient returns or creates a client.
func (m *MockStore) GetOrCreateClient(ctx context.Context, id, name string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	c, ok := m.clients[id]
	if !ok {
		c = &Client{ID: id, Name: name, Status: ClientStatusNew, CreatedAt: time.Now().UTC()}
		m.clients[id] = c
	} else if name != "" && c.Name != name {
		c.Name = name
	}
	copied := *c
	return &copied, nil
}

// UpdateClientStatus sets a client's status tag.
func (m *MockStore) UpdateClientStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	c, ok := m.clients[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	return nil
}

// GetActiveConversation returns the client's open conversation.
func (m *MockStore) GetActiveConversation(ctx context.Context, clientID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	if conv := m.openConversationLocked(clientID); conv != nil {
		return copyConversation(conv), nil
	}
	return nil, ErrNotFound
}

// CreateConversation stores a new conversation, enforcing one open conversation per client.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if conv.State.Open() && m.openConversationLocked(conv.ClientID) != nil {
		return ErrDuplicateConversation
	}

	m.nextConvID++
	conv.ID = m.nextConvID
	m.conversations[conv.ID] = copyConversation(conv)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

// UpdateConversation replaces the stored conversation while its state still equals from.
func (m *MockStore) UpdateConversation(ctx context.Context, conv *Conversation, from ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	current, ok := m.conversations[conv.ID]
	if !ok {
		return ErrNotFound
	}
	if current.State != from {
		return ErrStateConflict
	}
	if conv.State.Open() {
		if open := m.openConversationLocked(conv.ClientID); open != nil && open.ID != conv.ID {
			return ErrDuplicateConversation
		}
	}
	m.conversations[conv.ID] = copyConversation(conv)
	return nil
}

// ListActiveConversations returns open conversations, most recently updated first.
func (m *MockStore) ListActiveConversations(ctx context.Context) ([]*ConversationSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	var result []*ConversationSummary
	for _, conv := range m.conversations {
		if !conv.State.Open() {
			continue
		}
		sum := &ConversationSummary{Conversation: *copyConversation(conv)}
		if c, ok := m.clients[conv.ClientID]; ok {
			sum.ClientName = c.Name
		}
		if conv.AreaID != nil {
			for _, a := range m.areas {
				if a.ID == *conv.AreaID {
					sum.AreaName = a.Name
				}
			}
		}
		result = append(result, sum)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// CreateMessage appends a message to its conversation.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}

	m.nextMsgID++
	msg.ID = m.nextMsgID
	copied := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &copied)
	conv.UpdatedAt = msg.Timestamp
	return nil
}

// ListMessages returns messages in (timestamp, id) order with limit/offset applied.
func (m *MockStore) ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]*Message, error) {
	all, err := m.orderedMessages(conversationID)
	if err != nil {
		return nil, err
	}

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit >= 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// ListRecentMessages returns the last limit messages, oldest first.
func (m *MockStore) ListRecentMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	all, err := m.orderedMessages(conversationID)
	if err != nil {
		return nil, err
	}
	if limit >= 0 && limit < len(all) {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *MockStore) orderedMessages(conversationID int64) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	all := make([]*Message, 0, len(m.messages[conversationID]))
	for _, msg := range m.messages[conversationID] {
		copied := *msg
		all = append(all, &copied)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].ID < all[j].ID
		}
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, nil
}

// ListAreasForDerivation returns areas ready for automatic escalation, by name.
func (m *MockStore) ListAreasForDerivation(ctx context.Context) ([]*Area, error) {
	return m.filterAreas(func(a *Area) bool { return a.ReadyForDerivation() })
}

// ListActiveAreas returns active areas, by name.
func (m *MockStore) ListActiveAreas(ctx context.Context) ([]*Area, error) {
	return m.filterAreas(func(a *Area) bool { return a.Active })
}

// FindAreaByName looks an area up by name, case-insensitively.
func (m *MockStore) FindAreaByName(ctx context.Context, name string) (*Area, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	for _, a := range m.areas {
		if strings.EqualFold(a.Name, name) {
			copied := *a
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

// CreateArea stores an area, rejecting duplicate names.
func (m *MockStore) CreateArea(ctx context.Context, area *Area) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	for _, a := range m.areas {
		if strings.EqualFold(a.Name, area.Name) {
			return ErrDuplicateArea
		}
	}
	if area.CreatedAt.IsZero() {
		area.CreatedAt = time.Now().UTC()
	}
	m.nextAreaID++
	area.ID = m.nextAreaID
	copied := *area
	m.areas = append(m.areas, &copied)
	return nil
}

// GetAssistantSettings returns the stored settings or ErrNotFound.
func (m *MockStore) GetAssistantSettings(ctx context.Context) (*AssistantSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	if m.settings == nil {
		return nil, ErrNotFound
	}
	copied := *m.settings
	return &copied, nil
}

// SaveAssistantSettings replaces the stored settings.
func (m *MockStore) SaveAssistantSettings(ctx context.Context, settings *AssistantSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	copied := *settings
	m.settings = &copied
	return nil
}

// Ping reports the configured error, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Err
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) filterAreas(keep func(*Area) bool) ([]*Area, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	var result []*Area
	for _, a := range m.areas {
		if keep(a) {
			copied := *a
			result = append(result, &copied)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return strings.ToLower(result[i].Name) < strings.ToLower(result[j].Name)
	})
	return result, nil
}

func (m *MockStore) openConversationLocked(clientID string) *Conversation {
	for _, conv := range m.conversations {
		if conv.ClientID == clientID && conv.State.Open() {
			return conv
		}
	}
	return nil
}

func copyConversation(conv *Conversation) *Conversation {
	copied := *conv
	if conv.AreaID != nil {
		id := *conv.AreaID
		copied.AreaID = &id
	}
	if conv.DerivedAt != nil {
		t := *conv.DerivedAt
		copied.DerivedAt = &t
	}
	return &copied
}

// Compile-time check
var _ Store = (*MockStore)(nil)
