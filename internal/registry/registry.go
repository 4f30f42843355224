// ABOUTME: Connection registry mapping live connection ids to transports and conversation subscriptions
// ABOUTME: All maps sit behind one mutex that is never held across a send

package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrConnectionNotFound is returned when an operation names an unregistered connection
var ErrConnectionNotFound = errors.New("connection not found")

// DefaultSendTimeout bounds a single send during a broadcast.
const DefaultSendTimeout = 5 * time.Second

// Transport is the outbound half of a live client connection.
// Implementations must allow Send to be called from multiple goroutines.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Connection is one registration of a transport under a connection id.
// Handle distinguishes successive registrations under the same id.
type Connection struct {
	ID           string
	Handle       string
	RegisteredAt time.Time

	transport Transport
	joined    map[int64]struct{} // guarded by Registry.mu
}

// Send writes payload to this connection's transport.
func (c *Connection) Send(ctx context.Context, payload []byte) error {
	return c.transport.Send(ctx, payload)
}

// Stats is a monitoring snapshot of the registry
type Stats struct {
	Connections   []string      `json:"connections"`
	Subscriptions map[int64]int `json:"subscriptions"` // conversation id -> subscriber count
}

// Registry tracks live connections and which conversations each one follows.
type Registry struct {
	mu          sync.Mutex
	conns       map[string]*Connection
	subscribers map[int64]map[string]struct{} // conversation id -> connection ids
	sendTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Registry
type Option func(*Registry)

// WithSendTimeout overrides DefaultSendTimeout.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sendTimeout = d
		}
	}
}

// New creates an empty registry. Pass nil logger for default.
func New(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		conns:       make(map[string]*Connection),
		subscribers: make(map[int64]map[string]struct{}),
		sendTimeout: DefaultSendTimeout,
		logger:      logger.With("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a connection, replacing any previous registration under the
// same id. The replaced transport is closed and its subscriptions are dropped.
func (r *Registry) Register(connectionID string, transport Transport) *Connection {
	conn := &Connection{
		ID:           connectionID,
		Handle:       uuid.New().String(),
		RegisteredAt: time.Now(),
		transport:    transport,
		joined:       make(map[int64]struct{}),
	}

	r.mu.Lock()
	old := r.conns[connectionID]
	if old != nil {
		r.removeLocked(old)
	}
	r.conns[connectionID] = conn
	total := len(r.conns)
	r.mu.Unlock()

	if old != nil {
		r.logger.Info("replacing connection", "connection_id", connectionID)
		if err := old.transport.Close(); err != nil {
			r.logger.Debug("closing replaced transport", "connection_id", connectionID, "error", err)
		}
	}

	r.logger.Info("connection registered", "connection_id", connectionID, "total", total)
	return conn
}

// Join subscribes a connection to a conversation. Joining twice is a no-op.
func (r *Registry) Join(connectionID string, conversationID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connectionID]
	if !ok {
		return ErrConnectionNotFound
	}

	subs, ok := r.subscribers[conversationID]
	if !ok {
		subs = make(map[string]struct{})
		r.subscribers[conversationID] = subs
	}
	subs[connectionID] = struct{}{}
	conn.joined[conversationID] = struct{}{}
	return nil
}

// Unregister removes a connection and all of its subscriptions.
// Unknown ids are ignored. The transport is not closed.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	conn, ok := r.conns[connectionID]
	if ok {
		r.removeLocked(conn)
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info("connection unregistered", "connection_id", connectionID)
	}
}

// Release unregisters conn only if it is still the current registration for
// its id, so a stale session cannot remove the connection that replaced it.
func (r *Registry) Release(conn *Connection) bool {
	return r.removeHandle(conn.ID, conn.Handle)
}

// Lookup returns the current registration for a connection id.
func (r *Registry) Lookup(connectionID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connectionID]
	return conn, ok
}

// SubscribersOf returns the sorted ids of connections joined to a conversation.
func (r *Registry) SubscribersOf(conversationID int64) []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.subscribers[conversationID]))
	for id := range r.subscribers[conversationID] {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Stats returns a snapshot of registered connections and subscription counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	stats := Stats{
		Connections:   make([]string, 0, len(r.conns)),
		Subscriptions: make(map[int64]int, len(r.subscribers)),
	}
	for id := range r.conns {
		stats.Connections = append(stats.Connections, id)
	}
	for convID, subs := range r.subscribers {
		stats.Subscriptions[convID] = len(subs)
	}
	r.mu.Unlock()

	sort.Strings(stats.Connections)
	return stats
}

// Close unregisters every connection and closes its transport.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Connection)
	r.subscribers = make(map[int64]map[string]struct{})
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.transport.Close()
	}
	r.logger.Debug("registry closed", "connections", len(conns))
}

func (r *Registry) removeHandle(connectionID, handle string) bool {
	r.mu.Lock()
	conn, ok := r.conns[connectionID]
	ok = ok && conn.Handle == handle
	if ok {
		r.removeLocked(conn)
	}
	r.mu.Unlock()
	return ok
}

// removeLocked drops conn from the connection map and every subscriber set,
// pruning sets that become empty. Caller must hold r.mu.
func (r *Registry) removeLocked(conn *Connection) {
	delete(r.conns, conn.ID)
	for convID := range conn.joined {
		subs := r.subscribers[convID]
		delete(subs, conn.ID)
		if len(subs) == 0 {
			delete(r.subscribers, convID)
		}
	}
	conn.joined = make(map[int64]struct{})
}
