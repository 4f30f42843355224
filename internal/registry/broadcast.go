// ABOUTME: Broadcast fabric delivering one payload to many connections concurrently
// ABOUTME: Failed recipients are unregistered after the fan-out completes

package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc"
)

// TransportError reports a failed send to one connection
type TransportError struct {
	ConnectionID string
	Err          error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send to connection %s: %v", e.ConnectionID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Delivery summarizes the outcome of a broadcast
type Delivery struct {
	Delivered int
	Failed    []*TransportError
}

// BroadcastAll sends payload to every registered connection.
func (r *Registry) BroadcastAll(ctx context.Context, payload []byte) Delivery {
	r.mu.Lock()
	targets := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		targets = append(targets, conn)
	}
	r.mu.Unlock()

	return r.reconcile(targets, r.deliver(ctx, targets, payload))
}

// BroadcastToConversation sends payload to every connection joined to the conversation.
func (r *Registry) BroadcastToConversation(ctx context.Context, conversationID int64, payload []byte) Delivery {
	r.mu.Lock()
	targets := make([]*Connection, 0, len(r.subscribers[conversationID]))
	for id := range r.subscribers[conversationID] {
		if conn, ok := r.conns[id]; ok {
			targets = append(targets, conn)
		}
	}
	r.mu.Unlock()

	return r.reconcile(targets, r.deliver(ctx, targets, payload))
}

// SendTo delivers payload to a single connection. A failed send unregisters it.
func (r *Registry) SendTo(ctx context.Context, connectionID string, payload []byte) error {
	conn, ok := r.Lookup(connectionID)
	if !ok {
		return ErrConnectionNotFound
	}
	return r.SendToConnection(ctx, conn, payload)
}

// SendToConnection delivers payload to one specific registration, even if it
// has since been replaced under the same id. A failed send unregisters it.
func (r *Registry) SendToConnection(ctx context.Context, conn *Connection, payload []byte) error {
	d := r.reconcile([]*Connection{conn}, r.deliver(ctx, []*Connection{conn}, payload))
	if len(d.Failed) > 0 {
		return d.Failed[0]
	}
	return nil
}

type failure struct {
	conn *Connection
	err  *TransportError
}

// deliver sends payload to all targets concurrently, each bounded by the send
// timeout, and returns the recipients whose send failed. It does not touch the
// registry maps.
func (r *Registry) deliver(ctx context.Context, targets []*Connection, payload []byte) []failure {
	var (
		wg       conc.WaitGroup
		mu       sync.Mutex
		failures []failure
	)
	for _, conn := range targets {
		wg.Go(func() {
			sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
			defer cancel()

			if err := conn.transport.Send(sendCtx, payload); err != nil {
				mu.Lock()
				failures = append(failures, failure{
					conn: conn,
					err:  &TransportError{ConnectionID: conn.ID, Err: err},
				})
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return failures
}

// reconcile unregisters exactly the failed registrations and builds the report.
func (r *Registry) reconcile(targets []*Connection, failures []failure) Delivery {
	d := Delivery{Delivered: len(targets) - len(failures)}
	for _, f := range failures {
		d.Failed = append(d.Failed, f.err)
		if r.removeHandle(f.conn.ID, f.conn.Handle) {
			_ = f.conn.transport.Close()
		}
		r.logger.Warn("dropping connection after failed send", "connection_id", f.conn.ID, "error", f.err.Err)
	}
	return d
}
