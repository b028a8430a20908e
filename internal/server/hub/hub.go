// Package hub fans normalized events out to live consumer connections.
// Publishing is fire-and-forget: it never blocks the ingestion path, and a
// slow consumer only affects its own bounded buffer.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/pkg/api"
)

// OverflowPolicy says what happens when a connection's outbound buffer is
// full. The policy is explicit and uniform across all connections.
type OverflowPolicy string

// Overflow policies.
const (
	DropOldest OverflowPolicy = "drop-oldest"
	Disconnect OverflowPolicy = "disconnect"
)

// ValidPolicy reports whether s names a known overflow policy.
func ValidPolicy(s string) bool {
	switch OverflowPolicy(s) {
	case DropOldest, Disconnect:
		return true
	}
	return false
}

// DefaultBufferSize is the per-connection outbound buffer length.
const DefaultBufferSize = 64

// Hub is the broadcast server. One instance is constructed at startup and
// passed by reference to the transport handlers.
type Hub struct {
	logger     *slog.Logger
	policy     OverflowPolicy
	bufferSize int

	mu    sync.RWMutex
	conns map[string]*Conn
}

// New creates a hub with the given per-connection buffer size and
// overflow policy.
func New(logger *slog.Logger, bufferSize int, policy OverflowPolicy) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if !ValidPolicy(string(policy)) {
		policy = DropOldest
	}
	return &Hub{
		logger:     logger,
		policy:     policy,
		bufferSize: bufferSize,
		conns:      make(map[string]*Conn),
	}
}

// Register adds a connection for the given consumer id. A second
// registration under the same id replaces the first.
func (h *Hub) Register(id string) *Conn {
	conn := newConn(id, h.bufferSize)

	h.mu.Lock()
	if old, ok := h.conns[id]; ok {
		old.close()
	}
	h.conns[id] = conn
	h.mu.Unlock()

	h.logger.Debug("Connection registered", "conn_id", id)
	return conn
}

// Unregister removes a connection and stops future delivery to it.
// Messages already in flight at the transport layer are the receiver's
// problem to discard.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	conn, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	h.mu.Unlock()

	if ok {
		conn.close()
		h.logger.Debug("Connection unregistered", "conn_id", id)
	}
}

// Join adds the connection to a room. Idempotent.
func (h *Hub) Join(connID, room string) {
	if conn := h.get(connID); conn != nil {
		conn.join(room)
	}
}

// Leave removes the connection from a room. Idempotent.
func (h *Hub) Leave(connID, room string) {
	if conn := h.get(connID); conn != nil {
		conn.leave(room)
	}
}

// Publish delivers the event to every connection subscribed to any of its
// rooms. The room set is {resource} ∪ {each affected entity} ∪
// {event type} ∪ {global}; per-connection dedup guarantees a consumer
// subscribed to several matching rooms still receives the event once.
func (h *Hub) Publish(event *models.NormalizedEvent) {
	msg := api.ServerMessage{
		Type:  api.TypeEvent,
		Event: eventToWire(event),
	}

	rooms := event.Rooms()

	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, room := range rooms {
		for _, conn := range conns {
			if !conn.inRoom(room) {
				continue
			}
			if !conn.markSeen(event.TxHash) {
				continue
			}
			if !conn.enqueue(msg, h.policy) {
				h.logger.Warn("Dropped event for slow consumer",
					"conn_id", conn.ID(), "tx_hash", event.TxHash, "policy", h.policy)
			}
		}
	}
}

// Invalidate broadcasts the rolled-back block heights to every live
// connection unconditionally: any consumer may hold state derived from
// those blocks regardless of its subscriptions.
func (h *Hub) Invalidate(heights []uint64) {
	msg := api.ServerMessage{
		Type:    api.TypeInvalidate,
		Heights: heights,
	}

	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if !conn.enqueue(msg, h.policy) {
			h.logger.Warn("Dropped invalidate for slow consumer",
				"conn_id", conn.ID(), "policy", h.policy)
		}
	}
}

// Notify sends an out-of-band status message to one connection.
func (h *Hub) Notify(connID, kind, message string, now time.Time) {
	conn := h.get(connID)
	if conn == nil {
		return
	}
	msg := api.ServerMessage{
		Type: api.TypeStatusUpdate,
		Status: &api.Status{
			Timestamp: now,
			Kind:      kind,
			Message:   message,
		},
	}
	conn.enqueue(msg, h.policy)
}

// Ack confirms a subscription on one connection.
func (h *Hub) Ack(connID string, class models.SubscriptionClass, target, roomID string) {
	conn := h.get(connID)
	if conn == nil {
		return
	}
	msg := api.ServerMessage{
		Type: api.TypeSubscriptionAck,
		Ack: &api.Ack{
			Class:  string(class),
			Target: target,
			RoomID: roomID,
		},
	}
	conn.enqueue(msg, h.policy)
}

// ConnCount returns the number of live connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) get(id string) *Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[id]
}

func eventToWire(event *models.NormalizedEvent) *api.Event {
	return &api.Event{
		Payload:          json.RawMessage(event.Payload),
		TxHash:           event.TxHash,
		BlockHash:        event.BlockHash,
		Resource:         event.Resource,
		EventType:        event.EventType,
		Topic:            event.Topic,
		AffectedEntities: event.AffectedEntities,
		Metadata:         event.Metadata,
		BlockHeight:      event.BlockHeight,
		Timestamp:        event.Timestamp.Unix(),
		Success:          event.Success,
	}
}
