package hub

import (
	"sync"

	"github.com/hookline/hookline/pkg/api"
)

// seenCapacity bounds the per-connection dedup ring. It only has to cover
// the window in which one event can reach the same connection through
// several overlapping rooms.
const seenCapacity = 1024

// Conn is one live consumer connection. It owns a bounded outbound buffer
// so a slow consumer never blocks delivery to others, and a dedup ring so
// an event matching several of its rooms is delivered exactly once.
type Conn struct {
	id   string
	send chan api.ServerMessage
	done chan struct{}

	mu        sync.Mutex
	rooms     map[string]struct{}
	seen      map[string]struct{}
	seenOrder []string
	closed    bool
	dropped   int
}

func newConn(id string, bufferSize int) *Conn {
	return &Conn{
		id:    id,
		send:  make(chan api.ServerMessage, bufferSize),
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
		seen:  make(map[string]struct{}),
	}
}

// ID returns the connection identifier (the owning consumer id).
func (c *Conn) ID() string {
	return c.id
}

// Outbound is the channel the transport write loop drains.
func (c *Conn) Outbound() <-chan api.ServerMessage {
	return c.send
}

// Done is closed when the connection is force-disconnected (overflow
// policy) or unregistered.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Dropped returns how many messages were discarded by the drop-oldest
// overflow policy.
func (c *Conn) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Conn) join(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = struct{}{}
}

func (c *Conn) leave(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
}

func (c *Conn) inRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// markSeen records a delivery key and reports whether it was new.
func (c *Conn) markSeen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[key]; ok {
		return false
	}
	c.seen[key] = struct{}{}
	c.seenOrder = append(c.seenOrder, key)
	if len(c.seenOrder) > seenCapacity {
		oldest := c.seenOrder[0]
		c.seenOrder = c.seenOrder[1:]
		delete(c.seen, oldest)
	}
	return true
}

// enqueue places a message on the outbound buffer without ever blocking
// the caller. On overflow the configured policy applies: drop-oldest
// discards the oldest buffered message, disconnect closes the connection.
func (c *Conn) enqueue(msg api.ServerMessage, policy OverflowPolicy) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
	}

	switch policy {
	case Disconnect:
		c.close()
		return false
	default: // DropOldest
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()

		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- msg:
			return true
		default:
			return false
		}
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}
