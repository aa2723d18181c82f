package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// sendBufferSize bounds the per-connection outbound queue. A client that
// cannot drain its buffer loses events rather than stalling broadcasts.
const sendBufferSize = 256

// Connection is the server-side handle for one live socket. It is created
// on transport open and destroyed on transport close; its identity is nil
// until the client authenticates and immutable afterwards.
type Connection struct {
	ID string

	mu       sync.RWMutex
	identity *Identity

	send      chan []byte
	closeOnce sync.Once
}

// NewConnection creates an unauthenticated connection with a transport-
// assigned id and a buffered outbound queue.
func NewConnection() *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		send: make(chan []byte, sendBufferSize),
	}
}

// Identity returns the authenticated identity, or nil before
// authentication.
func (c *Connection) Identity() *Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// setIdentity attaches the identity exactly once; later calls are ignored
// so a second authenticate frame cannot re-badge a live connection.
func (c *Connection) setIdentity(id Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil {
		return false
	}
	c.identity = &id
	return true
}

// Enqueue offers data to the outbound queue without blocking. It reports
// false when the buffer is full or the connection is closed; the event is
// dropped for this client only.
func (c *Connection) Enqueue(data []byte) (ok bool) {
	defer func() {
		// Send on a closed channel means the connection raced its own
		// shutdown; treat it as a drop.
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Outbound exposes the queue to the transport write pump.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Close shuts the outbound queue, ending the write pump. Safe to call more
// than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}
