package realtime

import (
	"sync"

	"github.com/rs/zerolog"
)

// Presence broadcasts online/offline transitions to every connection,
// authenticated or not. Any client may be rendering a roster that needs
// live online indicators without having joined the relevant rooms, so the
// announcements are global rather than room-scoped.
type Presence struct {
	mu    sync.RWMutex
	conns map[*Connection]struct{}
	log   zerolog.Logger
}

// NewPresence creates an empty presence broadcaster.
func NewPresence(log zerolog.Logger) *Presence {
	return &Presence{
		conns: make(map[*Connection]struct{}),
		log:   log,
	}
}

// Track starts delivering presence announcements to the connection.
func (p *Presence) Track(conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[conn] = struct{}{}
}

// Untrack stops delivering presence announcements to the connection.
func (p *Presence) Untrack(conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, conn)
}

// TrackedCount returns the number of connections receiving announcements.
func (p *Presence) TrackedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// AnnounceOnline tells every connection that the user came online.
func (p *Presence) AnnounceOnline(id Identity) {
	p.announce(EventUserOnline, id)
}

// AnnounceOffline tells every connection that the user went offline. A
// rapid reconnect may emit offline-then-online in quick succession; clients
// treat both as idempotent state-setters.
func (p *Presence) AnnounceOffline(id Identity) {
	p.announce(EventUserOffline, id)
}

func (p *Presence) announce(event string, id Identity) {
	data, err := NewEnvelope(event, PresencePayload{UserID: id.UserID, Role: id.Role})
	if err != nil {
		p.log.Error().Err(err).Str("event", event).Msg("marshal presence payload")
		return
	}

	p.mu.RLock()
	recipients := make([]*Connection, 0, len(p.conns))
	for conn := range p.conns {
		recipients = append(recipients, conn)
	}
	p.mu.RUnlock()

	for _, conn := range recipients {
		conn.Enqueue(data)
	}
}

// Shutdown closes every tracked connection's outbound queue.
func (p *Presence) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for conn := range p.conns {
		conn.Close()
		delete(p.conns, conn)
	}
}
