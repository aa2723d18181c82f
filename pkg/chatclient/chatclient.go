// Package chatclient is a Go client for the portal's realtime messaging
// endpoint. It maintains the session across reconnects, reconciling
// optimistic local echoes with server-stamped messages and debouncing
// typing signals so the UI can report keystrokes freely.
package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/docplus/portal/internal/realtime"
)

// State is the connection lifecycle state reported through OnState.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
)

const (
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = time.Second
	defaultTypingDebounce    = 2 * time.Second
)

// Options configures a client session.
type Options struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Token authenticates via session token. When empty, the identity
	// triple below is sent instead (trusted-gateway deployments).
	Token  string
	UserID string
	Role   string
	Email  string

	// ReconnectAttempts caps dial retries per outage. Zero means the
	// default of 5.
	ReconnectAttempts int
	// ReconnectDelay is the fixed wait between retries. Zero means 1s.
	ReconnectDelay time.Duration
	// TypingDebounce is how long after the last keystroke the stop
	// signal fires. Zero means 2s.
	TypingDebounce time.Duration

	Logger zerolog.Logger
}

// Callbacks receive server events. Nil callbacks are skipped. All callbacks
// run on the client's read goroutine; do not block in them.
type Callbacks struct {
	OnState func(State)

	// OnMessage fires for messages authored by others.
	OnMessage func(realtime.ChatMessage)
	// OnEcho fires when the server echo of an own message arrives,
	// carrying the server-stamped id, timestamp, and status. localID is
	// the id SendMessage returned for the reconciled optimistic copy, or
	// empty when no pending send matches.
	OnEcho func(localID string, m realtime.ChatMessage)

	OnReadConfirmed func(realtime.ReadConfirmedPayload)
	OnTypingStarted func(realtime.TypingStartedPayload)
	OnTypingStopped func(realtime.TypingStoppedPayload)
	OnPresence      func(p realtime.PresencePayload, online bool)
	OnEmergency     func(realtime.EmergencyPayload)
	OnError         func(realtime.ErrorPayload)
}

// Client is a live session against the portal messaging endpoint.
type Client struct {
	opts Options
	cb   Callbacks
	log  zerolog.Logger

	mu     sync.Mutex
	ws     *gorillawebsocket.Conn
	state  State
	closed bool
	rooms  map[string]realtime.ChatRoomPayload

	typingMu sync.Mutex
	typing   map[string]*time.Timer

	// pending holds optimistic sends awaiting the server echo, in send
	// order.
	pendingMu sync.Mutex
	pending   []pendingSend

	authed chan error
}

type pendingSend struct {
	localID string
	content string
}

// Dial connects, authenticates, and starts the session. It blocks until the
// initial handshake completes or fails.
func Dial(ctx context.Context, opts Options, cb Callbacks) (*Client, error) {
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = defaultReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.TypingDebounce <= 0 {
		opts.TypingDebounce = defaultTypingDebounce
	}

	c := &Client{
		opts:   opts,
		cb:     cb,
		log:    opts.Logger,
		rooms:  make(map[string]realtime.ChatRoomPayload),
		typing: make(map[string]*time.Timer),
	}
	c.setState(StateConnecting)

	if err := c.connect(ctx); err != nil {
		c.setState(StateDisconnected)
		return nil, err
	}
	c.setState(StateConnected)
	return c, nil
}

// connect dials with retries and completes the authenticate handshake.
func (c *Client) connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.opts.ReconnectDelay):
			}
		}

		ws, _, err := gorillawebsocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("dial failed")
			continue
		}

		c.mu.Lock()
		c.ws = ws
		c.authed = make(chan error, 1)
		c.mu.Unlock()

		go c.readLoop(ws)

		if err := c.authenticate(ctx); err != nil {
			lastErr = err
			ws.Close()
			continue
		}
		c.rejoinRooms()
		return nil
	}
	return fmt.Errorf("connect failed after %d attempts: %w", c.opts.ReconnectAttempts, lastErr)
}

func (c *Client) authenticate(ctx context.Context) error {
	payload := realtime.AuthenticatePayload{
		Token:  c.opts.Token,
		UserID: c.opts.UserID,
		Role:   realtime.Role(c.opts.Role),
		Email:  c.opts.Email,
	}
	if err := c.send(realtime.EventAuthenticate, payload); err != nil {
		return err
	}

	c.mu.Lock()
	authed := c.authed
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-authed:
		return err
	case <-time.After(10 * time.Second):
		return fmt.Errorf("authentication timed out")
	}
}

func (c *Client) rejoinRooms() {
	c.mu.Lock()
	rooms := make([]realtime.ChatRoomPayload, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	for _, r := range rooms {
		if err := c.send(realtime.EventJoinChat, r); err != nil {
			c.log.Warn().Err(err).Msg("rejoin failed")
		}
	}
}

// readLoop dispatches server frames until the socket drops, then triggers
// reconnection.
func (c *Client) readLoop(ws *gorillawebsocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var env realtime.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		c.handle(env)
	}

	c.mu.Lock()
	stale := c.ws != ws
	closed := c.closed
	c.mu.Unlock()
	if stale || closed {
		return
	}

	c.setState(StateReconnecting)
	if err := c.connect(context.Background()); err != nil {
		c.log.Error().Err(err).Msg("reconnect failed")
		c.setState(StateDisconnected)
		return
	}
	c.setState(StateConnected)
}

func (c *Client) handle(env realtime.Envelope) {
	switch env.Event {
	case realtime.EventAuthenticated:
		var p realtime.AuthenticatedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.mu.Lock()
		authed := c.authed
		c.mu.Unlock()
		if authed == nil {
			return
		}
		if p.Success {
			authed <- nil
		} else {
			authed <- fmt.Errorf("authentication rejected: %s", p.Error)
		}

	case realtime.EventMessageReceived:
		var msg realtime.ChatMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		// The server broadcasts to the whole room including the author;
		// the author's copy is the optimistic-echo confirmation.
		if msg.SenderID == c.opts.UserID {
			localID := c.reconcile(msg)
			if c.cb.OnEcho != nil {
				c.cb.OnEcho(localID, msg)
			}
			return
		}
		if c.cb.OnMessage != nil {
			c.cb.OnMessage(msg)
		}

	case realtime.EventMessageReadConfirmed:
		var p realtime.ReadConfirmedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if c.cb.OnReadConfirmed != nil {
			c.cb.OnReadConfirmed(p)
		}

	case realtime.EventTypingStarted:
		var p realtime.TypingStartedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if c.cb.OnTypingStarted != nil {
			c.cb.OnTypingStarted(p)
		}

	case realtime.EventTypingStopped:
		var p realtime.TypingStoppedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if c.cb.OnTypingStopped != nil {
			c.cb.OnTypingStopped(p)
		}

	case realtime.EventUserOnline, realtime.EventUserOffline:
		var p realtime.PresencePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if c.cb.OnPresence != nil {
			c.cb.OnPresence(p, env.Event == realtime.EventUserOnline)
		}

	case realtime.EventEmergencyAlert:
		var p realtime.EmergencyPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if c.cb.OnEmergency != nil {
			c.cb.OnEmergency(p)
		}

	case realtime.EventError:
		var p realtime.ErrorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if c.cb.OnError != nil {
			c.cb.OnError(p)
		}
	}
}

// JoinRoom enters the conversation room for the participant pair and
// remembers it so reconnects rejoin automatically.
func (c *Client) JoinRoom(patientID, doctorID string) error {
	room := realtime.ChatRoomPayload{PatientID: patientID, DoctorID: doctorID}
	c.mu.Lock()
	c.rooms[realtime.ChatRoomID(patientID, doctorID)] = room
	c.mu.Unlock()
	return c.send(realtime.EventJoinChat, room)
}

// LeaveRoom leaves the conversation room and stops rejoining it.
func (c *Client) LeaveRoom(patientID, doctorID string) error {
	c.mu.Lock()
	delete(c.rooms, realtime.ChatRoomID(patientID, doctorID))
	c.mu.Unlock()
	return c.send(realtime.EventLeaveChat, realtime.ChatRoomPayload{PatientID: patientID, DoctorID: doctorID})
}

// reconcile matches a server echo against the oldest pending send with the
// same content and returns its local id.
func (c *Client) reconcile(msg realtime.ChatMessage) string {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for i, p := range c.pending {
		if p.content == msg.Content {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return p.localID
		}
	}
	return ""
}

// SendMessage relays a message and returns a local id for the optimistic
// copy the UI shows immediately. The server's echo arrives through OnEcho
// with that local id plus the authoritative message id and timestamp.
// Sending also flushes any pending typing-stop for the conversation.
func (c *Client) SendMessage(msg realtime.ChatMessage) (string, error) {
	localID := uuid.New().String()

	c.pendingMu.Lock()
	c.pending = append(c.pending, pendingSend{localID: localID, content: msg.Content})
	c.pendingMu.Unlock()

	if err := c.send(realtime.EventMessageSend, msg); err != nil {
		c.pendingMu.Lock()
		for i, p := range c.pending {
			if p.localID == localID {
				c.pending = append(c.pending[:i], c.pending[i+1:]...)
				break
			}
		}
		c.pendingMu.Unlock()
		return "", err
	}

	patientID, doctorID := c.roomForPeer(msg.ReceiverID)
	c.flushTyping(patientID, doctorID)
	return localID, nil
}

// roomForPeer resolves the conversation pair from the session's own role.
func (c *Client) roomForPeer(peerID string) (patientID, doctorID string) {
	if c.opts.Role == "patient" {
		return c.opts.UserID, peerID
	}
	return peerID, c.opts.UserID
}

// flushTyping sends the stop signal immediately if a debounce timer is
// armed for the room, and is a no-op otherwise.
func (c *Client) flushTyping(patientID, doctorID string) {
	roomID := realtime.ChatRoomID(patientID, doctorID)
	c.typingMu.Lock()
	timer, active := c.typing[roomID]
	if active {
		timer.Stop()
		delete(c.typing, roomID)
	}
	c.typingMu.Unlock()
	if !active {
		return
	}
	if err := c.send(realtime.EventTypingStop, realtime.ChatRoomPayload{PatientID: patientID, DoctorID: doctorID}); err != nil {
		c.log.Warn().Err(err).Msg("typing stop failed")
	}
}

// MarkRead acknowledges the given messages as read.
func (c *Client) MarkRead(messageIDs []string, patientID, doctorID string) error {
	return c.send(realtime.EventMessageRead, realtime.ReadPayload{
		MessageIDs: messageIDs,
		PatientID:  patientID,
		DoctorID:   doctorID,
	})
}

// Typing reports a keystroke in the conversation. The first call sends the
// start signal; the stop signal fires once no keystroke arrives for the
// debounce window. Call it on every input change.
func (c *Client) Typing(patientID, doctorID string) error {
	roomID := realtime.ChatRoomID(patientID, doctorID)
	room := realtime.ChatRoomPayload{PatientID: patientID, DoctorID: doctorID}

	c.typingMu.Lock()
	timer, active := c.typing[roomID]
	if active {
		timer.Reset(c.opts.TypingDebounce)
		c.typingMu.Unlock()
		return nil
	}
	c.typing[roomID] = time.AfterFunc(c.opts.TypingDebounce, func() {
		c.typingMu.Lock()
		delete(c.typing, roomID)
		c.typingMu.Unlock()
		if err := c.send(realtime.EventTypingStop, room); err != nil {
			c.log.Warn().Err(err).Msg("typing stop failed")
		}
	})
	c.typingMu.Unlock()

	return c.send(realtime.EventTypingStart, room)
}

// StopTyping sends the stop signal immediately, for explicit events like
// submitting the message.
func (c *Client) StopTyping(patientID, doctorID string) error {
	roomID := realtime.ChatRoomID(patientID, doctorID)
	c.typingMu.Lock()
	if timer, ok := c.typing[roomID]; ok {
		timer.Stop()
		delete(c.typing, roomID)
	}
	c.typingMu.Unlock()
	return c.send(realtime.EventTypingStop, realtime.ChatRoomPayload{PatientID: patientID, DoctorID: doctorID})
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close ends the session. The client does not reconnect after Close.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	c.typingMu.Lock()
	for roomID, timer := range c.typing {
		timer.Stop()
		delete(c.typing, roomID)
	}
	c.typingMu.Unlock()

	c.setState(StateDisconnected)
	if ws != nil {
		return ws.Close()
	}
	return nil
}

func (c *Client) send(event string, payload any) error {
	data, err := realtime.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil || c.closed {
		return fmt.Errorf("not connected")
	}
	return c.ws.WriteMessage(gorillawebsocket.TextMessage, data)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.cb.OnState != nil {
		c.cb.OnState(s)
	}
}
