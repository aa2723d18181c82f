package realtime

import (
	"context"
	"encoding/json"
	"net/http"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/docplus/portal/internal/platform/auth"
)

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// Handler upgrades HTTP connections to WebSocket and drives the per-
// connection event loop. Each connection gets its own read and write pump;
// cross-connection effects all go through the hub's synchronization.
type Handler struct {
	hub       *Hub
	jwtSecret []byte
	log       zerolog.Logger
}

// NewHandler creates a socket handler bound to the hub. jwtSecret enables
// token-based authenticate frames; when empty, only the trusted identity
// triple form is accepted.
func NewHandler(hub *Hub, jwtSecret []byte, log zerolog.Logger) *Handler {
	return &Handler{hub: hub, jwtSecret: jwtSecret, log: log}
}

// RegisterRoutes registers the WebSocket endpoint on the provided Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

// HandleConnect upgrades the connection, registers it with the hub, and
// starts the pumps.
func (h *Handler) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	conn := NewConnection()
	h.hub.Connect(conn)

	go h.writePump(conn, ws)
	go h.readPump(conn, ws)

	return nil
}

// readPump reads frames from the socket and dispatches them until the
// transport closes, then runs the hub disconnect exactly once.
func (h *Handler) readPump(conn *Connection, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Disconnect(conn)
		ws.Close()
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			continue // Ignore malformed frames.
		}

		h.dispatch(conn, env)
	}
}

// writePump drains the connection's outbound queue onto the socket.
func (h *Handler) writePump(conn *Connection, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range conn.Outbound() {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			break
		}
	}
}

// dispatch routes one inbound frame to the hub. Rejections are reported to
// the sender as error events; the connection stays open.
func (h *Handler) dispatch(conn *Connection, env Envelope) {
	// Socket frames have no request context; store calls get their own.
	ctx := context.Background()

	switch env.Event {
	case EventAuthenticate:
		h.handleAuthenticate(conn, env.Data)

	case EventJoinChat:
		var p ChatRoomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(conn, ErrInvalidPayload)
			return
		}
		if err := h.hub.JoinChat(conn, p.PatientID, p.DoctorID); err != nil {
			h.sendError(conn, err)
		}

	case EventLeaveChat:
		var p ChatRoomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(conn, ErrInvalidPayload)
			return
		}
		if err := h.hub.LeaveChat(conn, p.PatientID, p.DoctorID); err != nil {
			h.sendError(conn, err)
		}

	case EventMessageSend:
		var msg ChatMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			h.sendError(conn, ErrInvalidPayload)
			return
		}
		if _, err := h.hub.Send(ctx, conn, &msg); err != nil {
			h.sendError(conn, err)
		}

	case EventMessageRead:
		var p ReadPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(conn, ErrInvalidPayload)
			return
		}
		if err := h.hub.MarkRead(ctx, conn, p.MessageIDs, p.PatientID, p.DoctorID); err != nil {
			h.sendError(conn, err)
		}

	case EventTypingStart:
		var p ChatRoomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(conn, ErrInvalidPayload)
			return
		}
		if err := h.hub.StartTyping(conn, p.PatientID, p.DoctorID); err != nil {
			h.sendError(conn, err)
		}

	case EventTypingStop:
		var p ChatRoomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(conn, ErrInvalidPayload)
			return
		}
		if err := h.hub.StopTyping(conn, p.PatientID, p.DoctorID); err != nil {
			h.sendError(conn, err)
		}

	default:
		// Unknown events are ignored so protocol additions stay
		// backward compatible.
	}
}

// handleAuthenticate resolves the identity from either a session token or
// the trusted identity triple, then replies with an authenticated frame.
func (h *Handler) handleAuthenticate(conn *Connection, data json.RawMessage) {
	var p AuthenticatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendAuthenticated(conn, AuthenticatedPayload{Success: false, Error: "invalid payload"})
		return
	}

	id := Identity{UserID: p.UserID, Role: p.Role, Email: p.Email}

	if p.Token != "" {
		if len(h.jwtSecret) == 0 {
			h.sendAuthenticated(conn, AuthenticatedPayload{Success: false, Error: "token authentication not configured"})
			return
		}
		claims, err := auth.ParseToken(h.jwtSecret, p.Token)
		if err != nil {
			h.sendAuthenticated(conn, AuthenticatedPayload{Success: false, Error: "invalid token"})
			return
		}
		id = Identity{UserID: claims.Subject, Role: Role(claims.Role), Email: claims.Email}
	}

	if err := h.hub.Authenticate(conn, id); err != nil {
		h.sendAuthenticated(conn, AuthenticatedPayload{Success: false, Error: err.Error()})
		return
	}

	h.sendAuthenticated(conn, AuthenticatedPayload{Success: true, UserID: id.UserID})
}

func (h *Handler) sendAuthenticated(conn *Connection, p AuthenticatedPayload) {
	data, err := NewEnvelope(EventAuthenticated, p)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal authenticated reply")
		return
	}
	conn.Enqueue(data)
}

func (h *Handler) sendError(conn *Connection, cause error) {
	data, err := NewEnvelope(EventError, ErrorPayload{
		Code:    ErrorCode(cause),
		Message: cause.Error(),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("marshal error event")
		return
	}
	conn.Enqueue(data)
}
