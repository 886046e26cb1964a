package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/thaeryn/httpgateway/internal/audit"
	"github.com/thaeryn/httpgateway/internal/auth"
	"github.com/thaeryn/httpgateway/internal/host"
	"github.com/thaeryn/httpgateway/internal/infrastructure/config"
	"github.com/thaeryn/httpgateway/internal/infrastructure/logging"
)

// Message types sent by the gateway itself. Host events use their level
// name as the type.
const (
	MsgTypeNotification = "Notification"
	MsgTypeError        = "Error"

	// WelcomeText is sent to every session once it is authorized.
	WelcomeText = "Websocket server started."
)

const (
	defaultSendBuffer   = 256
	defaultEventQueue   = 1024
	defaultPingInterval = 30
	defaultPongTimeout  = 10

	// closeGrace bounds the close handshake on a denied upgrade.
	closeGrace = time.Second
)

// ErrHubClosed is returned by Publish once the hub has shut down.
var ErrHubClosed = errors.New("broadcast hub closed")

// Message is one frame sent to a WebSocket session.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub tracks authorized WebSocket sessions and fans out host events.
//
// Events are queued by Publish and delivered by Run in arrival order. A
// session whose send buffer is full is disconnected rather than skipped,
// so every connected session has received every broadcast.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	metrics *Metrics

	events     chan host.Event
	done       chan struct{}
	broadcasts atomic.Uint64

	mu       sync.RWMutex
	sessions map[*Session]struct{}
	closed   bool
}

// Session is one authorized WebSocket connection.
type Session struct {
	id       string
	identity auth.Identity
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// The token in the path authorizes the session, not the origin.
		return true
	},
}

// NewHub creates a hub. metrics may be nil.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, metrics *Metrics) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.EventQueue <= 0 {
		cfg.EventQueue = defaultEventQueue
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		events:   make(chan host.Event, cfg.EventQueue),
		done:     make(chan struct{}),
		sessions: make(map[*Session]struct{}),
	}
}

// Publish queues ev for every active session. It blocks while the queue
// is full, until ctx is cancelled or the hub shuts down.
func (h *Hub) Publish(ctx context.Context, ev host.Event) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	select {
	case h.events <- ev:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run delivers queued events until ctx is cancelled, then closes every
// session.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case ev := <-h.events:
			h.broadcast(Message{Type: ev.Level, Data: ev.Message})
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// broadcast serialises msg once and hands it to every session.
func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	var slow []*Session

	// Sends are non-blocking, so holding the read lock keeps a send channel
	// from being closed mid-loop.
	h.mu.RLock()
	for s := range h.sessions {
		select {
		case s.send <- data:
		default:
			slow = append(slow, s)
		}
	}
	recipients := len(h.sessions) - len(slow)
	h.mu.RUnlock()

	for _, s := range slow {
		h.logger.Warn("websocket send buffer full, disconnecting session",
			"session_id", s.id,
			"user_id", s.identity.UserID,
		)
		h.metrics.incSlowDisconnect()
		h.unregister(s)
	}

	h.broadcasts.Add(1)
	h.metrics.incBroadcast()
	h.logger.Debug("broadcast sent", "type", msg.Type, "recipients", recipients)
}

// register adds s to the active set. It returns false once the hub has
// shut down.
func (h *Hub) register(s *Session) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()

	h.metrics.setSessions(n)
	h.logger.Debug("websocket session registered", "session_id", s.id, "sessions", n)
	return true
}

// unregister removes s. Only the caller that removes it closes its send
// channel, so the channel is closed exactly once.
func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	_, existed := h.sessions[s]
	delete(h.sessions, s)
	n := len(h.sessions)
	h.mu.Unlock()

	if existed {
		close(s.send)
		h.metrics.setSessions(n)
		h.logger.Debug("websocket session removed", "session_id", s.id, "sessions", n)
	}
}

// Count returns the number of active sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Broadcasts returns the number of events delivered so far.
func (h *Hub) Broadcasts() uint64 {
	return h.broadcasts.Load()
}

// closeAll removes every session. Each write pump then sends a close
// frame and closes its connection.
func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	for s := range h.sessions {
		close(s.send)
		delete(h.sessions, s)
	}
	h.mu.Unlock()

	h.metrics.setSessions(0)
}

// handleWebSocket upgrades the connection, then authorizes the token in
// the path. A denied session gets one Error frame and is closed without
// ever joining the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	identity, ok := s.authorize(r.Context(), chi.URLParam(r, "token"), "websocket")
	if !ok {
		s.metrics.incUpgrade(resultDenied)
		s.auditLog(&audit.AuditLog{
			Action:     audit.ActionWSConnect,
			Result:     audit.ResultDenied,
			Source:     audit.SourceWebSocket,
			RemoteAddr: clientIP(r),
		})
		s.rejectSession(conn)
		return
	}

	session := &Session{
		id:       uuid.NewString(),
		identity: identity,
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, s.hub.cfg.SendBuffer),
	}

	welcome, err := json.Marshal(Message{Type: MsgTypeNotification, Data: WelcomeText})
	if err != nil {
		welcome = emptyBody
	}
	// Queued before register so it precedes every broadcast.
	session.send <- welcome

	if !s.hub.register(session) {
		conn.Close()
		return
	}

	s.metrics.incUpgrade(resultAccepted)
	s.auditLog(&audit.AuditLog{
		Action:     audit.ActionWSConnect,
		Result:     audit.ResultAccepted,
		UserID:     identity.UserID,
		UserName:   identity.UserName,
		RoleID:     identity.RoleID,
		Source:     audit.SourceWebSocket,
		RemoteAddr: clientIP(r),
	})
	s.logger.Info("websocket session opened",
		"session_id", session.id,
		"user_id", identity.UserID,
	)

	go session.writePump()
	go session.readPump()
}

// rejectSession sends the Unauthorized frame and closes conn.
func (s *Server) rejectSession(conn *websocket.Conn) {
	defer conn.Close()

	deadline := time.Now().Add(closeGrace)
	//nolint:errcheck // Best-effort deadline; write error caught below
	conn.SetWriteDeadline(deadline)

	if err := conn.WriteJSON(Message{Type: MsgTypeError, Data: ErrUnauthorized}); err != nil {
		s.logger.Debug("websocket denial not delivered", "error", err)
		return
	}
	//nolint:errcheck // Best-effort close frame
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ErrUnauthorized),
		deadline,
	)
}

// readPump discards inbound frames and keeps the read deadline alive.
// The channel is send-only; reading is needed to process control frames.
func (c *Session) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", "session_id", c.id, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(wait))
	}
}

// writePump writes queued frames and pings until the send channel closes.
func (c *Session) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
