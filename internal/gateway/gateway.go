// Package gateway implements WsGateway (spec.md §4.2): it upgrades an
// incoming HTTP request to a WebSocket, enforces the origin allowlist and
// max-payload limit, runs the ping/pong heartbeat, and feeds every frame
// it reads into a session.Session. Kept separate from internal/session so
// the FSM can be tested without a real network connection.
package gateway

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Nixieboluo/sealos-tty-agent/internal/config"
	"github.com/Nixieboluo/sealos-tty-agent/internal/kubeexec"
	"github.com/Nixieboluo/sealos-tty-agent/internal/session"
	"github.com/Nixieboluo/sealos-tty-agent/internal/ticket"
)

const (
	writeWait  = 10 * time.Second
	closeGrace = 2 * time.Second
)

// Gateway upgrades HTTP requests to WebSocket terminal sessions.
type Gateway struct {
	cfg    *config.Config
	store  *ticket.Store
	logger *slog.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session.Session
	nextID   uint64
}

// New builds a Gateway. cfg.WsAllowedOrigins (via cfg.OriginAllowed) gates
// CheckOrigin; cfg.WsMaxPayload bounds a single message's size.
func New(cfg *config.Config, store *ticket.Store, logger *slog.Logger) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		sessions: make(map[string]*session.Session),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return cfg.OriginAllowed(r.Header.Get("Origin"))
		},
	}
	return g
}

// ServeHTTP upgrades the connection and runs the session until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	wsConn.SetReadLimit(g.cfg.WsMaxPayload)

	id := g.newSessionID()
	logger := g.logger.With("session_id", id)
	conn := newWsConn(wsConn, logger)

	factory := func(kubeconfig string) (session.Execer, error) {
		return kubeexec.NewClient(kubeconfig)
	}

	authTimeout := time.Duration(g.cfg.WsAuthTimeoutMs) * time.Millisecond
	sess := session.New(id, logger, g.store, factory, authTimeout, conn)

	g.addSession(id, sess)
	defer g.removeSession(id)

	g.runHeartbeat(wsConn, sess)

	sess.Accept()

	if ticketID := r.URL.Query().Get("ticket"); ticketID != "" {
		sess.AuthWithTicket(ticketID, ticket.IssuerMeta{
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	}

	g.readPump(wsConn, sess, logger)
}

func (g *Gateway) newSessionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	return time.Now().UTC().Format("20060102T150405.000000000") + "-" + strconv.FormatUint(g.nextID, 10)
}

func (g *Gateway) addSession(id string, s *session.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[id] = s
}

func (g *Gateway) removeSession(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, id)
}

// SessionCount reports the number of live sessions, for metrics.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// CloseAll closes every live session, used on server shutdown.
func (g *Gateway) CloseAll() {
	g.mu.Lock()
	sessions := make([]*session.Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	for _, s := range sessions {
		s.Close(1001, "server shutting down")
	}
}

// runHeartbeat pings on cfg.WsHeartbeatIntervalMs and closes the session if
// no pong arrives within 2x that interval (spec.md §4.2/§8 "dead peer
// detected within 2x the heartbeat interval"). The read-deadline window is
// derived from the configured interval rather than fixed, so a short
// interval (e.g. in tests) detects a dead peer quickly and a long one
// doesn't starve a live-but-slow peer before its first ping is even due.
func (g *Gateway) runHeartbeat(wsConn *websocket.Conn, sess *session.Session) {
	interval := time.Duration(g.cfg.WsHeartbeatIntervalMs) * time.Millisecond
	pongWait := 2 * interval
	_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			if sess.IsClosed() {
				return
			}
			if err := wsConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				sess.Close(1001, "heartbeat write failed")
				return
			}
		}
	}()
}

// readPump reads messages until the connection errors or closes, feeding
// each into the session.
func (g *Gateway) readPump(wsConn *websocket.Conn, sess *session.Session, logger *slog.Logger) {
	for {
		msgType, payload, err := wsConn.ReadMessage()
		if err != nil {
			sess.Close(1000, "connection closed")
			return
		}
		switch msgType {
		case websocket.TextMessage:
			sess.HandleText(payload)
		case websocket.BinaryMessage:
			sess.HandleBinary(payload)
		}
		if sess.IsClosed() {
			return
		}
	}
}

// wsConn adapts a *websocket.Conn to session.Conn. Gorilla requires all
// writes to a connection be serialized, hence the mutex.
type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger *slog.Logger
}

func newWsConn(conn *websocket.Conn, logger *slog.Logger) *wsConn {
	return &wsConn{conn: conn, logger: logger}
}

func (c *wsConn) WriteText(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) WriteBinary(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
	time.AfterFunc(closeGrace, func() { _ = c.conn.Close() })
	return nil
}
