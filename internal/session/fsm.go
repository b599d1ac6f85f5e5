// Package session implements the per-connection SessionFSM (spec.md §4.3):
// the lifecycle from WebSocket accept through auth, exec start, and close,
// plus the auth gate and pending-resize bookkeeping. It owns no transport
// code itself — WsGateway feeds it frames and it calls back through the
// Conn and Execer interfaces, mirroring how the teacher's webterm.Session
// (pkg/bridge/webterm/session.go) owns lifecycle/state while treating its
// net.Conn and agentIO as injected collaborators.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Nixieboluo/sealos-tty-agent/internal/frame"
	"github.com/Nixieboluo/sealos-tty-agent/internal/kubeexec"
	"github.com/Nixieboluo/sealos-tty-agent/internal/ticket"
)

// State is a SessionFSM state (spec.md §4.3).
type State int

const (
	StateConnecting State = iota
	StateReady
	StateAuthed
	StateStarting
	StateStarted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateAuthed:
		return "authed"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the transport collaborator a Session drives. WsGateway supplies
// the real *websocket.Conn-backed implementation; tests supply a fake.
type Conn interface {
	WriteText(payload []byte) error
	WriteBinary(payload []byte) error
	Close(code int, reason string) error
}

// Execer starts an upstream exec attach. *kubeexec.Client satisfies this.
type Execer interface {
	Attach(ctx context.Context, target kubeexec.Target, stdin io.Reader, sink *kubeexec.ResizableSink, onStatus kubeexec.StatusCallback) (*kubeexec.AttachResult, error)
}

// ExecerFactory builds an Execer from a consumed ticket's kubeconfig text.
type ExecerFactory func(kubeconfig string) (Execer, error)

type pendingSize struct {
	cols, rows int
}

// Session is the per-connection state machine.
type Session struct {
	ID     string
	logger *slog.Logger

	store         *ticket.Store
	execerFactory ExecerFactory
	authTimeout   time.Duration

	conn Conn

	mu    sync.Mutex
	state State

	target     ticket.Target
	kubeconfig string
	execer     Execer

	pending *pendingSize

	stdinWriter *io.PipeWriter
	sink        *kubeexec.ResizableSink

	closed     atomic.Bool
	closeOnce  sync.Once
	authTimer  *time.Timer
	execCancel context.CancelFunc
}

// New creates a Session in state connecting.
func New(id string, logger *slog.Logger, store *ticket.Store, execerFactory ExecerFactory, authTimeout time.Duration, conn Conn) *Session {
	return &Session{
		ID:            id,
		logger:        logger.With("session_id", id),
		store:         store,
		execerFactory: execerFactory,
		authTimeout:   authTimeout,
		conn:          conn,
		state:         StateConnecting,
	}
}

// State returns the current FSM state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// Accept transitions connecting -> ready, emits {type:"ready"}, and starts
// the auth timeout. Called once, immediately after the WebSocket upgrade.
func (s *Session) Accept() {
	s.setState(StateReady)
	s.send(frame.Ready())

	s.mu.Lock()
	s.authTimer = time.AfterFunc(s.authTimeout, s.onAuthTimeout)
	s.mu.Unlock()
}

func (s *Session) onAuthTimeout() {
	if s.State() != StateReady {
		return // already authed, or already closed
	}
	s.fail(fmt.Sprintf("Auth timeout: no auth frame within %s.", s.authTimeout), 1008)
}

// AuthWithTicket consumes ticket via the store and, on success, advances
// ready -> authed, flushing any pending resize. It is used both for a
// query-string ticket (consumed immediately on accept) and for a JSON
// auth frame.
func (s *Session) AuthWithTicket(ticketID string, issuer ticket.IssuerMeta) {
	state := s.State()
	if state == StateClosed {
		return
	}
	if state != StateReady {
		// Ticket replay hardening: a second auth frame after authed is
		// idempotent — re-emit authed without another consume attempt
		// (spec.md §4.3).
		if state == StateAuthed || state == StateStarting || state == StateStarted {
			s.send(frame.Authed())
		}
		return
	}

	kubeconfig, target, err := s.store.Consume(ticketID, issuer)
	if err != nil {
		msg := "Invalid or expired ticket."
		if te, ok := ticket.AsTicketError(err); ok {
			msg = te.Message
		}
		s.fail(msg, 1008)
		return
	}

	s.mu.Lock()
	if s.authTimer != nil {
		s.authTimer.Stop()
	}
	s.kubeconfig = kubeconfig
	s.target = target
	s.state = StateAuthed
	pending := s.pending
	s.mu.Unlock()

	s.send(frame.Authed())
	s.logger.Info("session authenticated", "namespace", target.Namespace, "pod", target.Pod)

	if pending != nil {
		s.startExec(pending.cols, pending.rows)
	}
}

// HandleText parses and dispatches a text-message control frame.
func (s *Session) HandleText(payload []byte) {
	f, err := frame.ParseClientFrame(payload)
	if err != nil {
		s.send(frame.ErrorFrame(err.Error()))
		return
	}

	state := s.State()

	// Auth gate: before authed, only auth and ping are accepted
	// (spec.md §4.3).
	if state == StateReady && f.Type != frame.TypeAuth && f.Type != frame.TypePing {
		if f.Type == frame.TypeResize {
			// A resize arriving before auth is stored, not rejected —
			// it is flushed on authed (spec.md §4.3).
			s.mu.Lock()
			s.pending = &pendingSize{cols: f.Cols, rows: f.Rows}
			s.mu.Unlock()
			return
		}
		s.fail("Not authenticated.", 1008)
		return
	}

	switch f.Type {
	case frame.TypeAuth:
		s.AuthWithTicket(f.Ticket, ticket.IssuerMeta{})

	case frame.TypePing:
		s.send(frame.Pong())

	case frame.TypeResize:
		s.handleResize(f.Cols, f.Rows)

	case frame.TypeStdin:
		s.writeStdin([]byte(f.Data))
	}
}

// HandleBinary handles a binary WebSocket message. Pre-auth, binary
// frames are rejected and the session is closed (spec.md §4.3). Post-auth
// they are raw stdin bytes forwarded to the upstream exec stdin.
func (s *Session) HandleBinary(payload []byte) {
	state := s.State()
	if state == StateReady || state == StateConnecting {
		s.fail("Not authenticated.", 1008)
		return
	}
	s.writeStdin(payload)
}

func (s *Session) writeStdin(p []byte) {
	s.mu.Lock()
	w := s.stdinWriter
	s.mu.Unlock()
	if w == nil {
		return // exec not started yet; bytes arriving before starting are dropped
	}
	_, _ = w.Write(p)
}

// handleResize implements the "exec start on first resize" and ongoing
// resize propagation rules of spec.md §4.3/§4.4.
func (s *Session) handleResize(cols, rows int) {
	state := s.State()
	switch state {
	case StateAuthed:
		s.startExec(cols, rows)
	case StateStarting:
		// Between authed and started: last one wins (spec.md §4.4).
		s.mu.Lock()
		s.pending = &pendingSize{cols: cols, rows: rows}
		s.mu.Unlock()
	case StateStarted:
		s.mu.Lock()
		sink := s.sink
		s.mu.Unlock()
		if sink != nil {
			sink.Resize(uint16(cols), uint16(rows))
		}
	}
}

// startExec transitions authed -> starting and asynchronously opens the
// upstream exec. Only the first resize after auth triggers this
// (spec.md §4.3 "Exec start on first resize").
func (s *Session) startExec(cols, rows int) {
	s.mu.Lock()
	if s.state != StateAuthed {
		s.mu.Unlock()
		return
	}
	s.state = StateStarting
	s.pending = nil

	execer, err := s.execerFactory(s.kubeconfig)
	if err != nil {
		s.mu.Unlock()
		s.fail("Failed to initialize exec session.", 1011)
		return
	}
	s.execer = execer

	stdinReader, stdinWriter := io.Pipe()
	s.stdinWriter = stdinWriter
	sink := kubeexec.NewResizableSink(execSinkWriter{s}, uint16(cols), uint16(rows))
	s.sink = sink

	execCtx, cancel := context.WithCancel(context.Background())
	s.execCancel = cancel
	target := s.target
	s.mu.Unlock()

	go s.runExec(execCtx, execer, target, stdinReader, sink)
}

// execSinkWriter adapts Session.send-as-binary into an io.Writer for
// ResizableSink, so upstream stdout/stderr bytes flow straight to the
// client WebSocket as binary frames (spec.md §4.4).
type execSinkWriter struct{ s *Session }

func (w execSinkWriter) Write(p []byte) (int, error) {
	if err := w.s.conn.WriteBinary(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *Session) runExec(ctx context.Context, execer Execer, target ticket.Target, stdin io.Reader, sink *kubeexec.ResizableSink) {
	kt := kubeexec.Target{
		Namespace: target.Namespace,
		Pod:       target.Pod,
		Container: target.Container,
		Command:   target.Command,
	}

	onStatus := func(st kubeexec.Status) {
		if st.Status == "Starting" {
			s.mu.Lock()
			if s.state != StateStarting {
				s.mu.Unlock()
				return
			}
			s.state = StateStarted
			pending := s.pending
			s.pending = nil
			if pending != nil {
				// Apply the last resize received while starting.
				sink.Resize(uint16(pending.cols), uint16(pending.rows))
			}
			s.mu.Unlock()
			s.send(frame.Started())
			return
		}
		s.send(frame.Status(map[string]string{"status": st.Status, "message": st.Message}))

		switch st.Status {
		case "Success":
			s.closeSession(1000, "exec finished")
		case "Failure":
			msg := st.Message
			if msg == "" {
				msg = "exec failed"
			}
			s.send(frame.ErrorFrame(msg))
			s.closeSession(1011, "exec failed")
		}
	}

	_, err := execer.Attach(ctx, kt, stdin, sink, onStatus)
	if err != nil && s.State() != StateClosed {
		s.fail(err.Error(), 1008)
	}
}

// send writes a text control frame, logging (not panicking) on failure —
// a write error means the peer is going away, which the read pump will
// discover independently.
func (s *Session) send(payload []byte) {
	if err := s.conn.WriteText(payload); err != nil {
		s.logger.Debug("write failed", "error", err)
	}
}

// fail sends an error frame and closes with the given WebSocket close
// code (spec.md §7).
func (s *Session) fail(message string, code int) {
	s.send(frame.ErrorFrame(message))
	s.closeSession(code, message)
}

// closeSession is idempotent cleanup (spec.md §4.3 "Idempotent close").
func (s *Session) closeSession(code int, reason string) {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.setState(StateClosed)

		s.mu.Lock()
		if s.authTimer != nil {
			s.authTimer.Stop()
		}
		if s.execCancel != nil {
			s.execCancel()
		}
		if s.stdinWriter != nil {
			_ = s.stdinWriter.Close()
		}
		if s.sink != nil {
			s.sink.Close()
		}
		s.mu.Unlock()

		_ = s.conn.Close(code, reason)
	})
}

// Close is the externally-triggered idempotent close (peer close, gateway
// shutdown, heartbeat failure).
func (s *Session) Close(code int, reason string) {
	s.closeSession(code, reason)
}

// IsClosed reports whether the session has been closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}
