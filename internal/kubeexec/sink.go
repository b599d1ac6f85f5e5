package kubeexec

import (
	"io"
	"sync"
	"sync/atomic"

	"k8s.io/client-go/tools/remotecommand"
)

// BytesOut is the cumulative count of merged stdout/stderr bytes piped
// to clients across all sessions, read live by the metrics collector.
var BytesOut atomic.Int64

// ResizableSink is an outbound byte sink that also carries mutable TTY
// dimensions and a resize signal for window-change propagation
// (spec.md §3/§4.4/§9). It implements io.Writer (merged stdout+stderr
// target for remotecommand) and remotecommand.TerminalSizeQueue, mirroring
// the reference terminaler's Session (sizeChan) from
// other_examples/airflow-cn-pod-websocket-terminal__terminal.go, adapted
// from a *websocket.Conn wrapper into a plain io.Writer + resize channel
// so the gateway owns the actual WebSocket write.
type ResizableSink struct {
	mu   sync.Mutex
	cols uint16
	rows uint16

	out      io.Writer // where merged stdout/stderr bytes are written
	resizeCh chan remotecommand.TerminalSize

	closed bool
}

// NewResizableSink creates a sink writing merged output to out, with the
// given initial cols/rows (the first resize frame's dimensions per
// spec.md §4.3).
func NewResizableSink(out io.Writer, cols, rows uint16) *ResizableSink {
	s := &ResizableSink{
		out:      out,
		cols:     cols,
		rows:     rows,
		resizeCh: make(chan remotecommand.TerminalSize, 1),
	}
	// Seed the channel so the executor's first Next() call — which
	// establishes the initial PTY window size on the resize stream — sees
	// the size the session was started with (spec.md §4.4 "Initial
	// columns/rows set on the sink before attach").
	s.resizeCh <- remotecommand.TerminalSize{Width: cols, Height: rows}
	return s
}

// Write implements io.Writer, forwarding merged stdout/stderr bytes
// upstream→client in order, with no re-framing (spec.md §4.4).
func (s *ResizableSink) Write(p []byte) (int, error) {
	n, err := s.out.Write(p)
	BytesOut.Add(int64(n))
	return n, err
}

// Resize updates cols/rows and signals the change to the remotecommand
// executor, which reads the latest value via Next() on its own schedule
// (spec.md §9 "resizable sink across languages").
func (s *ResizableSink) Resize(cols, rows uint16) {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()

	select {
	case s.resizeCh <- remotecommand.TerminalSize{Width: cols, Height: rows}:
	default:
		// A resize is already pending delivery; drain and replace so the
		// executor always sees the most recent size ("last one wins",
		// spec.md §4.4).
		select {
		case <-s.resizeCh:
		default:
		}
		s.resizeCh <- remotecommand.TerminalSize{Width: cols, Height: rows}
	}
}

// Next implements remotecommand.TerminalSizeQueue. It blocks until a
// resize is signaled or the sink is closed, returning nil in the latter
// case to tell remotecommand no more resizes are coming.
func (s *ResizableSink) Next() *remotecommand.TerminalSize {
	size, ok := <-s.resizeCh
	if !ok {
		return nil
	}
	return &size
}

// Close ends the resize signal stream. Safe to call multiple times.
func (s *ResizableSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.resizeCh)
}

// Size returns the current cols/rows.
func (s *ResizableSink) Size() (cols, rows uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}
