// Package frame implements the client↔server control-frame protocol
// (spec.md §4.2). Unlike the teacher's webterm package — which frames a
// raw byte stream with a custom [type][len][payload] header because its
// transport is a plain net.Conn — this protocol rides on a real WebSocket,
// so JSON text messages already carry their own framing; only raw
// terminal bytes use binary WebSocket messages, dispatched outside this
// package by the gateway.
package frame

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client→server frame types.
const (
	TypeAuth   = "auth"
	TypeStdin  = "stdin"
	TypeResize = "resize"
	TypePing   = "ping"
)

// Server→client frame types.
const (
	TypeReady   = "ready"
	TypeAuthed  = "authed"
	TypeStarted = "started"
	TypePong    = "pong"
	TypeStatus  = "status"
	TypeError   = "error"
)

// ClientFrame is the parsed, validated shape of any client→server control
// frame. Only the fields relevant to Type are populated.
type ClientFrame struct {
	Type   string
	Ticket string // auth
	Data   string // stdin
	Cols   int    // resize
	Rows   int    // resize
}

// rawClientFrame mirrors the wire JSON shape before validation.
type rawClientFrame struct {
	Type   string `json:"type"`
	Ticket string `json:"ticket"`
	Data   string `json:"data"`
	Cols   *int   `json:"cols"`
	Rows   *int   `json:"rows"`
}

// ParseClientFrame parses and validates a text-message payload into a
// ClientFrame. Malformed JSON or a schema mismatch returns an error whose
// message is safe to surface verbatim as a server error frame — the FSM
// must not advance on error (spec.md §4.2).
func ParseClientFrame(payload []byte) (ClientFrame, error) {
	var raw rawClientFrame
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ClientFrame{}, fmt.Errorf("malformed JSON frame")
	}

	switch raw.Type {
	case TypeAuth:
		ticket := strings.TrimSpace(raw.Ticket)
		if ticket == "" {
			return ClientFrame{}, fmt.Errorf("auth frame requires non-empty ticket")
		}
		return ClientFrame{Type: TypeAuth, Ticket: ticket}, nil

	case TypeStdin:
		return ClientFrame{Type: TypeStdin, Data: raw.Data}, nil

	case TypeResize:
		if raw.Cols == nil || raw.Rows == nil {
			return ClientFrame{}, fmt.Errorf("resize frame requires cols and rows")
		}
		if *raw.Cols < 1 || *raw.Rows < 1 {
			return ClientFrame{}, fmt.Errorf("resize frame requires cols>=1 and rows>=1")
		}
		return ClientFrame{Type: TypeResize, Cols: *raw.Cols, Rows: *raw.Rows}, nil

	case TypePing:
		return ClientFrame{Type: TypePing}, nil

	default:
		return ClientFrame{}, fmt.Errorf("unknown frame type %q", raw.Type)
	}
}

// Ready encodes a {type:"ready"} server frame.
func Ready() []byte { return mustEncode(map[string]string{"type": TypeReady}) }

// Authed encodes a {type:"authed"} server frame.
func Authed() []byte { return mustEncode(map[string]string{"type": TypeAuthed}) }

// Started encodes a {type:"started"} server frame.
func Started() []byte { return mustEncode(map[string]string{"type": TypeStarted}) }

// Pong encodes a {type:"pong"} server frame.
func Pong() []byte { return mustEncode(map[string]string{"type": TypePong}) }

// Status encodes a {type:"status", status:<passthrough>} server frame.
func Status(status any) []byte {
	return mustEncode(map[string]any{"type": TypeStatus, "status": status})
}

// ErrorFrame encodes a {type:"error", message:...} server frame. Callers
// must ensure message never includes kubeconfig content (spec.md §7).
func ErrorFrame(message string) []byte {
	return mustEncode(map[string]string{"type": TypeError, "message": message})
}

func mustEncode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Only ever called with the literal maps above; a marshal failure
		// here means a programming error, not a runtime condition.
		panic(fmt.Sprintf("frame: encode failed: %v", err))
	}
	return b
}
