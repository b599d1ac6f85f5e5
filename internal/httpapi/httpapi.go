// Package httpapi implements HttpSurface (spec.md §4.6): the health probe
// and the /ws-ticket issuance endpoint. Modeled on the teacher's
// httpHandler()/healthHandler() split in pkg/bridge/server.go — one
// http.ServeMux built from small, single-purpose handleXxx methods.
package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Nixieboluo/sealos-tty-agent/internal/config"
	"github.com/Nixieboluo/sealos-tty-agent/internal/ticket"
)

const requestBodyEnvelopeMargin = 16 * 1024

// Surface serves the health probe and ticket-issuance endpoints.
type Surface struct {
	cfg    *config.Config
	store  *ticket.Store
	logger *slog.Logger
}

// New builds a Surface.
func New(cfg *config.Config, store *ticket.Store, logger *slog.Logger) *Surface {
	return &Surface{cfg: cfg, store: store, logger: logger}
}

// Handler returns the http.Handler for this surface's routes, following
// the teacher's pattern of building a fresh mux per concern.
func (s *Surface) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHealth)
	mux.HandleFunc("/ws-ticket", s.handleWsTicket)
	return withCORS(mux)
}

func (s *Surface) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": "sealos-tty-agent", "ok": true})
}

type ticketRequest struct {
	Kubeconfig string   `json:"kubeconfig"`
	Namespace  string   `json:"namespace"`
	Pod        string   `json:"pod"`
	Container  string   `json:"container,omitempty"`
	Command    []string `json:"command,omitempty"`
}

func (s *Surface) handleWsTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return
	}

	maxEnvelope := s.cfg.WsTicketMaxKubeconfigBytes + requestBodyEnvelopeMargin
	limited := http.MaxBytesReader(w, r.Body, maxEnvelope)
	body, err := io.ReadAll(limited)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Payload too large.")
		return
	}

	var req ticketRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	req.Kubeconfig = strings.TrimSpace(req.Kubeconfig)
	req.Namespace = strings.TrimSpace(req.Namespace)
	req.Pod = strings.TrimSpace(req.Pod)
	req.Container = strings.TrimSpace(req.Container)

	if req.Kubeconfig == "" || req.Namespace == "" || req.Pod == "" {
		writeError(w, http.StatusBadRequest, "kubeconfig, namespace, and pod are required.")
		return
	}
	if int64(len(req.Kubeconfig)) > s.cfg.WsTicketMaxKubeconfigBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "kubeconfig too large.")
		return
	}

	command, ok := normalizeCommand(req.Command)
	if !ok {
		writeError(w, http.StatusBadRequest, "command must be a non-empty array of non-empty strings.")
		return
	}

	target := ticket.Target{
		Namespace: req.Namespace,
		Pod:       req.Pod,
		Container: req.Container,
		Command:   command,
	}
	issuer := ticket.IssuerMeta{RemoteAddr: r.RemoteAddr, UserAgent: r.UserAgent()}

	id, expiresAt, err := s.store.Issue(req.Kubeconfig, target, issuer)
	if err != nil {
		s.logger.Error("ticket issue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"ticket":    id,
		"expiresAt": expiresAt.UnixMilli(),
	})
}

// normalizeCommand trims each entry and rejects a present-but-empty array
// or any blank entry (spec.md §4.6 "non-empty array of non-empty trimmed
// strings"). A nil/absent command is valid and returned as nil.
func normalizeCommand(command []string) ([]string, bool) {
	if command == nil {
		return nil, true
	}
	if len(command) == 0 {
		return nil, false
	}
	trimmed := make([]string, len(command))
	for i, c := range command {
		trimmed[i] = strings.TrimSpace(c)
		if trimmed[i] == "" {
			return nil, false
		}
	}
	return trimmed, true
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": message})
}

// withCORS applies the fixed CORS policy of spec.md §4.6/§6, matching the
// teacher's preference for a small hand-written wrapper over pulling in a
// CORS middleware library (no teacher file reaches for one either).
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "content-type")
		w.Header().Set("Access-Control-Max-Age", "600")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
