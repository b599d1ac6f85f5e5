package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Nixieboluo/sealos-tty-agent/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandlerRoutesHealth(t *testing.T) {
	srv := New(config.Default(), testLogger())
	rec := httptest.NewRecorder()
	srv.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerRoutesWsTicket(t *testing.T) {
	srv := New(config.Default(), testLogger())
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"kubeconfig":"blob","namespace":"ns","pod":"p"}`)
	srv.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ws-ticket", body))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerRoutesMetrics(t *testing.T) {
	srv := New(config.Default(), testLogger())
	rec := httptest.NewRecorder()
	srv.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "tty_agent_live_tickets")
}

func TestHandlerRoutesExecUpgrade(t *testing.T) {
	srv := New(config.Default(), testLogger())
	testSrv := httptest.NewServer(srv.handler())
	defer testSrv.Close()

	url := "ws" + strings.TrimPrefix(testSrv.URL, "http") + "/exec"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(payload), `"type":"ready"`)
}

func TestHandlerRejectsExecPathMismatch(t *testing.T) {
	srv := New(config.Default(), testLogger())
	rec := httptest.NewRecorder()
	srv.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/exec/nested", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
