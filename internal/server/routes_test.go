package server_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestHealthEndpoint verifies the health check route.
func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Shutdown(time.Second)

	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "running") {
		t.Errorf("body = %q", body)
	}
}

// TestMetricsEndpoint verifies that the Prometheus handler is mounted.
func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Shutdown(time.Second)

	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "haven_active_connections") {
		t.Error("expected haven_active_connections in the metrics exposition")
	}
}

// TestWebSocketEndToEnd drives the protocol over a real WebSocket upgrade:
// one text frame per command, same replies as the TCP transport.
func TestWebSocketEndToEnd(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Shutdown(time.Second)

	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	readFrame := func() string {
		t.Helper()
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		return string(payload)
	}

	if got := readFrame(); got != "NO_ROOMS" {
		t.Fatalf("greeting = %q, want NO_ROOMS", got)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("CREATE_ROOM;Lobby;;0;2;A")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if got := readFrame(); got != "CREATE_SUCCESS" {
		t.Fatalf("reply = %q, want CREATE_SUCCESS", got)
	}
}

// TestWebSocketRejectsDisallowedOrigin verifies that a browser origin outside
// the allowlist is refused at the upgrade.
func TestWebSocketRejectsDisallowedOrigin(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Shutdown(time.Second)

	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		conn.Close()
		t.Fatal("expected the upgrade to be refused")
	}
	if resp != nil {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("status = %d, want 403", resp.StatusCode)
		}
	}
}
