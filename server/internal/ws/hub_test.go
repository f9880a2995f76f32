package ws_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fhirlite/fhirlite/server/internal/record"
	wsHub "github.com/fhirlite/fhirlite/server/internal/ws"
)

// --- helpers ----------------------------------------------------------------

func entry(action, id string) record.AuditEntry {
	return record.NewAuditEntry(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), action, record.ResourcePatient, id)
}

// startHub starts a test HTTP server with the hub as its handler.
// The hub's Run loop is started with a cancellable context.
func startHub(t *testing.T, backlog int) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(backlog)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(hub)
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage reads one message from conn with a short deadline.
func readMessage(t *testing.T, conn *websocket.Conn) wsHub.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m wsHub.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return m
}

// waitForClients polls until hub has n clients.
func waitForClients(t *testing.T, hub *wsHub.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Count: got %d, want %d", hub.Count(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- tests ------------------------------------------------------------------

func TestHub_PublishReachesClient(t *testing.T) {
	wsURL, hub, _ := startHub(t, 0)
	conn := dial(t, wsURL)
	waitForClients(t, hub, 1)

	hub.Publish(entry("CREATE", "p-1"))

	m := readMessage(t, conn)
	if m.Event != "audit" {
		t.Errorf("event: got %q, want audit", m.Event)
	}
	if m.Data.Action != "CREATE" || m.Data.ResourceID != "p-1" || m.Data.Resource != "Patient" {
		t.Errorf("data: got %+v", m.Data)
	}
}

func TestHub_AllClientsReceiveBroadcast(t *testing.T) {
	wsURL, hub, _ := startHub(t, 0)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, wsURL)
	}
	waitForClients(t, hub, 3)

	hub.Publish(entry("DELETE", "p-9"))

	for i, conn := range conns {
		if m := readMessage(t, conn); m.Data.Action != "DELETE" {
			t.Errorf("client %d: action got %q, want DELETE", i, m.Data.Action)
		}
	}
}

func TestHub_EntriesArriveInOrder(t *testing.T) {
	wsURL, hub, _ := startHub(t, 0)
	conn := dial(t, wsURL)
	waitForClients(t, hub, 1)

	for i := 0; i < 5; i++ {
		hub.Publish(entry("PATCH", fmt.Sprintf("p-%d", i)))
	}
	for i := 0; i < 5; i++ {
		if m := readMessage(t, conn); m.Data.ResourceID != fmt.Sprintf("p-%d", i) {
			t.Errorf("message %d: got %q", i, m.Data.ResourceID)
		}
	}
}

func TestHub_NewClientReceivesBacklog(t *testing.T) {
	wsURL, hub, _ := startHub(t, 2)
	first := dial(t, wsURL)
	waitForClients(t, hub, 1)

	for _, id := range []string{"a", "b", "c"} {
		hub.Publish(entry("CREATE", id))
	}
	for i := 0; i < 3; i++ {
		readMessage(t, first)
	}

	late := dial(t, wsURL)
	if m := readMessage(t, late); m.Data.ResourceID != "b" {
		t.Errorf("backlog[0]: got %q, want b", m.Data.ResourceID)
	}
	if m := readMessage(t, late); m.Data.ResourceID != "c" {
		t.Errorf("backlog[1]: got %q, want c", m.Data.ResourceID)
	}
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t, 0)

	conn := dial(t, wsURL)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, 0)

	dial(t, wsURL)
	waitForClients(t, hub, 1)

	cancel()
	waitForClients(t, hub, 0)
}

func TestHub_PublishWithoutRunDoesNotBlock(t *testing.T) {
	hub := wsHub.New(0)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(entry("CREATE", "x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with no Run loop")
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	srv := httptest.NewServer(wsHub.New(0))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
