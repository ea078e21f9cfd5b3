package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"duoplay/server/internal/logging"
	"duoplay/server/internal/protocol"
	"duoplay/server/internal/registry"

	"github.com/gorilla/websocket"
)

// dialQuietly connects and silences the automatic ping/pong machinery so the
// test controls every frame on the wire.
func dialQuietly(t *testing.T, urlStr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(urlStr, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", urlStr, err)
	}
	conn.SetPingHandler(func(string) error { return nil })
	conn.SetPongHandler(func(string) error { return nil })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg *protocol.Message) *protocol.Message {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	decoded, err := protocol.DecodeMessage(reply)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return decoded
}

func TestWebsocketEnterExitRoundTrip(t *testing.T) {
	reg := registry.New(30 * time.Second)
	coord := &fakeCoordinator{}
	h := NewHandler(Options{
		Logger:      logging.NewTestLogger(),
		Registry:    reg,
		Coordinator: coord,
		Codes:       &fakeCodes{},
	})
	server := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer server.Close()

	conn := dialQuietly(t, "ws"+strings.TrimPrefix(server.URL, "http"))
	defer conn.Close()

	entered := roundTrip(t, conn, &protocol.Message{Type: protocol.TypeEnter})
	if !entered.Success || entered.PlayerID == "" {
		t.Fatalf("reply = %+v, want successful ENTER", entered)
	}
	if reg.Size() != 1 {
		t.Fatalf("registry size = %d, want 1", reg.Size())
	}

	exited := roundTrip(t, conn, &protocol.Message{Type: protocol.TypeExit})
	if !exited.Success || exited.PlayerID != entered.PlayerID {
		t.Fatalf("reply = %+v, want EXIT ack", exited)
	}

	//1.- EXIT closes the connection from the server side.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection must be closed after EXIT")
	}
	if reg.Size() != 0 {
		t.Fatalf("registry size = %d, want 0", reg.Size())
	}
}

func TestWebsocketDropTearsDownClient(t *testing.T) {
	reg := registry.New(30 * time.Second)
	coord := &fakeCoordinator{}
	h := NewHandler(Options{
		Logger:      logging.NewTestLogger(),
		Registry:    reg,
		Coordinator: coord,
		Codes:       &fakeCodes{},
	})
	server := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer server.Close()

	conn := dialQuietly(t, "ws"+strings.TrimPrefix(server.URL, "http"))
	entered := roundTrip(t, conn, &protocol.Message{Type: protocol.TypeEnter})
	_ = conn.Close()

	//1.- The server notices the drop and removes the identity.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reg.Size() == 0 && len(coord.disconnectedIDs()) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if reg.Size() != 0 {
		t.Fatalf("registry size = %d, want 0 after drop", reg.Size())
	}
	disconnected := coord.disconnectedIDs()
	if len(disconnected) != 1 || disconnected[0] != entered.PlayerID {
		t.Fatalf("disconnected = %v, want %q", disconnected, entered.PlayerID)
	}
}
