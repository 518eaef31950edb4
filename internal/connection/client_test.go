package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// readUntilClosed keeps a server connection open until the peer leaves.
func readUntilClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:              url,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       16,
	}
}

func waitDone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for transport to close")
	}
}

func TestClient_Connect(t *testing.T) {
	server := mockWSServer(t, readUntilClosed)
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !client.IsConnected() {
		t.Error("expected IsConnected to return true")
	}
	if client.LastActivity().IsZero() {
		t.Error("LastActivity should be set on connect")
	}

	if err := client.Close(CloseNormal, "done"); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	waitDone(t, client)

	if client.IsConnected() {
		t.Error("expected IsConnected to return false after Close")
	}
	code, reason := client.CloseInfo()
	if code != CloseNormal || reason != "done" {
		t.Errorf("CloseInfo() = %d, %q; want %d, %q", code, reason, CloseNormal, "done")
	}
	if client.Err() != nil {
		t.Errorf("Err() = %v, want nil after local close", client.Err())
	}
}

func TestClient_ConnectRequiresURL(t *testing.T) {
	client := NewClient(ClientConfig{}, nil)
	if err := client.Connect(context.Background()); !errors.Is(err, ErrNoURL) {
		t.Errorf("Connect() error = %v, want ErrNoURL", err)
	}
}

func TestClient_HandshakeHeaders(t *testing.T) {
	gotKey := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey <- r.Header.Get("X-Api-Key")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		readUntilClosed(conn)
	}))
	defer server.Close()

	cfg := testClientConfig(wsURL(server))
	cfg.Header = func() (http.Header, error) {
		h := http.Header{}
		h.Set("X-Api-Key", "key-123")
		return h, nil
	}
	client := NewClient(cfg, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close(CloseNormal, "")

	if key := <-gotKey; key != "key-123" {
		t.Errorf("X-Api-Key = %q, want key-123", key)
	}
}

func TestClient_HandshakeHeaderError(t *testing.T) {
	cfg := testClientConfig("ws://127.0.0.1:1")
	cfg.Header = func() (http.Header, error) { return nil, errors.New("no key") }

	err := NewClient(cfg, nil).Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no key") {
		t.Errorf("Connect() error = %v, want header error", err)
	}
}

func TestClient_HandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := NewClient(testClientConfig(wsURL(server)), nil).Connect(context.Background())

	var he *HandshakeError
	if !errors.As(err, &he) {
		t.Fatalf("Connect() error = %v, want *HandshakeError", err)
	}
	if he.HTTPStatus() != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus() = %d, want 503", he.HTTPStatus())
	}
}

func TestClient_Send(t *testing.T) {
	received := make(chan []byte, 1)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- msg
		readUntilClosed(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close(CloseNormal, "")

	testMsg := []byte(`{"type":"subscribe","data":{"channel":"orders"}}`)
	if err := client.Send(testMsg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(testMsg) {
			t.Errorf("received %q, want %q", got, testMsg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for server to receive message")
	}
}

func TestClient_Frames(t *testing.T) {
	testMessages := []string{
		`{"type":"trade","data":1}`,
		`{"type":"trade","data":2}`,
		`{"type":"trade","data":3}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, msg := range testMessages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseNormal, "bye"))
		readUntilClosed(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close(CloseNormal, "")

	var received []string
	for {
		f, ok := client.Frames().Receive()
		if !ok {
			break
		}
		received = append(received, string(f.Data))
		if f.ReceivedAt.IsZero() {
			t.Error("ReceivedAt should not be zero")
		}
		if f.SessionID != client.SessionID() {
			t.Errorf("SessionID = %v, want %v", f.SessionID, client.SessionID())
		}
	}

	if len(received) != len(testMessages) {
		t.Fatalf("received %d frames, want %d", len(received), len(testMessages))
	}
	for i, want := range testMessages {
		if received[i] != want {
			t.Errorf("frame %d: got %q, want %q", i, received[i], want)
		}
	}

	waitDone(t, client)
	code, reason := client.CloseInfo()
	if code != CloseNormal || reason != "bye" {
		t.Errorf("CloseInfo() = %d, %q; want 1000, bye", code, reason)
	}
}

func TestClient_ServerCloseCode(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4001, "session expired"))
		readUntilClosed(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitDone(t, client)

	code, reason := client.CloseInfo()
	if code != 4001 || reason != "session expired" {
		t.Errorf("CloseInfo() = %d, %q; want 4001, session expired", code, reason)
	}
	if client.Err() != nil {
		t.Errorf("Err() = %v, want nil for clean close", client.Err())
	}
}

func TestClient_AbnormalClose(t *testing.T) {
	// Dropping the TCP connection without a close frame.
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.Close()
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitDone(t, client)

	code, _ := client.CloseInfo()
	if code != CloseAbnormal {
		t.Errorf("close code = %d, want %d", code, CloseAbnormal)
	}
	if client.Err() == nil {
		t.Error("Err() = nil, want read error for abnormal close")
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	client := NewClient(testClientConfig("ws://localhost:12345"), nil)

	if err := client.Send([]byte("test")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_DoubleClose(t *testing.T) {
	server := mockWSServer(t, readUntilClosed)
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := client.Close(CloseNormal, "first"); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := client.Close(4000, "second"); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	waitDone(t, client)

	if code, _ := client.CloseInfo(); code != CloseNormal {
		t.Errorf("close code = %d, want first code %d", code, CloseNormal)
	}
	if err := client.Connect(context.Background()); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("Connect after Close = %v, want ErrAlreadyClosed", err)
	}
}

func TestClient_CloseBeforeConnect(t *testing.T) {
	client := NewClient(testClientConfig("ws://localhost:12345"), nil)

	if err := client.Close(CloseNormal, ""); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	waitDone(t, client)
	if !client.Frames().Closed() {
		t.Error("frame queue should be closed")
	}
}

func TestClient_PingHandler(t *testing.T) {
	var mu sync.Mutex
	var pongData string

	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.SetPongHandler(func(data string) error {
			mu.Lock()
			pongData = data
			mu.Unlock()
			return nil
		})
		if err := conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), time.Now().Add(time.Second)); err != nil {
			return
		}
		readUntilClosed(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close(CloseNormal, "")

	// The server only sees the pong while it is reading.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := pongData
		mu.Unlock()
		if got == "heartbeat" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if pongData != "heartbeat" {
		t.Errorf("pong data = %q, want heartbeat", pongData)
	}
	if !client.IsConnected() {
		t.Error("expected client to be connected after ping")
	}
}
