package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// newOutboundSocketPair spins up a real websocket connection (server
// accept, client dial) and wraps the server side in an OutboundSocket,
// since Send/Receive/Close only make sense against a live transport.
func newOutboundSocketPair(t *testing.T) (*OutboundSocket, *websocket.Conn, func()) {
	t.Helper()

	serverConnCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("server accept: %v", err)
			return
		}
		serverConnCh <- c
	}))

	ctx, cancel := context.WithCancel(context.Background())
	clientConn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}

	serverConn := <-serverConnCh
	sock := NewOutboundSocket(ctx, serverConn, 8)

	cleanup := func() {
		cancel()
		_ = clientConn.Close(websocket.StatusNormalClosure, "")
		srv.Close()
	}
	return sock, clientConn, cleanup
}

func TestOutboundSocket_SendDeliversOverTransport(t *testing.T) {
	sock, client, cleanup := newOutboundSocketPair(t)
	defer cleanup()

	now := time.Now()
	if err := sock.Send(OutboundMessage{Type: MsgPong, Timestamp: now}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, data, err := client.Read(ctx)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("client received an empty frame")
	}
}

func TestOutboundSocket_SendAfterCloseReturnsErrSocketClosed(t *testing.T) {
	sock, _, cleanup := newOutboundSocketPair(t)
	defer cleanup()

	sock.Close()

	if err := sock.Send(OutboundMessage{Type: MsgPong, Timestamp: time.Now()}); err != ErrSocketClosed {
		t.Fatalf("Send after Close = %v, want ErrSocketClosed", err)
	}
}

func TestOutboundSocket_Close_IsIdempotent(t *testing.T) {
	sock, _, cleanup := newOutboundSocketPair(t)
	defer cleanup()

	done := make(chan struct{})
	go func() {
		sock.Close()
		sock.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return; second call likely blocked or panicked")
	}
}

func TestOutboundSocket_Receive_DecodesInboundEnvelope(t *testing.T) {
	sock, client, cleanup := newOutboundSocketPair(t)
	defer cleanup()

	payload := []byte(`{"message":{"type":"ping"}}`)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatalf("client write: %v", err)
	}

	msg, err := sock.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if msg.Type != MsgPing {
		t.Errorf("decoded message type = %v, want %v", msg.Type, MsgPing)
	}
}
