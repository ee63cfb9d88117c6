package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kettlevoice/widget-core/core/protocol"
	"github.com/kettlevoice/widget-core/core/transport"
)

var upgrader = websocket.Upgrader{}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestChannelDeliversFramesInArrivalOrder(t *testing.T) {
	frames := []string{
		`{"type":"ready"}`,
		`{"type":"transcript","role":"assistant","text":"Hel"}`,
		`{"type":"transcript","role":"assistant","text":"lo"}`,
		`{"type":"response_done"}`,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Keep the connection up until the client closes it.
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	var mu sync.Mutex
	var received []protocol.MessageType
	done := make(chan struct{})

	channel := NewChannel(wsURL(server), WithCallbacks(transport.Callbacks{
		OnMessage: func(msg protocol.Message) {
			mu.Lock()
			received = append(received, msg.Type)
			if len(received) == len(frames) {
				close(done)
			}
			mu.Unlock()
		},
	}))
	if err := channel.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer channel.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frames")
	}

	expected := []protocol.MessageType{protocol.TypeReady, protocol.TypeTranscript, protocol.TypeTranscript, protocol.TypeResponseDone}
	for i, messageType := range expected {
		if received[i] != messageType {
			t.Fatalf("frame %d: expected type %q, got %q", i, messageType, received[i])
		}
	}
}

func TestChannelSurfacesProtocolErrorsAndKeepsReading(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"telemetry"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ready"}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	protocolErrs := make(chan error, 1)
	ready := make(chan struct{})

	channel := NewChannel(wsURL(server), WithCallbacks(transport.Callbacks{
		OnMessage: func(msg protocol.Message) {
			if msg.Type == protocol.TypeReady {
				close(ready)
			}
		},
		OnProtocolError: func(err error) { protocolErrs <- err },
	}))
	if err := channel.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer channel.Close()

	select {
	case err := <-protocolErrs:
		var protoErr *protocol.Error
		if !errors.As(err, &protoErr) {
			t.Fatalf("expected a protocol error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for protocol error")
	}

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected channel to keep reading after a protocol error")
	}
}

func TestVoiceChannelDoesNotReconnect(t *testing.T) {
	var dials atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close() // drop immediately
	}))
	defer server.Close()

	closed := make(chan error, 1)
	channel := NewChannel(wsURL(server),
		WithKind(transport.KindVoice),
		WithReconnectDelay(10*time.Millisecond),
		WithCallbacks(transport.Callbacks{OnClosed: func(err error) { closed <- err }}),
	)
	if err := channel.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	select {
	case err := <-closed:
		var transportErr *transport.Error
		if !errors.As(err, &transportErr) {
			t.Fatalf("expected a transport error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for close notification")
	}

	if got := dials.Load(); got != 1 {
		t.Fatalf("expected a voice channel to dial exactly once, got %d dials", got)
	}
}

func TestChatChannelReconnectsExactlyOncePerDisconnect(t *testing.T) {
	var dials atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt := dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if attempt == 1 {
			conn.Close() // first connection drops immediately
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ready"}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	ready := make(chan struct{})
	channel := NewChannel(wsURL(server),
		WithKind(transport.KindChat),
		WithReconnectDelay(10*time.Millisecond),
		WithCallbacks(transport.Callbacks{OnMessage: func(msg protocol.Message) {
			if msg.Type == protocol.TypeReady {
				close(ready)
			}
		}}),
	)
	if err := channel.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer channel.Close()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the reconnected channel to deliver")
	}

	if got := dials.Load(); got != 2 {
		t.Fatalf("expected exactly one reconnect dial, got %d total dials", got)
	}
}

func TestSendFailsWhenNotConnected(t *testing.T) {
	channel := NewChannel("ws://127.0.0.1:0")

	err := channel.Send(protocol.NewStartMessage())
	var transportErr *transport.Error
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected a transport error, got %v", err)
	}
}

func TestConnectAfterCloseFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	channel := NewChannel(wsURL(server))
	if err := channel.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	err := channel.Connect(context.Background())
	var transportErr *transport.Error
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected connect on a closed channel to fail, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	var closes atomic.Int32
	channel := NewChannel(wsURL(server), WithCallbacks(transport.Callbacks{
		OnClosed: func(error) { closes.Add(1) },
	}))
	if err := channel.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	if err := channel.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	if err := channel.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if got := closes.Load(); got != 1 {
		t.Fatalf("expected OnClosed to fire exactly once, got %d", got)
	}
}
