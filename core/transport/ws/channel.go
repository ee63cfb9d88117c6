// Package ws implements the widget transport channel on top of a websocket.
// A single ordered stream carries every JSON frame in both directions.
package ws

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kettlevoice/widget-core/core/protocol"
	"github.com/kettlevoice/widget-core/core/transport"
)

const defaultReconnectDelay = 3 * time.Second

type Channel struct {
	url       string
	kind      transport.Kind
	delay     time.Duration
	dialer    *websocket.Dialer
	header    http.Header
	callbacks transport.Callbacks

	mu        sync.Mutex
	conn      *websocket.Conn
	closed    bool
	closeOnce sync.Once
}

type Option func(*Channel)

// WithKind selects the reconnect policy. Voice channels never reconnect,
// chat channels retry exactly once after a fixed delay.
func WithKind(kind transport.Kind) Option {
	return func(c *Channel) { c.kind = kind }
}

func WithReconnectDelay(delay time.Duration) Option {
	return func(c *Channel) { c.delay = delay }
}

func WithHeader(header http.Header) Option {
	return func(c *Channel) { c.header = header }
}

func WithCallbacks(callbacks transport.Callbacks) Option {
	return func(c *Channel) {
		if callbacks.OnMessage != nil {
			c.callbacks.OnMessage = callbacks.OnMessage
		}
		if callbacks.OnProtocolError != nil {
			c.callbacks.OnProtocolError = callbacks.OnProtocolError
		}
		if callbacks.OnClosed != nil {
			c.callbacks.OnClosed = callbacks.OnClosed
		}
	}
}

func NewChannel(url string, opts ...Option) *Channel {
	c := &Channel{
		url:    url,
		kind:   transport.KindVoice,
		delay:  defaultReconnectDelay,
		dialer: websocket.DefaultDialer,
		callbacks: transport.Callbacks{
			OnMessage:       func(protocol.Message) {},
			OnProtocolError: func(error) {},
			OnClosed:        func(error) {},
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect dials the endpoint and starts the read loop. It may be called once
// per channel and fails once the channel has been closed.
func (c *Channel) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return &transport.Error{Op: "connect", Err: err}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return &transport.Error{Op: "connect", Err: fmt.Errorf("channel closed")}
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(ctx, conn)
	return nil
}

func (c *Channel) Send(msg protocol.Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return &transport.Error{Op: "send", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return &transport.Error{Op: "send", Err: fmt.Errorf("channel not connected")}
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &transport.Error{Op: "send", Err: err}
	}
	return nil
}

// Close tears the connection down. Safe to call multiple times and
// concurrently with the read loop; OnClosed fires with a nil error.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()

		if conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		}

		c.callbacks.OnClosed(nil)
	})
	return nil
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			c.handleDisconnect(ctx, err)
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.callbacks.OnProtocolError(err)
			continue
		}
		c.callbacks.OnMessage(msg)
	}
}

// handleDisconnect applies the per-kind reconnect policy after an unexpected
// read failure: chat retries the dial exactly once after the configured
// delay, voice gives up immediately.
func (c *Channel) handleDisconnect(ctx context.Context, cause error) {
	if !c.kind.Reconnects() {
		c.notifyClosed(&transport.Error{Op: "receive", Err: cause})
		return
	}

	log.Printf("chat transport dropped, reconnecting in %v: %v", c.delay, cause)
	select {
	case <-ctx.Done():
		c.notifyClosed(&transport.Error{Op: "receive", Err: ctx.Err()})
		return
	case <-time.After(c.delay):
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		c.notifyClosed(&transport.Error{Op: "reconnect", Err: err})
		return
	}

	c.mu.Lock()
	closed := c.closed
	if !closed {
		c.conn = conn
	}
	c.mu.Unlock()

	if closed {
		_ = conn.Close()
		return
	}

	c.readLoop(ctx, conn)
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) notifyClosed(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.callbacks.OnClosed(err)
	})
}
