package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shotrelay/shotrelay/internal/logging"
	"github.com/shotrelay/shotrelay/internal/protocol"
)

// ErrNotConnected is returned by Send while the client is between
// connections.
var ErrNotConnected = errors.New("relay: not connected")

const (
	reconnectInitial = time.Second
	reconnectMax     = 30 * time.Second
)

// Client maintains a connection to the relay hub, reconnecting with
// exponential backoff when the hub goes away. Incoming messages are
// delivered on Inbox.
type Client struct {
	socketPath string
	role       string
	mode       string

	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder

	inbox chan protocol.Message
}

// NewClient creates a client that will identify itself with the given role
// and sync mode.
func NewClient(socketPath, role, mode string) *Client {
	return &Client{
		socketPath: socketPath,
		role:       role,
		mode:       mode,
		inbox:      make(chan protocol.Message, 16),
	}
}

// Inbox carries messages routed to this client. It is closed when Run
// returns.
func (c *Client) Inbox() <-chan protocol.Message { return c.inbox }

// Run connects to the hub and keeps the connection alive until ctx is
// cancelled. Each drop is followed by a reconnect with backoff growing from
// one second to thirty.
func (c *Client) Run(ctx context.Context) {
	defer close(c.inbox)

	wait := reconnectInitial
	for {
		if err := c.connect(); err != nil {
			logging.Warn("relay connect failed, retrying",
				zap.String("role", c.role),
				zap.Duration("wait", wait),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			wait *= 2
			if wait > reconnectMax {
				wait = reconnectMax
			}
			continue
		}
		wait = reconnectInitial

		c.receive(ctx)
		c.disconnect()

		select {
		case <-ctx.Done():
			return
		default:
			logging.Info("relay connection lost, reconnecting",
				zap.String("role", c.role))
		}
	}
}

// Send encodes a message to the hub. Concurrent senders are serialized on
// the shared encoder.
func (c *Client) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc == nil {
		return ErrNotConnected
	}
	if err := c.enc.Encode(msg); err != nil {
		return fmt.Errorf("relay send %s: %w", msg.Type, err)
	}
	return nil
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close drops the current connection, unblocking the receive loop.
func (c *Client) Close() {
	c.disconnect()
}

func (c *Client) connect() error {
	conn, err := net.DialTimeout("unix", c.socketPath, 5*time.Second)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(conn)
	if err := enc.Encode(protocol.NewHello(c.role, c.mode)); err != nil {
		conn.Close()
		return fmt.Errorf("relay hello: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.enc = enc
	c.mu.Unlock()

	logging.Info("relay connected",
		zap.String("role", c.role),
		zap.String("socket", c.socketPath))
	return nil
}

func (c *Client) disconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.enc = nil
	}
	c.mu.Unlock()
}

// receive decodes messages until the connection drops or ctx is cancelled.
func (c *Client) receive(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	// Unblock the decoder when the context is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	dec := json.NewDecoder(conn)
	for {
		var msg protocol.Message
		if err := dec.Decode(&msg); err != nil {
			return
		}
		if msg.Type == protocol.MsgPong {
			continue
		}
		select {
		case c.inbox <- msg:
		case <-ctx.Done():
			return
		}
	}
}
