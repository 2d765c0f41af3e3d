// Package relay implements the persistent bidirectional connection between
// the engine and the downstream consumer: newline-delimited JSON messages
// over a Unix socket. The hub listens; the consumer and the active watcher
// dial in and identify themselves with a hello message, and the hub routes
// traffic between the two roles.
package relay

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/shotrelay/shotrelay/internal/logging"
	"github.com/shotrelay/shotrelay/internal/metrics"
	"github.com/shotrelay/shotrelay/internal/protocol"
)

// Hub accepts relay connections and routes messages between roles.
type Hub struct {
	socketPath string
	listener   net.Listener

	mu    sync.Mutex
	conns map[string]*hubConn // keyed by role; one live connection per role

	done chan struct{}
}

type hubConn struct {
	conn     net.Conn
	clientID string
	role     string
	enc      *json.Encoder
	encMu    sync.Mutex
}

func (c *hubConn) send(msg protocol.Message) error {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	return c.enc.Encode(msg)
}

// NewHub creates a hub for the given socket path.
func NewHub(socketPath string) *Hub {
	return &Hub{
		socketPath: socketPath,
		conns:      make(map[string]*hubConn),
		done:       make(chan struct{}),
	}
}

// Listen binds the Unix socket, removing a stale socket file from a previous
// run.
func (h *Hub) Listen() error {
	if err := os.Remove(h.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket %s: %w", h.socketPath, err)
	}
	listener, err := net.Listen("unix", h.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.socketPath, err)
	}
	h.listener = listener
	logging.Info("relay hub listening", zap.String("socket", h.socketPath))
	return nil
}

// Serve accepts connections until Close is called.
func (h *Hub) Serve() {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			select {
			case <-h.done:
				return
			default:
				logging.Error("relay accept failed", zap.Error(err))
				continue
			}
		}
		go h.handle(conn)
	}
}

// Close stops the listener and disconnects all clients.
func (h *Hub) Close() {
	close(h.done)
	if h.listener != nil {
		h.listener.Close()
	}
	h.mu.Lock()
	for role, c := range h.conns {
		c.conn.Close()
		delete(h.conns, role)
	}
	h.mu.Unlock()
}

func (h *Hub) handle(conn net.Conn) {
	dec := json.NewDecoder(conn)

	var hello protocol.Message
	if err := dec.Decode(&hello); err != nil {
		logging.Warn("relay connection dropped before hello", zap.Error(err))
		conn.Close()
		return
	}
	if hello.Type != protocol.MsgHello {
		logging.Warn("relay connection sent non-hello first", zap.String("type", hello.Type))
		conn.Close()
		return
	}
	if err := protocol.Validate(hello); err != nil {
		logging.Warn("relay hello invalid", zap.Error(err))
		conn.Close()
		return
	}

	c := &hubConn{
		conn:     conn,
		clientID: hello.ClientID,
		role:     hello.Role,
		enc:      json.NewEncoder(conn),
	}
	h.register(c)
	logging.Info("relay client connected",
		zap.String("role", c.role),
		zap.String("clientId", c.clientID),
		zap.String("mode", hello.Mode))

	defer func() {
		h.unregister(c)
		conn.Close()
		logging.Info("relay client disconnected",
			zap.String("role", c.role),
			zap.String("clientId", c.clientID))
	}()

	for {
		var msg protocol.Message
		if err := dec.Decode(&msg); err != nil {
			return
		}
		if msg.Type == protocol.MsgPing {
			if err := c.send(protocol.Message{Type: protocol.MsgPong}); err != nil {
				return
			}
			continue
		}
		if err := protocol.Validate(msg); err != nil {
			logging.Warn("relay message invalid, dropping",
				zap.String("from", c.role), zap.Error(err))
			continue
		}
		h.route(c, msg)
	}
}

// route forwards a message to the opposite role. Messages for an absent peer
// are dropped; delivery guarantees live in the ledger, not the wire.
func (h *Hub) route(from *hubConn, msg protocol.Message) {
	var target string
	if protocol.ToConsumer(msg.Type) {
		target = protocol.RoleConsumer
	} else {
		target = protocol.RoleWatcher
	}
	if from.role == target {
		logging.Warn("relay message from unexpected role, dropping",
			zap.String("type", msg.Type), zap.String("role", from.role))
		return
	}

	h.mu.Lock()
	dest := h.conns[target]
	h.mu.Unlock()

	if dest == nil {
		logging.Debug("relay peer absent, dropping message",
			zap.String("type", msg.Type), zap.String("target", target))
		return
	}
	if err := dest.send(msg); err != nil {
		logging.Warn("relay forward failed",
			zap.String("type", msg.Type),
			zap.String("target", target),
			zap.Error(err))
	}
}

// register installs a connection for its role; a newer connection replaces
// an older one, which is closed.
func (h *Hub) register(c *hubConn) {
	h.mu.Lock()
	if old, ok := h.conns[c.role]; ok {
		old.conn.Close()
	}
	h.conns[c.role] = c
	n := h.countLocked(c.role)
	h.mu.Unlock()
	metrics.SetRelayConnections(c.role, n)
}

func (h *Hub) unregister(c *hubConn) {
	h.mu.Lock()
	// Only remove if this connection is still the registered one; a
	// replacement may have taken the slot already.
	if cur, ok := h.conns[c.role]; ok && cur == c {
		delete(h.conns, c.role)
	}
	n := h.countLocked(c.role)
	h.mu.Unlock()
	metrics.SetRelayConnections(c.role, n)
}

func (h *Hub) countLocked(role string) int {
	if _, ok := h.conns[role]; ok {
		return 1
	}
	return 0
}

// Connected reports whether a client with the given role is attached.
func (h *Hub) Connected(role string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[role]
	return ok
}
