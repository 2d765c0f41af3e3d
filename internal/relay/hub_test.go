package relay

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/shotrelay/shotrelay/internal/protocol"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "relay.sock")
	h := NewHub(sock)
	if err := h.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go h.Serve()
	t.Cleanup(h.Close)
	return h
}

func startClient(t *testing.T, h *Hub, role, mode string) (*Client, context.CancelFunc) {
	t.Helper()
	c := NewClient(h.socketPath, role, mode)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !c.Connected() {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("%s client never connected", role)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Cleanup(cancel)
	return c, cancel
}

func recvMsg(t *testing.T, c *Client, want string) protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Inbox():
		if !ok {
			t.Fatalf("inbox closed while waiting for %s", want)
		}
		if msg.Type != want {
			t.Fatalf("received %s, want %s", msg.Type, want)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
	return protocol.Message{}
}

func TestHubRoutesBetweenRoles(t *testing.T) {
	h := startHub(t)
	watcher, _ := startClient(t, h, protocol.RoleWatcher, "local")
	consumer, _ := startClient(t, h, protocol.RoleConsumer, "")

	// Hub needs a moment to register both hellos.
	waitConnected(t, h, protocol.RoleWatcher)
	waitConnected(t, h, protocol.RoleConsumer)

	shot := protocol.NewScreenshot([]byte("pixels"), "shot1.jpg", "file-1")
	if err := watcher.Send(shot); err != nil {
		t.Fatalf("watcher send: %v", err)
	}
	got := recvMsg(t, consumer, protocol.MsgScreenshot)
	if got.Filename != "shot1.jpg" || got.FileRef != "file-1" {
		t.Errorf("screenshot fields lost in transit: %+v", got)
	}

	ack := protocol.Message{Type: protocol.MsgScreenshotReceived, FileRef: "file-1"}
	if err := consumer.Send(ack); err != nil {
		t.Fatalf("consumer send: %v", err)
	}
	back := recvMsg(t, watcher, protocol.MsgScreenshotReceived)
	if back.FileRef != "file-1" {
		t.Errorf("ack fileRef = %q", back.FileRef)
	}
}

func TestHubDropsMessageForAbsentPeer(t *testing.T) {
	h := startHub(t)
	watcher, _ := startClient(t, h, protocol.RoleWatcher, "smb")
	waitConnected(t, h, protocol.RoleWatcher)

	// No consumer attached; the send must not error or wedge the watcher.
	if err := watcher.Send(protocol.NewFileSkipped("clip1.mp4", protocol.SkipReasonVideo)); err != nil {
		t.Fatalf("send with absent peer: %v", err)
	}

	// The watcher connection stays usable afterwards.
	consumer, _ := startClient(t, h, protocol.RoleConsumer, "")
	waitConnected(t, h, protocol.RoleConsumer)
	if err := watcher.Send(protocol.NewFileSkipped("clip2.mp4", protocol.SkipReasonVideo)); err != nil {
		t.Fatalf("send after peer attach: %v", err)
	}
	recvMsg(t, consumer, protocol.MsgFileSkipped)
}

func TestHubNewerConnectionReplacesOlder(t *testing.T) {
	h := startHub(t)

	// Raw first connection so it cannot dial back in once displaced.
	oldConn, err := net.Dial("unix", h.socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer oldConn.Close()
	if err := json.NewEncoder(oldConn).Encode(protocol.NewHello(protocol.RoleWatcher, "s3")); err != nil {
		t.Fatalf("hello: %v", err)
	}
	waitConnected(t, h, protocol.RoleWatcher)

	replacement, _ := startClient(t, h, protocol.RoleWatcher, "local")

	// Registration of the replacement closes the displaced connection; wait
	// for that before routing traffic.
	oldConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var discard protocol.Message
	if err := json.NewDecoder(oldConn).Decode(&discard); err == nil {
		t.Fatal("displaced connection unexpectedly received traffic")
	}

	consumer, _ := startClient(t, h, protocol.RoleConsumer, "")
	waitConnected(t, h, protocol.RoleConsumer)

	// Routed traffic must land on the replacement connection.
	if err := consumer.Send(protocol.Message{Type: protocol.MsgManualSync}); err != nil {
		t.Fatalf("consumer send: %v", err)
	}
	recvMsg(t, replacement, protocol.MsgManualSync)
}

func TestHubWatcherReconnects(t *testing.T) {
	h := startHub(t)
	watcher, _ := startClient(t, h, protocol.RoleWatcher, "local")
	waitConnected(t, h, protocol.RoleWatcher)

	// Simulate a hub-side drop; the client must dial back in on its own.
	h.mu.Lock()
	h.conns[protocol.RoleWatcher].conn.Close()
	h.mu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if h.Connected(protocol.RoleWatcher) && watcher.Connected() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher did not reconnect")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func waitConnected(t *testing.T, h *Hub, role string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !h.Connected(role) {
		if time.Now().After(deadline) {
			t.Fatalf("hub never registered %s", role)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
