package idebridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketTransport accepts long-lived duplex connections on a loopback-only
// OS-assigned port. One connection per client; the socket itself is the
// session, so no session table is needed. The transport owns its connection
// set; lifetime of an entry is exactly connect to close.
type WebSocketTransport struct {
	logger   *slog.Logger
	dispatch Dispatcher
	upgrader websocket.Upgrader

	srv  *http.Server
	port int

	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	closed bool
}

type wsConn struct {
	conn *websocket.Conn

	// writeMu serializes frame writes; replies, broadcasts and control
	// frames come from different goroutines.
	writeMu sync.Mutex
}

// NewWebSocketTransport creates the transport. Start must be called before
// any connection can arrive.
func NewWebSocketTransport(dispatch Dispatcher, logger *slog.Logger) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketTransport{
		logger:   logger.With(slog.String("component", "ws")),
		dispatch: dispatch,
		upgrader: websocket.Upgrader{
			// The listener is loopback-only; the browser origin carries no
			// meaning for local agent clients.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*wsConn]struct{}),
	}
}

// Start binds the loopback listener on an ephemeral port and begins accepting
// connections. Bind failures come back as *BindError.
func (t *WebSocketTransport) Start() error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return classifyBindError("ws", "127.0.0.1:0", err)
	}
	t.port = ln.Addr().(*net.TCPAddr).Port

	t.srv = &http.Server{Handler: http.HandlerFunc(t.handleUpgrade)}
	go func() {
		if err := t.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("ws serve loop exited", slog.String("err", err.Error()))
		}
	}()

	t.logger.Info("ws transport listening", slog.Int("port", t.port))
	return nil
}

// Port returns the bound port. Valid after a successful Start.
func (t *WebSocketTransport) Port() int { return t.port }

// ConnectionCount returns the number of currently connected clients.
func (t *WebSocketTransport) ConnectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *WebSocketTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("failed to upgrade connection", slog.String("err", err.Error()))
		return
	}

	c := &wsConn{conn: conn}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conns[c] = struct{}{}
	t.mu.Unlock()

	t.logger.Debug("client connected", slog.String("remote", conn.RemoteAddr().String()))
	go t.readLoop(c)
}

func (t *WebSocketTransport) readLoop(c *wsConn) {
	defer func() {
		t.mu.Lock()
		delete(t.conns, c)
		t.mu.Unlock()
		c.conn.Close()
		t.logger.Debug("client disconnected")
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		// One JSON document per frame; the framing is message-oriented so no
		// re-assembly happens here.
		var msg JSONRPCMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// No reply is possible without a valid id, so a malformed frame
			// is dropped rather than answered. The connection stays open.
			t.logger.Debug("dropping malformed frame", slog.String("err", err.Error()))
			continue
		}

		// The reply closure is bound to this specific connection. If the
		// connection closes before the handler finishes, the write is
		// swallowed, not retried or queued.
		reply := func(resp JSONRPCMessage) {
			t.write(c, resp)
		}
		go t.dispatch.Dispatch(context.Background(), SourceSocket, msg, reply)
	}
}

func (t *WebSocketTransport) write(c *wsConn, msg JSONRPCMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		t.logger.Error("failed to marshal message", slog.String("err", err.Error()))
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.logger.Debug("write to closed connection swallowed", slog.String("err", err.Error()))
	}
}

// Broadcast writes the encoded notification to every connected client.
// Best-effort: a client that disconnects mid-iteration simply misses it.
func (t *WebSocketTransport) Broadcast(msg JSONRPCMessage) {
	t.mu.Lock()
	conns := make([]*wsConn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		t.write(c, msg)
	}
}

// Stop closes every connection and the listener. Safe to call once.
func (t *WebSocketTransport) Stop(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	conns := make([]*wsConn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[*wsConn]struct{})
	t.mu.Unlock()

	for _, c := range conns {
		c.conn.Close()
	}

	if t.srv == nil {
		return nil
	}
	if err := t.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return t.srv.Close()
	}
	return nil
}
