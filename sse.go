package idebridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

const (
	streamPath     = "/sse"
	messagePath    = "/messages"
	combinedPath   = "/mcp"
	sessionIDParam = "session_id"

	defaultHeartbeatInterval = 30 * time.Second
)

// SSETransport is the streaming-HTTP transport. A GET on /sse or /mcp opens a
// session: the client receives an "endpoint" event naming the POST submission
// path annotated with its session id, then "message" events carry routed
// replies and broadcasts, and "ping" events keep idle-connection reapers
// away. A POST on /messages or /mcp submits one envelope or an array of them
// against an open session.
//
// The transport exclusively owns its session table. Sessions are removed the
// moment their stream tears down; stale ids are rejected (410), never queued.
type SSETransport struct {
	logger   *slog.Logger
	dispatch Dispatcher

	port      int
	heartbeat time.Duration

	// onDisconnect tells the orchestrator a streaming client went away.
	onDisconnect func(sessionID string)

	srv       *http.Server
	boundPort int

	// eventID is the advisory id attached to "message" events. Monotonic
	// across all sessions; purely informational for clients.
	eventID atomic.Int64

	mu       sync.Mutex
	sessions map[string]*streamSession
	// closedIDs distinguishes a session that once existed (410) from one
	// that never did (404).
	closedIDs map[string]struct{}
	closed    bool
}

type streamSession struct {
	id   string
	sess *sse.Session

	// writeMu serializes Send+Flush pairs; replies, broadcasts and
	// heartbeats arrive from different goroutines.
	writeMu sync.Mutex

	done chan struct{}
}

// NewSSETransport creates the transport bound to the caller-supplied loopback
// port (0 picks an ephemeral one). A zero heartbeat selects the default 30s.
// onDisconnect may be nil.
func NewSSETransport(
	port int,
	heartbeat time.Duration,
	dispatch Dispatcher,
	onDisconnect func(sessionID string),
	logger *slog.Logger,
) *SSETransport {
	if logger == nil {
		logger = slog.Default()
	}
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	return &SSETransport{
		logger:       logger.With(slog.String("component", "sse")),
		dispatch:     dispatch,
		port:         port,
		heartbeat:    heartbeat,
		onDisconnect: onDisconnect,
		sessions:     make(map[string]*streamSession),
		closedIDs:    make(map[string]struct{}),
	}
}

// Start binds the loopback listener and begins serving. Bind failures come
// back as *BindError; the caller decides whether to keep running degraded.
func (t *SSETransport) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", t.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return classifyBindError("http", addr, err)
	}
	t.boundPort = ln.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+streamPath, t.handleStream)
	mux.HandleFunc("GET "+combinedPath, t.handleStream)
	mux.HandleFunc("POST "+messagePath, t.handleMessage)
	mux.HandleFunc("POST "+combinedPath, t.handleMessage)
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.srv = &http.Server{Handler: withCORS(mux)}
	go func() {
		if err := t.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("http serve loop exited", slog.String("err", err.Error()))
		}
	}()

	t.logger.Info("http transport listening", slog.Int("port", t.boundPort))
	return nil
}

// Port returns the bound port. Valid after a successful Start.
func (t *SSETransport) Port() int { return t.boundPort }

// SessionCount returns the number of open streaming sessions.
func (t *SSETransport) SessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		next.ServeHTTP(w, r)
	})
}

func (t *SSETransport) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		t.logger.Error("failed to upgrade session", slog.String("err", err.Error()))
		http.Error(w, "failed to upgrade session", http.StatusInternalServerError)
		return
	}

	s := &streamSession{
		id:   uuid.New().String(),
		sess: sess,
		done: make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.sessions[s.id] = s
	t.mu.Unlock()

	// The endpoint event tells the client where to POST, tied to this
	// session. Registration happens first so a submission racing the flush
	// is never turned away.
	endpoint := &sse.Message{Type: sse.Type("endpoint")}
	endpoint.AppendData(fmt.Sprintf("%s?%s=%s", messagePath, sessionIDParam, s.id))
	if err := sess.Send(endpoint); err != nil {
		t.logger.Error("failed to write endpoint event", slog.String("err", err.Error()))
		t.teardown(s)
		return
	}
	if err := sess.Flush(); err != nil {
		t.logger.Error("failed to flush endpoint event", slog.String("err", err.Error()))
		t.teardown(s)
		return
	}

	t.logger.Debug("session opened", slog.String("session", s.id))

	hb := time.NewTicker(t.heartbeat)
	defer hb.Stop()

	for {
		select {
		case <-r.Context().Done():
			t.teardown(s)
			return
		case <-s.done:
			// Transport is stopping; teardown already ran.
			return
		case <-hb.C:
			ping := &sse.Message{Type: sse.Type("ping")}
			ping.AppendData(time.Now().UTC().Format(time.RFC3339))
			s.deliver(ping)
		}
	}
}

// teardown moves a session to CLOSED exactly once: out of the table, into
// the tombstone set, heartbeat stopped via done, orchestrator notified.
func (t *SSETransport) teardown(s *streamSession) {
	t.mu.Lock()
	if _, ok := t.sessions[s.id]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.sessions, s.id)
	t.closedIDs[s.id] = struct{}{}
	t.mu.Unlock()

	close(s.done)
	t.logger.Debug("session closed", slog.String("session", s.id))
	if t.onDisconnect != nil {
		t.onDisconnect(s.id)
	}
}

func (t *SSETransport) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessID := r.URL.Query().Get(sessionIDParam)
	if sessID == "" {
		http.Error(w, "missing "+sessionIDParam+" query parameter", http.StatusBadRequest)
		return
	}

	t.mu.Lock()
	s, open := t.sessions[sessID]
	_, wasOpen := t.closedIDs[sessID]
	t.mu.Unlock()

	if !open {
		if wasOpen {
			http.Error(w, "session closed", http.StatusGone)
		} else {
			http.Error(w, "session not found", http.StatusNotFound)
		}
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	envelopes, err := decodeEnvelopes(body)
	if err != nil {
		t.logger.Warn("failed to decode submission", slog.String("err", err.Error()))
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}

	for _, msg := range envelopes {
		switch {
		case msg.IsRequest():
			// The reply is delivered asynchronously on the session's stream,
			// never in the POST response. A session closed in the meantime
			// swallows the delivery.
			reply := func(resp JSONRPCMessage) {
				t.sendMessageEvent(s, resp)
			}
			go t.dispatch.Dispatch(context.Background(), SourceStream, msg, reply)
		case msg.IsNotification():
			// Fire-and-forget: processed, no stream event for it.
			go t.dispatch.Dispatch(context.Background(), SourceStream, msg, func(JSONRPCMessage) {})
		default:
			// Response envelopes from clients are not routed.
		}
	}

	// The submission channel always answers empty 202; results ride the
	// stream.
	w.WriteHeader(http.StatusAccepted)
}

// decodeEnvelopes parses a POST body holding either one JSON-RPC envelope or
// an array of them.
func decodeEnvelopes(body []byte) ([]JSONRPCMessage, error) {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			var msgs []JSONRPCMessage
			if err := json.Unmarshal(body, &msgs); err != nil {
				return nil, err
			}
			return msgs, nil
		default:
			var msg JSONRPCMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				return nil, err
			}
			return []JSONRPCMessage{msg}, nil
		}
	}
	return nil, errors.New("empty body")
}

func (t *SSETransport) sendMessageEvent(s *streamSession, msg JSONRPCMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		t.logger.Error("failed to marshal message", slog.String("err", err.Error()))
		return
	}

	ev := &sse.Message{
		Type: sse.Type("message"),
		ID:   sse.ID(strconv.FormatInt(t.eventID.Add(1), 10)),
	}
	ev.AppendData(string(data))

	if !s.deliver(ev) {
		t.logger.Debug("delivery to closed session swallowed", slog.String("session", s.id))
	}
}

// deliver writes one event to the stream. Returns false without error when
// the session is already closed.
func (s *streamSession) deliver(msg *sse.Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.sess.Send(msg); err != nil {
		return false
	}
	return s.sess.Flush() == nil
}

// Broadcast delivers one notification to every open session as a "message"
// event with a freshly incremented advisory id. Best-effort, at-most-once.
func (t *SSETransport) Broadcast(msg JSONRPCMessage) {
	t.mu.Lock()
	sessions := make([]*streamSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	for _, s := range sessions {
		t.sendMessageEvent(s, msg)
	}
}

// Stop tears down every session and closes the listener.
func (t *SSETransport) Stop(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	sessions := make([]*streamSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	for _, s := range sessions {
		t.teardown(s)
	}

	if t.srv == nil {
		return nil
	}
	if err := t.srv.Shutdown(ctx); err != nil {
		return t.srv.Close()
	}
	return nil
}
