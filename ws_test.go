package idebridge_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coderelay/idebridge"
)

func startWSTransport(t *testing.T) *idebridge.WebSocketTransport {
	t.Helper()

	router := newTestRouter(t, newFakeHost(), nil)
	ws := idebridge.NewWebSocketTransport(router, nil)
	if err := ws.Start(); err != nil {
		t.Fatalf("failed to start ws transport: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ws.Stop(ctx)
	})
	return ws
}

func dialWS(t *testing.T, port int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d", port), nil)
	if err != nil {
		t.Fatalf("failed to dial ws transport: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) idebridge.JSONRPCMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg idebridge.JSONRPCMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read envelope: %v", err)
	}
	return msg
}

func TestWSTransportBindsLoopbackEphemeral(t *testing.T) {
	ws := startWSTransport(t)
	if ws.Port() == 0 {
		t.Fatal("expected an OS-assigned port after start")
	}
}

func TestWSTransportRequestResponse(t *testing.T) {
	ws := startWSTransport(t)
	conn := dialWS(t, ws.Port())

	req := request("init-1", idebridge.MethodInitialize, "{}")
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("failed to send initialize: %v", err)
	}

	resp := readEnvelope(t, conn)
	if resp.ID != "init-1" {
		t.Fatalf("response id mismatch: %q", resp.ID)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	var result idebridge.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal initialize result: %v", err)
	}
	if result.ServerInfo.Name != "testhost" {
		t.Fatalf("unexpected server info: %+v", result.ServerInfo)
	}
}

func TestWSTransportMalformedFrameDropped(t *testing.T) {
	ws := startWSTransport(t)
	conn := dialWS(t, ws.Port())

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("failed to send malformed frame: %v", err)
	}

	// The malformed frame must produce no reply and the connection must stay
	// usable: the next valid request is answered normally.
	if err := conn.WriteJSON(request("after", idebridge.MethodPing, "")); err != nil {
		t.Fatalf("failed to send follow-up request: %v", err)
	}

	resp := readEnvelope(t, conn)
	if resp.ID != "after" {
		t.Fatalf("expected reply to the follow-up request, got id %q", resp.ID)
	}
	if string(resp.Result) != "{}" {
		t.Fatalf("unexpected ping result: %s", resp.Result)
	}
}

func TestWSTransportBroadcast(t *testing.T) {
	ws := startWSTransport(t)

	first := dialWS(t, ws.Port())
	second := dialWS(t, ws.Port())
	waitFor(t, func() bool { return ws.ConnectionCount() == 2 })

	note, err := idebridge.NewNotification(idebridge.MethodWorkspaceFoldersChanged,
		map[string][]string{"folders": {"/workspace"}})
	if err != nil {
		t.Fatalf("failed to build notification: %v", err)
	}
	ws.Broadcast(note)

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readEnvelope(t, conn)
		if msg.Method != idebridge.MethodWorkspaceFoldersChanged {
			t.Fatalf("unexpected broadcast method: %q", msg.Method)
		}
		if msg.ID != "" {
			t.Fatalf("broadcast must be a notification, got id %q", msg.ID)
		}
	}

	// A client connecting after the broadcast receives nothing; broadcasts
	// are not replayed.
	late := dialWS(t, ws.Port())
	late.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var msg idebridge.JSONRPCMessage
	if err := late.ReadJSON(&msg); err == nil {
		t.Fatalf("late client unexpectedly received %+v", msg)
	}
}

func TestWSTransportStopClosesConnections(t *testing.T) {
	router := newTestRouter(t, newFakeHost(), nil)
	ws := idebridge.NewWebSocketTransport(router, nil)
	if err := ws.Start(); err != nil {
		t.Fatalf("failed to start ws transport: %v", err)
	}

	conn := dialWS(t, ws.Port())
	waitFor(t, func() bool { return ws.ConnectionCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.Stop(ctx); err != nil {
		t.Fatalf("failed to stop transport: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg idebridge.JSONRPCMessage
	if err := conn.ReadJSON(&msg); err == nil {
		t.Fatal("expected read from closed transport to fail")
	}
	if ws.ConnectionCount() != 0 {
		t.Fatalf("expected empty connection set, got %d", ws.ConnectionCount())
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
