package idebridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/coderelay/idebridge"
)

func newTestServer(t *testing.T, options ...idebridge.ServerOption) *idebridge.Server {
	t.Helper()

	srv, err := idebridge.NewServer(
		idebridge.Info{Name: "testhost", Version: "0.0.1"},
		newFakeHost().collaborators(),
		options...,
	)
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}
	return srv
}

func startTestServer(t *testing.T, options ...idebridge.ServerOption) (*idebridge.Server, idebridge.StartResult) {
	t.Helper()

	srv := newTestServer(t, options...)
	result, err := srv.Start(context.Background())
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv, result
}

func TestServerStartBothTransports(t *testing.T) {
	_, result := startTestServer(t, idebridge.WithoutDiscovery())

	if result.WSErr != nil || result.HTTPErr != nil {
		t.Fatalf("unexpected start errors: %v / %v", result.WSErr, result.HTTPErr)
	}
	if result.WSPort == 0 || result.HTTPPort == 0 {
		t.Fatalf("expected both ports bound, got %d / %d", result.WSPort, result.HTTPPort)
	}
	if result.Degraded() {
		t.Fatal("fully started server must not report degraded")
	}
}

func TestServerDegradedWhenHTTPPortBusy(t *testing.T) {
	// Occupy a port so the streaming transport cannot bind it.
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to occupy port: %v", err)
	}
	defer blocker.Close()
	busyPort := blocker.Addr().(*net.TCPAddr).Port

	_, result := startTestServer(t,
		idebridge.WithoutDiscovery(),
		idebridge.WithHTTPPort(busyPort),
	)

	if result.HTTPErr == nil {
		t.Fatal("expected http transport to fail on occupied port")
	}
	var bindErr *idebridge.BindError
	if !errors.As(result.HTTPErr, &bindErr) {
		t.Fatalf("expected *BindError, got %T: %v", result.HTTPErr, result.HTTPErr)
	}
	if bindErr.Reason != idebridge.BindReasonPortInUse {
		t.Fatalf("expected port-in-use reason, got %v", bindErr.Reason)
	}
	if !result.Degraded() {
		t.Fatal("expected degraded single-transport mode")
	}

	// The socket transport keeps serving.
	if result.WSErr != nil || result.WSPort == 0 {
		t.Fatalf("socket transport should be up: %v / %d", result.WSErr, result.WSPort)
	}
	conn := dialWS(t, result.WSPort)
	if err := conn.WriteJSON(request("1", idebridge.MethodPing, "")); err != nil {
		t.Fatalf("failed to ping over socket: %v", err)
	}
	resp := readEnvelope(t, conn)
	if string(resp.Result) != "{}" {
		t.Fatalf("unexpected ping result: %s", resp.Result)
	}
}

func TestServerDoubleStartRejected(t *testing.T) {
	srv, _ := startTestServer(t, idebridge.WithoutDiscovery())

	if _, err := srv.Start(context.Background()); err == nil {
		t.Fatal("expected second start to fail")
	}
}

func TestServerPublishesDiscoveryRecord(t *testing.T) {
	t.Setenv(idebridge.ConfigDirEnv, t.TempDir())

	srv, result := startTestServer(t,
		idebridge.WithIDEName("test-ide"),
		idebridge.WithWorkspaceFolders([]string{"/workspace"}),
	)

	dir := filepath.Join(idebridge.ResolveConfigDir(), "ide")
	path := filepath.Join(dir, fmt.Sprintf("%d.lock", result.WSPort))
	bs, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("discovery record missing: %v", err)
	}

	var rec idebridge.DiscoveryRecord
	if err := json.Unmarshal(bs, &rec); err != nil {
		t.Fatalf("failed to decode record: %v", err)
	}
	if rec.PID != os.Getpid() {
		t.Fatalf("record pid mismatch: %d", rec.PID)
	}
	if rec.IDEName != "test-ide" || rec.Transport != "ws" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(rec.WorkspaceFolders) != 1 || rec.WorkspaceFolders[0] != "/workspace" {
		t.Fatalf("unexpected folders: %v", rec.WorkspaceFolders)
	}

	// Stop removes the record.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("failed to stop server: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("record still present after stop: %v", err)
	}
}

func TestServerSetWorkspaceFoldersRewritesAndBroadcasts(t *testing.T) {
	t.Setenv(idebridge.ConfigDirEnv, t.TempDir())

	srv, result := startTestServer(t,
		idebridge.WithIDEName("test-ide"),
		idebridge.WithWorkspaceFolders([]string{"/workspace"}),
	)

	conn := dialWS(t, result.WSPort)
	waitFor(t, func() bool { return srv.ClientCount() == 1 })

	if err := srv.SetWorkspaceFolders([]string{"/workspace", "/second"}); err != nil {
		t.Fatalf("failed to set workspace folders: %v", err)
	}

	// The discovery record is rewritten in place.
	path := filepath.Join(idebridge.ResolveConfigDir(), "ide", fmt.Sprintf("%d.lock", result.WSPort))
	bs, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("discovery record missing: %v", err)
	}
	var rec idebridge.DiscoveryRecord
	if err := json.Unmarshal(bs, &rec); err != nil {
		t.Fatalf("failed to decode record: %v", err)
	}
	if len(rec.WorkspaceFolders) != 2 || rec.WorkspaceFolders[1] != "/second" {
		t.Fatalf("record not rewritten: %v", rec.WorkspaceFolders)
	}

	// Connected clients hear about the change.
	msg := readEnvelope(t, conn)
	if msg.Method != idebridge.MethodWorkspaceFoldersChanged {
		t.Fatalf("unexpected notification: %q", msg.Method)
	}
	var params map[string][]string
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		t.Fatalf("failed to decode params: %v", err)
	}
	if len(params["folders"]) != 2 {
		t.Fatalf("unexpected folders payload: %v", params)
	}
}

func TestServerBroadcastReachesBothTransports(t *testing.T) {
	srv, result := startTestServer(t, idebridge.WithoutDiscovery())

	conn := dialWS(t, result.WSPort)

	// Open one streaming session alongside the socket client.
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://127.0.0.1:%d/sse", result.HTTPPort), nil)
	if err != nil {
		t.Fatalf("failed to build stream request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	events := make(chan sse.Event, 16)
	go func() {
		defer close(events)
		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	if ev := nextEvent(t, events); ev.Type != "endpoint" {
		t.Fatalf("expected endpoint event first, got %q", ev.Type)
	}

	waitFor(t, func() bool { return srv.ClientCount() == 2 })

	if err := srv.Broadcast("diagnostics/changed", map[string]string{"uri": "file:///workspace/a.go"}); err != nil {
		t.Fatalf("failed to broadcast: %v", err)
	}

	wsMsg := readEnvelope(t, conn)
	if wsMsg.Method != "diagnostics/changed" {
		t.Fatalf("socket client got %q", wsMsg.Method)
	}

	ev := nextEvent(t, events)
	if ev.Type != "message" {
		t.Fatalf("stream client got event %q", ev.Type)
	}
	var streamMsg idebridge.JSONRPCMessage
	if err := json.Unmarshal([]byte(ev.Data), &streamMsg); err != nil {
		t.Fatalf("failed to decode streamed broadcast: %v", err)
	}
	if streamMsg.Method != "diagnostics/changed" {
		t.Fatalf("stream client got method %q", streamMsg.Method)
	}
}

func TestServerToolRegistration(t *testing.T) {
	srv := newTestServer(t, idebridge.WithoutDiscovery())

	if err := srv.RegisterSharedTools(echoTool()); err != nil {
		t.Fatalf("failed to register shared tool: %v", err)
	}
	if err := srv.RegisterIntegrationTools(socketOnlyTool()); err != nil {
		t.Fatalf("failed to register integration tool: %v", err)
	}

	result, err := srv.Start(context.Background())
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	conn := dialWS(t, result.WSPort)
	if err := conn.WriteJSON(request("1", idebridge.MethodToolsList, "")); err != nil {
		t.Fatalf("failed to request tool list: %v", err)
	}
	resp := readEnvelope(t, conn)

	var list idebridge.ListToolsResult
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		t.Fatalf("failed to decode tool list: %v", err)
	}
	if len(list.Tools) != 2 || list.Tools[0].Name != "echo" || list.Tools[1].Name != "socket_only" {
		t.Fatalf("unexpected socket tool list: %+v", list.Tools)
	}
}
