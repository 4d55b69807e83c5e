package idebridge_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/coderelay/idebridge"
)

// fakeHost implements every collaborator interface in memory.
type fakeHost struct {
	mu      sync.Mutex
	files   map[string]string
	folders []string
	active  *idebridge.Document
	open    []idebridge.Document
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		files:   make(map[string]string),
		folders: []string{"/workspace"},
	}
}

func (h *fakeHost) collaborators() idebridge.Collaborators {
	return idebridge.Collaborators{Files: h, Workspace: h, Paths: h}
}

func (h *fakeHost) Resolve(path string) (string, error) {
	if path == "" || strings.Contains(path, "..") {
		return "", fmt.Errorf("invalid path %q", path)
	}
	return path, nil
}

func (h *fakeHost) ReadFile(_ context.Context, path string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	content, ok := h.files[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return content, nil
}

func (h *fakeHost) WriteFile(_ context.Context, path, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[path] = content
	return nil
}

func (h *fakeHost) ListFiles(context.Context, string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	paths := make([]string, 0, len(h.files))
	for p := range h.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (h *fakeHost) Folders(context.Context) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.folders
}

func (h *fakeHost) ActiveDocument(context.Context) (idebridge.Document, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		return idebridge.Document{}, false
	}
	return *h.active, true
}

func (h *fakeHost) OpenDocuments(context.Context) []idebridge.Document {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

func echoTool() idebridge.RegisteredTool {
	return idebridge.RegisteredTool{
		Definition: idebridge.ToolDefinition{
			Name:        "echo",
			Description: "Echoes back the input",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}}}`),
		},
		Implementation: idebridge.ToolImplementation{
			Name: "echo",
			Handler: func(_ context.Context, args []byte) (idebridge.CallToolResult, error) {
				var p struct {
					Message string `json:"message"`
				}
				if err := json.Unmarshal(args, &p); err != nil {
					return idebridge.CallToolResult{}, err
				}
				return idebridge.CallToolResult{Content: idebridge.TextContent(p.Message)}, nil
			},
		},
	}
}

func socketOnlyTool() idebridge.RegisteredTool {
	return idebridge.RegisteredTool{
		Definition: idebridge.ToolDefinition{
			Name:        "socket_only",
			Description: "Available on the persistent socket only",
			Category:    "integration",
		},
		Implementation: idebridge.ToolImplementation{
			Name: "socket_only",
			Handler: func(context.Context, []byte) (idebridge.CallToolResult, error) {
				return idebridge.CallToolResult{Content: idebridge.TextContent("ok")}, nil
			},
		},
	}
}

// newTestRouter builds a router with an echo tool on both registries and a
// socket-only integration tool.
func newTestRouter(t *testing.T, host *fakeHost, interceptor idebridge.MethodInterceptor) *idebridge.Router {
	t.Helper()

	socketTools := idebridge.NewToolRegistry(nil)
	streamTools := idebridge.NewToolRegistry(nil)

	echo := echoTool()
	if err := socketTools.Register(echo.Definition, echo.Implementation); err != nil {
		t.Fatalf("failed to register echo on socket registry: %v", err)
	}
	if err := streamTools.Register(echo.Definition, echo.Implementation); err != nil {
		t.Fatalf("failed to register echo on stream registry: %v", err)
	}
	so := socketOnlyTool()
	if err := socketTools.Register(so.Definition, so.Implementation); err != nil {
		t.Fatalf("failed to register socket_only: %v", err)
	}

	router, err := idebridge.NewRouter(
		idebridge.Info{Name: "testhost", Version: "0.0.1"},
		host.collaborators(),
		socketTools, streamTools,
		interceptor,
		nil,
	)
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}
	return router
}

// dispatchSync collects every reply the router produces for one envelope.
func dispatchSync(
	t *testing.T,
	router *idebridge.Router,
	source idebridge.Source,
	msg idebridge.JSONRPCMessage,
) []idebridge.JSONRPCMessage {
	t.Helper()
	var replies []idebridge.JSONRPCMessage
	router.Dispatch(context.Background(), source, msg, func(m idebridge.JSONRPCMessage) {
		replies = append(replies, m)
	})
	return replies
}

func request(id, method string, params string) idebridge.JSONRPCMessage {
	msg := idebridge.JSONRPCMessage{
		JSONRPC: idebridge.JSONRPCVersion,
		ID:      idebridge.MustString(id),
		Method:  method,
	}
	if params != "" {
		msg.Params = json.RawMessage(params)
	}
	return msg
}
