package idebridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Source tags which transport an envelope arrived on. It selects the tool
// registry instance serving tools/list and tools/call for that envelope.
type Source int

const (
	// SourceSocket marks envelopes from the persistent-socket transport.
	SourceSocket Source = iota
	// SourceStream marks envelopes from the streaming-HTTP transport.
	SourceStream
)

func (s Source) String() string {
	switch s {
	case SourceSocket:
		return "socket"
	case SourceStream:
		return "stream"
	default:
		return "unknown"
	}
}

// ReplyFunc delivers one response envelope back to the originating client.
// Each transport supplies its own implementation: one closes over a socket
// connection, one over a session-keyed stream. Implementations swallow
// delivery failures against closed connections.
type ReplyFunc func(msg JSONRPCMessage)

// Dispatcher is the routing entry point the transports hand decoded
// envelopes to. Router is the production implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, source Source, msg JSONRPCMessage, reply ReplyFunc)
}

// MethodInterceptor is a pluggable integration-specific sub-handler consulted
// before any other routing. It serves fire-and-forget methods such as
// connection announcements or initialization acknowledgements. Handle returns
// true when it fully handled the envelope, which stops further dispatch.
type MethodInterceptor interface {
	Handle(ctx context.Context, source Source, msg JSONRPCMessage) bool
}

type routeFunc func(ctx context.Context, source Source, msg JSONRPCMessage) (json.RawMessage, *JSONRPCError)

// Router decodes method names into handlers. Protocol-level methods are
// resolved from a fixed table validated exhaustively at construction; tool
// invocation is delegated to the source-appropriate registry; legacy
// convenience methods go straight to the host collaborators.
type Router struct {
	logger *slog.Logger

	info        Info
	host        Collaborators
	socketTools *ToolRegistry
	streamTools *ToolRegistry
	interceptor MethodInterceptor

	table map[string]routeFunc
}

// knownMethods is the complete method set the router serves. NewRouter fails
// if the dispatch table and this list ever drift apart.
var knownMethods = []string{
	MethodInitialize,
	MethodPing,
	MethodPromptsList,
	MethodResourcesList,
	MethodToolsList,
	MethodToolsCall,
	MethodNotificationsInitialized,
	MethodReadFile,
	MethodWriteFile,
	MethodGetWorkspaceFolders,
	MethodGetActiveDocument,
}

// NewRouter builds the dispatch table. The interceptor may be nil.
func NewRouter(
	info Info,
	host Collaborators,
	socketTools, streamTools *ToolRegistry,
	interceptor MethodInterceptor,
	logger *slog.Logger,
) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		logger:      logger.With(slog.String("component", "router")),
		info:        info,
		host:        host,
		socketTools: socketTools,
		streamTools: streamTools,
		interceptor: interceptor,
	}

	r.table = map[string]routeFunc{
		MethodInitialize:               r.handleInitialize,
		MethodPing:                     r.handlePing,
		MethodPromptsList:              r.handlePromptsList,
		MethodResourcesList:            r.handleResourcesList,
		MethodToolsList:                r.handleToolsList,
		MethodToolsCall:                r.handleToolsCall,
		MethodNotificationsInitialized: r.handleInitialized,
		MethodReadFile:                 r.handleReadFile,
		MethodWriteFile:                r.handleWriteFile,
		MethodGetWorkspaceFolders:      r.handleGetWorkspaceFolders,
		MethodGetActiveDocument:        r.handleGetActiveDocument,
	}

	if len(r.table) != len(knownMethods) {
		return nil, fmt.Errorf("dispatch table has %d entries, known method set has %d",
			len(r.table), len(knownMethods))
	}
	for _, m := range knownMethods {
		if _, ok := r.table[m]; !ok {
			return nil, fmt.Errorf("dispatch table is missing method %q", m)
		}
	}

	return r, nil
}

// Dispatch routes one decoded envelope. Requests produce exactly one call to
// reply; notifications produce none. Dispatch never panics: handler faults
// surface as internal-error responses.
func (r *Router) Dispatch(ctx context.Context, source Source, msg JSONRPCMessage, reply ReplyFunc) {
	if r.interceptor != nil && r.interceptor.Handle(ctx, source, msg) {
		return
	}

	if msg.Method == "" {
		// A response envelope from the client; nothing is routed for those.
		return
	}

	fn, ok := r.table[msg.Method]
	if !ok {
		if msg.IsRequest() {
			reply(NewResponse(msg.ID, nil, methodNotFoundError(msg.Method)))
			return
		}
		r.logger.Debug("dropping notification for unknown method",
			slog.String("method", msg.Method),
			slog.String("source", source.String()))
		return
	}

	result, rpcErr := fn(ctx, source, msg)
	if msg.IsRequest() {
		reply(NewResponse(msg.ID, result, rpcErr))
	}
}

func (r *Router) registryFor(source Source) *ToolRegistry {
	if source == SourceSocket {
		return r.socketTools
	}
	return r.streamTools
}

func (r *Router) handleInitialize(context.Context, Source, JSONRPCMessage) (json.RawMessage, *JSONRPCError) {
	res := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ServerCapabilities{},
		ServerInfo:      r.info,
	}
	return marshalResult(res)
}

func (r *Router) handlePing(context.Context, Source, JSONRPCMessage) (json.RawMessage, *JSONRPCError) {
	return json.RawMessage(`{}`), nil
}

func (r *Router) handlePromptsList(context.Context, Source, JSONRPCMessage) (json.RawMessage, *JSONRPCError) {
	return marshalResult(ListPromptsResult{Prompts: []json.RawMessage{}})
}

func (r *Router) handleResourcesList(context.Context, Source, JSONRPCMessage) (json.RawMessage, *JSONRPCError) {
	return marshalResult(ListResourcesResult{Resources: []json.RawMessage{}})
}

func (r *Router) handleToolsList(_ context.Context, source Source, _ JSONRPCMessage) (json.RawMessage, *JSONRPCError) {
	return marshalResult(ListToolsResult{Tools: r.registryFor(source).List("")})
}

func (r *Router) handleToolsCall(ctx context.Context, source Source, msg JSONRPCMessage) (json.RawMessage, *JSONRPCError) {
	var params CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, invalidParamsError(err)
	}

	result, rpcErr := r.registryFor(source).Call(ctx, params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return marshalResult(result)
}

func (r *Router) handleInitialized(_ context.Context, source Source, _ JSONRPCMessage) (json.RawMessage, *JSONRPCError) {
	r.logger.Debug("client initialized", slog.String("source", source.String()))
	return nil, nil
}

type readFileParams struct {
	Path string `json:"path"`
}

func (r *Router) handleReadFile(ctx context.Context, _ Source, msg JSONRPCMessage) (json.RawMessage, *JSONRPCError) {
	var params readFileParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, invalidParamsError(err)
	}

	path, err := r.host.Paths.Resolve(params.Path)
	if err != nil {
		return nil, invalidParamsError(err)
	}
	content, err := r.host.Files.ReadFile(ctx, path)
	if err != nil {
		return nil, internalError(err.Error())
	}
	return marshalResult(map[string]string{"content": content})
}

type writeFileParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (r *Router) handleWriteFile(ctx context.Context, _ Source, msg JSONRPCMessage) (json.RawMessage, *JSONRPCError) {
	var params writeFileParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, invalidParamsError(err)
	}

	path, err := r.host.Paths.Resolve(params.Path)
	if err != nil {
		return nil, invalidParamsError(err)
	}
	if err := r.host.Files.WriteFile(ctx, path, params.Content); err != nil {
		return nil, internalError(err.Error())
	}
	return marshalResult(map[string]bool{"saved": true})
}

func (r *Router) handleGetWorkspaceFolders(ctx context.Context, _ Source, _ JSONRPCMessage) (json.RawMessage, *JSONRPCError) {
	folders := r.host.Workspace.Folders(ctx)
	if folders == nil {
		folders = []string{}
	}
	return marshalResult(map[string][]string{"folders": folders})
}

func (r *Router) handleGetActiveDocument(ctx context.Context, _ Source, _ JSONRPCMessage) (json.RawMessage, *JSONRPCError) {
	doc, ok := r.host.Workspace.ActiveDocument(ctx)
	if !ok {
		return marshalResult(map[string]any{"document": nil})
	}
	return marshalResult(map[string]any{"document": doc})
}

func marshalResult(v any) (json.RawMessage, *JSONRPCError) {
	bs, err := json.Marshal(v)
	if err != nil {
		return nil, internalError(fmt.Sprintf("failed to marshal result: %s", err))
	}
	return bs, nil
}
