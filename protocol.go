package idebridge

import (
	"encoding/json"
	"fmt"
)

// MustString enforces string representation for fields that the wire protocol
// allows to be either a string or an integer, such as request IDs. Conversion
// happens during JSON marshaling/unmarshaling.
type MustString string

// JSONRPCMessage represents a JSON-RPC 2.0 envelope. It can carry a request,
// a response, or a notification depending on which fields are populated:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Response: JSONRPC, ID, and either Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs and must be a string or number
	ID MustString `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents an error response in the JSON-RPC 2.0 protocol.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional information about the error. May be omitted.
	Data map[string]any `json:"data,omitempty"`
}

// Info contains the identity of the server advertised in initialize results.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// CapabilityFlags describes a single capability surface advertised by the
// server. None of the lists served here change at runtime, so ListChanged is
// always false.
type CapabilityFlags struct {
	ListChanged bool `json:"listChanged"`
}

// ServerCapabilities is the capability block of an initialize result. All
// four surfaces are always present; tools is the only one with real content
// behind it.
type ServerCapabilities struct {
	Roots     CapabilityFlags `json:"roots"`
	Tools     CapabilityFlags `json:"tools"`
	Resources CapabilityFlags `json:"resources"`
	Prompts   CapabilityFlags `json:"prompts"`
}

// InitializeResult is the static negotiation answer for the initialize
// method. No real per-client negotiation occurs.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
}

// ToolDefinition describes a callable tool as exposed by tools/list. Category
// is an internal grouping tag and is never serialized to clients.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`

	// Category groups tools for registry filtering (e.g. shared vs
	// integration-only). Internal only.
	Category string `json:"-"`
}

// ListToolsResult is the result shape of tools/list.
type ListToolsResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// CallToolParams contains parameters for executing a specific tool.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult represents the outcome of a tool invocation. IsError flags
// in-band failures (bad arguments, unknown tool); details are in Content.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// Content represents one piece of tool output.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent builds a single-element text content list.
func TextContent(text string) []Content {
	return []Content{{Type: "text", Text: text}}
}

// ListPromptsResult is the (always empty) result shape of prompts/list.
type ListPromptsResult struct {
	Prompts []json.RawMessage `json:"prompts"`
}

// ListResourcesResult is the (always empty) result shape of resources/list.
type ListResourcesResult struct {
	Resources []json.RawMessage `json:"resources"`
}

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used on the wire.
	JSONRPCVersion = "2.0"

	// ProtocolVersion is the negotiated protocol revision returned by initialize.
	ProtocolVersion = "2024-11-05"

	// MethodInitialize is the capability negotiation request.
	MethodInitialize = "initialize"
	// MethodPing is the liveness request; it returns a fixed empty object.
	MethodPing = "ping"
	// MethodToolsList retrieves the tool catalog of the serving registry.
	MethodToolsList = "tools/list"
	// MethodToolsCall invokes a registered tool by name.
	MethodToolsCall = "tools/call"
	// MethodPromptsList exists for protocol completeness; this server has no prompts.
	MethodPromptsList = "prompts/list"
	// MethodResourcesList exists for protocol completeness; this server has no resources.
	MethodResourcesList = "resources/list"

	// MethodNotificationsInitialized is the client's post-initialize acknowledgement.
	MethodNotificationsInitialized = "notifications/initialized"

	// MethodWorkspaceFoldersChanged is broadcast when the host workspace root changes.
	MethodWorkspaceFoldersChanged = "workspace/foldersChanged"

	// Legacy convenience methods routed straight to the host collaborators.
	MethodReadFile            = "readFile"
	MethodWriteFile           = "writeFile"
	MethodGetWorkspaceFolders = "getWorkspaceFolders"
	MethodGetActiveDocument   = "getActiveDocument"

	jsonRPCParseErrorCode     = -32700
	jsonRPCMethodNotFoundCode = -32601
	jsonRPCInvalidParamsCode  = -32602
	jsonRPCInternalErrorCode  = -32603
)

// NewResponse builds a response envelope carrying either result or rpcErr.
func NewResponse(id MustString, result json.RawMessage, rpcErr *JSONRPCError) JSONRPCMessage {
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   rpcErr,
	}
	if rpcErr == nil {
		msg.Result = result
	}
	return msg
}

// NewNotification builds a notification envelope. Marshaling params must not
// fail; callers pass plain structs or maps.
func NewNotification(method string, params any) (JSONRPCMessage, error) {
	var raw json.RawMessage
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			return JSONRPCMessage{}, fmt.Errorf("failed to marshal params: %w", err)
		}
		raw = bs
	}
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  raw,
	}, nil
}

// IsRequest reports whether the envelope expects a response.
func (m JSONRPCMessage) IsRequest() bool {
	return m.Method != "" && m.ID != ""
}

// IsNotification reports whether the envelope is fire-and-forget.
func (m JSONRPCMessage) IsNotification() bool {
	return m.Method != "" && m.ID == ""
}

func methodNotFoundError(method string) *JSONRPCError {
	return &JSONRPCError{
		Code:    jsonRPCMethodNotFoundCode,
		Message: fmt.Sprintf("method not found: %s", method),
	}
}

func invalidParamsError(err error) *JSONRPCError {
	return &JSONRPCError{
		Code:    jsonRPCInvalidParamsCode,
		Message: fmt.Sprintf("invalid params: %s", err),
	}
}

func internalError(msg string) *JSONRPCError {
	return &JSONRPCError{
		Code:    jsonRPCInternalErrorCode,
		Message: msg,
	}
}

// UnmarshalJSON implements json.Unmarshaler to convert JSON data into
// MustString, handling both string and numeric input formats.
func (m *MustString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		*m = MustString(v)
	case float64:
		*m = MustString(fmt.Sprintf("%d", int(v)))
	case int:
		*m = MustString(fmt.Sprintf("%d", v))
	default:
		return fmt.Errorf("invalid type: %T", v)
	}

	return nil
}

// MarshalJSON implements json.Marshaler, always encoding as a string value.
func (m MustString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(m))
}

func (j JSONRPCError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s, data %v", j.Code, j.Message, j.Data)
}
