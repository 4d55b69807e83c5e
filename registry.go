package idebridge

import (
	"context"
	"fmt"
	"log/slog"
)

// ToolHandler executes a tool call. Arguments arrive as the raw JSON object
// from the client; handlers validate them against their own schema. A
// returned error (or a panic) is converted to a protocol-level internal
// error by the registry and never propagates out of the dispatcher.
type ToolHandler func(ctx context.Context, args []byte) (CallToolResult, error)

// ToolImplementation pairs a tool name with its handler. The name must match
// the definition it is registered with.
type ToolImplementation struct {
	Name    string
	Handler ToolHandler
}

// RegisteredTool is a (definition, implementation) pair ready for
// registration.
type RegisteredTool struct {
	Definition     ToolDefinition
	Implementation ToolImplementation
}

type registeredTool struct {
	def     ToolDefinition
	handler ToolHandler
}

// ToolRegistry is a name-keyed catalog of tool definitions and their
// handlers. It is populated once at startup and shared read-only afterwards,
// so lookups need no locking. Two independent instances may serve different
// transports with different tool sets.
type ToolRegistry struct {
	logger *slog.Logger

	order []string
	tools map[string]registeredTool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(logger *slog.Logger) *ToolRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolRegistry{
		logger: logger.With(slog.String("component", "registry")),
		tools:  make(map[string]registeredTool),
	}
}

// Register inserts a (definition, implementation) pair keyed by name. A name
// mismatch between the two is a startup-time fault and returns an error
// before any request is served. Re-registering a name replaces nothing and
// is also an error; there is no runtime re-registration.
func (r *ToolRegistry) Register(def ToolDefinition, impl ToolImplementation) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition has no name")
	}
	if def.Name != impl.Name {
		return fmt.Errorf("tool name mismatch: definition %q, implementation %q", def.Name, impl.Name)
	}
	if impl.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}
	if _, ok := r.tools[def.Name]; ok {
		return fmt.Errorf("tool %q already registered", def.Name)
	}

	r.order = append(r.order, def.Name)
	r.tools[def.Name] = registeredTool{def: def, handler: impl.Handler}
	return nil
}

// RegisterAll registers every pair in order, stopping at the first fault.
func (r *ToolRegistry) RegisterAll(tools []RegisteredTool) error {
	for _, t := range tools {
		if err := r.Register(t.Definition, t.Implementation); err != nil {
			return err
		}
	}
	return nil
}

// List returns the registered definitions in registration order. A non-empty
// category restricts the listing to tools carrying that internal tag. The tag
// itself is never serialized to clients.
func (r *ToolRegistry) List(category string) []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		if category != "" && t.def.Category != category {
			continue
		}
		defs = append(defs, t.def)
	}
	return defs
}

// Call looks up and invokes a tool by name. An unknown name is answered
// in-band: a successful-shaped result whose content carries a "not
// registered" message, deliberately distinct from malformed-request protocol
// errors. Handler errors and panics become internal errors.
func (r *ToolRegistry) Call(ctx context.Context, params CallToolParams) (res CallToolResult, rpcErr *JSONRPCError) {
	t, ok := r.tools[params.Name]
	if !ok {
		return CallToolResult{
			Content: TextContent(fmt.Sprintf("tool %q is not registered", params.Name)),
			IsError: true,
		}, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked",
				slog.String("tool", params.Name),
				slog.Any("panic", rec))
			res = CallToolResult{}
			rpcErr = internalError(fmt.Sprintf("tool %q panicked", params.Name))
		}
	}()

	result, err := t.handler(ctx, params.Arguments)
	if err != nil {
		r.logger.Error("tool handler failed",
			slog.String("tool", params.Name),
			slog.String("err", err.Error()))
		return CallToolResult{}, internalError(fmt.Sprintf("tool %q failed: %s", params.Name, err))
	}
	return result, nil
}
