package idebridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server is the orchestrator. It owns both transports and both tool registry
// instances, starts and stops the listeners independently, aggregates partial
// success, and fans host-originated notifications out to every connected
// client.
type Server struct {
	info   Info
	logger *slog.Logger

	host        Collaborators
	interceptor MethodInterceptor

	httpPort  int
	heartbeat time.Duration
	ideName   string

	workspaceFolders []string

	socketTools *ToolRegistry
	streamTools *ToolRegistry
	router      *Router
	ws          *WebSocketTransport
	stream      *SSETransport
	discovery   *DiscoveryPublisher

	publishDiscovery bool

	mu      sync.Mutex
	started bool
	result  StartResult
}

// StartResult aggregates the outcome of starting both listeners. A zero port
// with a non-nil error means that transport is degraded; the other keeps
// running. Errors are *BindError when the fault was a failed bind.
type StartResult struct {
	WSPort   int
	HTTPPort int
	WSErr    error
	HTTPErr  error
}

// Degraded reports whether exactly one transport failed to start.
func (r StartResult) Degraded() bool {
	return (r.WSErr == nil) != (r.HTTPErr == nil)
}

// NewServer creates the orchestrator. The host collaborators must be fully
// populated; tools are registered afterwards and before Start.
func NewServer(info Info, host Collaborators, options ...ServerOption) (*Server, error) {
	s := &Server{
		info:             info,
		logger:           slog.Default(),
		host:             host,
		ideName:          info.Name,
		publishDiscovery: true,
	}
	for _, opt := range options {
		opt(s)
	}

	s.socketTools = NewToolRegistry(s.logger)
	s.streamTools = NewToolRegistry(s.logger)

	router, err := NewRouter(s.info, s.host, s.socketTools, s.streamTools, s.interceptor, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build router: %w", err)
	}
	s.router = router

	s.ws = NewWebSocketTransport(router, s.logger)
	s.stream = NewSSETransport(s.httpPort, s.heartbeat, router, s.onStreamDisconnect, s.logger)
	if s.discovery == nil {
		s.discovery = NewDiscoveryPublisher(s.logger)
	}

	return s, nil
}

// WithServerLogger sets the logger for the server and everything it builds.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(slog.String("package", "idebridge"))
	}
}

// WithHTTPPort sets the streaming-HTTP listener port. Zero picks an
// ephemeral port.
func WithHTTPPort(port int) ServerOption {
	return func(s *Server) {
		s.httpPort = port
	}
}

// WithHeartbeatInterval sets the streaming-session keep-alive interval.
func WithHeartbeatInterval(interval time.Duration) ServerOption {
	return func(s *Server) {
		s.heartbeat = interval
	}
}

// WithInterceptor installs the integration-specific sub-handler consulted
// before all other routing.
func WithInterceptor(interceptor MethodInterceptor) ServerOption {
	return func(s *Server) {
		s.interceptor = interceptor
	}
}

// WithIDEName sets the host identifier written into the discovery record.
func WithIDEName(name string) ServerOption {
	return func(s *Server) {
		s.ideName = name
	}
}

// WithWorkspaceFolders sets the initial workspace roots advertised in the
// discovery record.
func WithWorkspaceFolders(folders []string) ServerOption {
	return func(s *Server) {
		s.workspaceFolders = folders
	}
}

// WithDiscoveryPublisher replaces the default publisher. Useful for tests
// and embedders that resolve the config dir themselves.
func WithDiscoveryPublisher(p *DiscoveryPublisher) ServerOption {
	return func(s *Server) {
		s.discovery = p
	}
}

// WithoutDiscovery disables writing the discovery record.
func WithoutDiscovery() ServerOption {
	return func(s *Server) {
		s.publishDiscovery = false
	}
}

// RegisterSharedTools registers tools on both registries, so both transports
// serve them.
func (s *Server) RegisterSharedTools(tools ...RegisteredTool) error {
	if err := s.socketTools.RegisterAll(tools); err != nil {
		return err
	}
	return s.streamTools.RegisterAll(tools)
}

// RegisterIntegrationTools registers transport-specific tools on the
// persistent-socket registry only.
func (s *Server) RegisterIntegrationTools(tools ...RegisteredTool) error {
	return s.socketTools.RegisterAll(tools)
}

// Start brings both listeners up independently. A bind failure on one never
// prevents or tears down the other; the aggregated result reports which
// capability is degraded. Only when both transports fail does Start return
// an overall error. The discovery record is written only after the socket
// transport bound successfully.
func (s *Server) Start(ctx context.Context) (StartResult, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return s.result, errors.New("server already started")
	}
	s.started = true
	s.mu.Unlock()

	var result StartResult

	if err := s.ws.Start(); err != nil {
		result.WSErr = err
		s.logger.Error("socket transport failed to start", slog.String("err", err.Error()))
	} else {
		result.WSPort = s.ws.Port()
	}

	if err := s.stream.Start(); err != nil {
		result.HTTPErr = err
		s.logger.Error("http transport failed to start", slog.String("err", err.Error()))
	} else {
		result.HTTPPort = s.stream.Port()
	}

	if result.WSErr != nil && result.HTTPErr != nil {
		return result, errors.Join(result.WSErr, result.HTTPErr)
	}

	if result.WSErr == nil && s.publishDiscovery {
		rec := DiscoveryRecord{
			PID:              os.Getpid(),
			WorkspaceFolders: s.workspaceFolders,
			IDEName:          s.ideName,
			Transport:        "ws",
		}
		if err := s.discovery.Publish(result.WSPort, rec); err != nil {
			s.logger.Error("failed to publish discovery record", slog.String("err", err.Error()))
		}
	}

	if result.Degraded() {
		s.logger.Warn("running in degraded single-transport mode")
	}

	s.mu.Lock()
	s.result = result
	s.mu.Unlock()
	return result, nil
}

// Broadcast pushes one notification to every connected client on both
// transports. Best-effort, unordered across transports, at-most-once: a
// client not connected right now never receives it.
func (s *Server) Broadcast(method string, params any) error {
	msg, err := NewNotification(method, params)
	if err != nil {
		return err
	}

	s.ws.Broadcast(msg)
	s.stream.Broadcast(msg)
	return nil
}

// SetWorkspaceFolders records a workspace root change: the discovery record
// is rewritten in place and connected clients are notified.
func (s *Server) SetWorkspaceFolders(folders []string) error {
	s.mu.Lock()
	s.workspaceFolders = folders
	published := s.started && s.result.WSErr == nil && s.publishDiscovery
	s.mu.Unlock()

	if published {
		if err := s.discovery.SetWorkspaceFolders(folders); err != nil {
			return err
		}
	}
	return s.Broadcast(MethodWorkspaceFoldersChanged, map[string][]string{"folders": folders})
}

// ClientCount returns the combined number of connected clients.
func (s *Server) ClientCount() int {
	return s.ws.ConnectionCount() + s.stream.SessionCount()
}

func (s *Server) onStreamDisconnect(sessionID string) {
	s.logger.Debug("stream client disconnected", slog.String("session", sessionID))
}

// Stop shuts both transports down and removes the discovery record.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	if err := s.stream.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop http transport: %w", err))
	}
	if err := s.ws.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop socket transport: %w", err))
	}
	if s.publishDiscovery {
		if err := s.discovery.Remove(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
