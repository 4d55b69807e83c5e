// Package idebridge lets an external AI-agent client discover, connect to,
// and drive a long-running host application over a small JSON-RPC protocol.
// It serves two independent transports at once - a persistent loopback
// WebSocket and a session-oriented streaming-HTTP (SSE) surface - while the
// host pushes asynchronous context notifications to every connected client.
//
// The package covers connection discovery (a per-port lock file a separate
// client process can read), both transports, request routing, the tool
// registry, and notification fan-out. Host capabilities such as file access
// and workspace introspection are consumed through the narrow interfaces in
// host.go and never implemented here.
package idebridge
