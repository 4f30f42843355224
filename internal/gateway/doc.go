// Package gateway orchestrates the prism-gateway server components.
//
// # Overview
//
// New wires the store, the connection registry, the conversation lifecycle
// and message pipeline, the triage engine, the dedupe cache and the chat
// WebSocket handler, then mounts them on a single chi router.
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - Store ping
//   - GET /api/areas/match?query= - Best area for a free-text query
//   - GET /api/conversations - Open conversations
//   - POST /api/conversations/{id}/close - Close a conversation and notify subscribers
//   - GET /api/connections - Registry snapshot
//   - GET /ws/{connection_id} - Chat WebSocket
//
// # Listeners
//
// The server listens on server.http_addr, or joins a tailnet through tsnet
// when tailscale.enabled is set. Tailnet mode serves plain HTTP on :80,
// HTTPS with tailnet certificates on :443, or public Funnel traffic.
//
// # Shutdown
//
// Run blocks until its context is canceled, then stops the HTTP server,
// closes every WebSocket through the registry and releases the store when
// the gateway opened it.
package gateway
