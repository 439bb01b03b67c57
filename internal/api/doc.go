// Package api provides the HTTP REST API and WebSocket server for TankWatch.
//
// It exposes the tank registry, connection status, telemetry history and
// remote-access operations to the operator UI, and pushes tank events to
// connected browsers over WebSocket.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Every /api/v1 route except the WebSocket upgrade requires a bearer JWT
// signed with the configured secret. The WebSocket authenticates with a
// single-use ticket obtained from POST /api/v1/auth/ws-ticket.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
