// Package server implements the core HTTP and WebSocket functionality of the
// room-scoped chat relay.
//
// The implementation is organized into specialized files for configuration,
// the connection registry, broadcasting, per-connection clients, the room
// session protocol, routing, and HTTP handlers to keep the codebase
// maintainable and testable as the project grows.
package server
