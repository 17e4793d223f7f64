// Package server wires HTTP handlers into a ServeMux for the chat relay via
// routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: health check, the room WebSocket endpoint, the legacy message list,
// and the chat page.
func SetupRoutes(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.HealthHandler)
	mux.HandleFunc("GET /ws/{room}", s.RoomSocketHandler)
	mux.HandleFunc("GET /messages", s.MessagesHandler)
	mux.HandleFunc("GET /chat", s.ChatPageHandler)
	return mux
}
