package server

import "net/http"

// setupRoutes registers the API surface.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Queue entries
	mux.HandleFunc("POST /api/entries", s.app.EntryHandler.CreateEntry)
	mux.HandleFunc("GET /api/entries", s.app.EntryHandler.ListEntries)
	mux.HandleFunc("GET /api/entries/{id}", s.app.EntryHandler.GetEntry)
	mux.HandleFunc("GET /api/queue/stats", s.app.EntryHandler.QueueStats)

	// Service endpoints
	mux.HandleFunc("GET /api/health", s.app.APIHandler.Health)
	mux.HandleFunc("GET /api/version", s.app.APIHandler.Version)

	// Push status stream
	mux.HandleFunc("/ws", s.app.WebSocketHandler.HandleWebSocket)

	return mux
}
