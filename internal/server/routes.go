// Package server wires HTTP handlers into a ServeMux via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes. The admin routes are omitted when admin is nil.
func SetupRoutes(hub *Hub, admin Admin) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", WebSocketHandler(hub))
	mux.HandleFunc("/test", TestPageHandler)

	if admin != nil {
		mux.HandleFunc("GET /rooms/{topic}/users", RosterHandler(admin))
		mux.HandleFunc("GET /retained", RetainedListHandler(admin))
		mux.HandleFunc("DELETE /retained", RetainedClearHandler(admin, hub.logger))
		mux.HandleFunc("DELETE /retained/{topic...}", RetainedClearHandler(admin, hub.logger))
	}
	return mux
}
