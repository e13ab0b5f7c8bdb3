// Package server is the WebSocket transport of roomcast.
//
// A Hub owns every live connection and implements dispatch.Transport: events
// are queued on a per-connection buffer without blocking, and a connection
// that cannot keep up is evicted. Each connection runs a read pump that
// decodes JoinRoom and SendMessage requests for the session layer and a write
// pump that sends one JSON event per text frame. The package also serves the
// health check, a test page and the retained state admin API.
package server
