// Package testhelpers provides common utilities for testing the roomcast
// server end to end.
//
// NewStack assembles the real registry, retained store, dispatcher, session
// controller and hub behind an httptest server. The remaining helpers speak
// the client protocol over gorilla WebSocket connections and assert on HTTP
// responses, reducing duplication in the integration tests.
package testhelpers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomcast/internal/dispatch"
	"github.com/Tyrowin/roomcast/internal/registry"
	"github.com/Tyrowin/roomcast/internal/retained"
	"github.com/Tyrowin/roomcast/internal/server"
	"github.com/Tyrowin/roomcast/internal/session"
	"github.com/Tyrowin/roomcast/internal/storage"
)

// DefaultTimeout bounds every blocking read in the helpers.
const DefaultTimeout = 2 * time.Second

// Stack is a fully wired roomcast server.
type Stack struct {
	Hub        *server.Hub
	Controller *session.Controller
	Registry   *registry.Registry
	Store      *retained.Store
	Backend    storage.Backend
	Server     *httptest.Server
	WSURL      string
}

// NewStack starts a server over backend, or over an in-memory backend when
// backend is nil. customize may adjust the transport config before the
// server accepts connections. Everything is torn down with the test.
func NewStack(t *testing.T, backend storage.Backend, customize func(cfg *server.Config)) *Stack {
	t.Helper()
	if backend == nil {
		backend = storage.NewMemory()
	}
	logger := slog.New(slog.DiscardHandler)

	store := retained.New(backend, retained.Options{Logger: logger})
	if _, err := store.Load(t.Context()); err != nil {
		t.Fatalf("Failed to load retained state: %v", err)
	}

	reg := registry.New()
	hub := server.NewHub(nil, logger)
	dispatcher := dispatch.New(reg, hub, dispatch.Options{Concurrency: 4, Logger: logger})
	ctrl := session.NewController(reg, store, dispatcher, session.Options{Logger: logger})
	hub.SetSessions(ctrl)
	server.StartHub(hub)

	ts := httptest.NewServer(server.SetupRoutes(hub, ctrl))
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		_ = hub.Shutdown(DefaultTimeout)
		server.SetConfig(nil)
	})

	cfg := server.NewConfig()
	cfg.AllowedOrigins = append([]string{ts.URL}, cfg.AllowedOrigins...)
	if customize != nil {
		customize(cfg)
	}
	server.SetConfig(cfg)

	return &Stack{
		Hub:        hub,
		Controller: ctrl,
		Registry:   reg,
		Store:      store,
		Backend:    backend,
		Server:     ts,
		WSURL:      "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

// Dial opens a WebSocket connection to the stack with its own origin.
func (s *Stack) Dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, err := ConnectWebSocket(s.WSURL, s.Server.URL)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", s.WSURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// WaitForClients polls until the hub holds n connections.
func (s *Stack) WaitForClients(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		if s.Hub.ClientCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d clients, hub has %d", n, s.Hub.ClientCount())
}

// WaitForRetained polls until topic has a retained record. Records are
// persisted after the broadcast, so receiving a message does not imply it.
func (s *Stack) WaitForRetained(t *testing.T, topic string) retained.Record {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		if rec, ok := s.Store.Get(topic); ok {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("No retained record for %s", topic)
	return retained.Record{}
}

// ConnectWebSocket dials url sending origin as the Origin header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// JoinRoom sends a JoinRoom request that announces the join.
func JoinRoom(conn *websocket.Conn, userID, topic string) error {
	return conn.WriteJSON(server.Request{Type: server.RequestJoinRoom, UserID: userID, Topic: topic})
}

// JoinRoomQuietly sends a JoinRoom request with announce=false.
func JoinRoomQuietly(conn *websocket.Conn, userID, topic string) error {
	announce := false
	return conn.WriteJSON(server.Request{
		Type:     server.RequestJoinRoom,
		UserID:   userID,
		Topic:    topic,
		Announce: &announce,
	})
}

// SendMessage sends a SendMessage request.
func SendMessage(conn *websocket.Conn, payload string, retain bool) error {
	return conn.WriteJSON(server.Request{Type: server.RequestSendMessage, Payload: payload, Retain: retain})
}

// Event is one decoded outbound frame.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Message decodes a ReceiveMessage event.
func (e Event) Message(t *testing.T) session.Message {
	t.Helper()
	if e.Event != dispatch.EventReceiveMessage {
		t.Fatalf("Expected %s event, got %s", dispatch.EventReceiveMessage, e.Event)
	}
	var msg session.Message
	if err := json.Unmarshal(e.Data, &msg); err != nil {
		t.Fatalf("Failed to decode message: %v", err)
	}
	return msg
}

// Roster decodes a ConnectedUsers event.
func (e Event) Roster(t *testing.T) session.RosterUpdate {
	t.Helper()
	if e.Event != dispatch.EventConnectedUsers {
		t.Fatalf("Expected %s event, got %s", dispatch.EventConnectedUsers, e.Event)
	}
	var roster session.RosterUpdate
	if err := json.Unmarshal(e.Data, &roster); err != nil {
		t.Fatalf("Failed to decode roster: %v", err)
	}
	return roster
}

// Error decodes an Error event.
func (e Event) Error(t *testing.T) server.ErrorData {
	t.Helper()
	if e.Event != server.EventError {
		t.Fatalf("Expected %s event, got %s", server.EventError, e.Event)
	}
	var data server.ErrorData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	return data
}

// ReadEvent reads the next event from conn.
func ReadEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	return ev
}

// ReadEvents reads exactly n events from conn.
func ReadEvents(t *testing.T, conn *websocket.Conn, n int) []Event {
	t.Helper()
	events := make([]Event, 0, n)
	for range n {
		events = append(events, ReadEvent(t, conn))
	}
	return events
}

// ReadUntilRoster reads events until a roster for topic with n users
// arrives, returning it.
func ReadUntilRoster(t *testing.T, conn *websocket.Conn, topic string, n int) session.RosterUpdate {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		ev := ReadEvent(t, conn)
		if ev.Event != dispatch.EventConnectedUsers {
			continue
		}
		roster := ev.Roster(t)
		if roster.Topic == topic && len(roster.Users) == n {
			return roster
		}
	}
	t.Fatalf("No roster of %d users for %s before deadline", n, topic)
	return session.RosterUpdate{}
}

// ReadUntilMessage reads events until a chat message (not a notice) arrives.
func ReadUntilMessage(t *testing.T, conn *websocket.Conn) session.Message {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		ev := ReadEvent(t, conn)
		if ev.Event != dispatch.EventReceiveMessage {
			continue
		}
		if msg := ev.Message(t); msg.Notice == "" {
			return msg
		}
	}
	t.Fatalf("No message before deadline")
	return session.Message{}
}

// ExpectNoEvent fails if conn receives a frame within timeout. A read that
// times out leaves a gorilla connection permanently failed, so conn must not
// be read again afterwards; call it only as the last read on conn.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no event, got %s", raw)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of events: %v", err)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// MakeRequest executes an HTTP request with a 5 second timeout.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}
