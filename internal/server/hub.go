// Package server coordinates WebSocket connection registration, per-connection
// delivery and cleanup via the Hub type, and reports connection lifecycle to
// the session layer.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/roomcast/internal/dispatch"
	"github.com/Tyrowin/roomcast/internal/session"
)

// Sessions is the session layer driven by client requests and connection
// lifecycle.
type Sessions interface {
	Join(ctx context.Context, connectionID, userID, topic string, suppressJoinNotice bool) error
	Publish(ctx context.Context, connectionID string, payload []byte, retain bool, opts ...session.PublishOption) error
	CurrentTopic(connectionID string) (string, bool)
	OnConnectionOpened(ctx context.Context, connectionID string)
	OnConnectionClosed(ctx context.Context, connectionID string)
}

// Hub manages all WebSocket client connections, keyed by connection ID.
// It implements dispatch.Transport: sends never block, and a client whose
// buffer is full is evicted.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	sessions   Sessions
	logger     *slog.Logger
}

// NewHub creates a Hub reporting to sessions. The sessions may be set later
// with SetSessions, before Run is called. A nil logger uses slog.Default().
func NewHub(sessions Sessions, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		sessions:   sessions,
		logger:     logger,
	}
}

// SetSessions attaches the session layer. The dispatcher needs the hub as its
// transport and the controller needs the dispatcher, so the hub is built
// first and wired here.
func (h *Hub) SetSessions(sessions Sessions) {
	h.sessions = sessions
}

// GetRegisterChan returns the channel used for registering new clients to the hub.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients from the hub.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// ClientCount reports the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// SendToConnection queues event for connectionID without blocking.
func (h *Hub) SendToConnection(_ context.Context, connectionID string, event dispatch.Event) error {
	message, err := encodeEvent(event)
	if err != nil {
		return err
	}

	client, sent, err := h.trySend(connectionID, message)
	if err != nil {
		return err
	}
	if !sent {
		h.evict(client)
		return ErrSendBufferFull
	}
	return nil
}

func (h *Hub) trySend(connectionID string, message []byte) (*Client, bool, error) {
	// Held for the whole send so the channel cannot be closed underneath it.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	client, exists := h.clients[connectionID]
	if !exists || client.closed {
		return nil, false, ErrConnectionNotFound
	}

	select {
	case client.send <- message:
		return client, true, nil
	default:
		return client, false, nil
	}
}

// evict drops a client that cannot keep up. Its write pump sees the closed
// channel, sends a close frame and tears the connection down; the read pump
// then unregisters it.
func (h *Hub) evict(client *Client) {
	h.mutex.Lock()
	current, exists := h.clients[client.id]
	if !exists || current != client {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	client.closed = true
	h.mutex.Unlock()

	close(client.send)
	h.logger.Warn("client removed due to full send buffer",
		slog.String("connection", client.id),
		slog.String("remote", client.addr))
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. It should be called in its own goroutine and returns after
// Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.logger.Info("client registered",
		slog.String("connection", client.id),
		slog.String("remote", client.addr),
		slog.Int("clients", clientCount))

	if h.sessions != nil {
		h.sessions.OnConnectionOpened(h.ctx, client.id)
	}

	if client.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleUnregister(client *Client) {
	if client == nil {
		return
	}

	h.mutex.Lock()
	current, ok := h.clients[client.id]
	if ok && current == client {
		delete(h.clients, client.id)
		client.closed = true
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if ok && current == client {
		close(client.send)
	}

	// Evicted clients are no longer in the map but still hold a subscription.
	if h.sessions != nil {
		h.sessions.OnConnectionClosed(h.ctx, client.id)
	}

	h.logger.Info("client unregistered",
		slog.String("connection", client.id),
		slog.String("remote", client.addr),
		slog.Int("clients", clientCount))
}

// shutdownClients closes all active client connections.
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					h.logger.Warn("error closing client connection",
						slog.String("remote", client.addr),
						slog.String("error", err.Error()))
				}
			}
		}
	}

	h.logger.Info("closed client connections", slog.Int("count", len(clients)))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
