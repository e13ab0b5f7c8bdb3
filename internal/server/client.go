// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, request decoding and lifecycle control for each
// connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/roomcast/internal/dispatch"
	"github.com/Tyrowin/roomcast/internal/retained"
	"github.com/Tyrowin/roomcast/internal/session"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Client represents one WebSocket connection. Its ID is the connection ID
// used by the registry and the dispatcher.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	maxMessageSize int64
	limiter        *rate.Limiter
	rateLimit      RateLimitConfig
	logger         *slog.Logger
}

// NewClient creates a Client for conn with a fresh connection ID. Limits are
// taken from the configuration active at the time of the call.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := CurrentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := uuid.NewString()
	logger := slog.Default()
	if hub != nil {
		logger = hub.logger
	}

	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, cfg.SendBuffer),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		logger:         logger.With(slog.String("connection", id), slog.String("remote", addr)),
	}
}

// ID returns the connection ID.
func (c *Client) ID() string {
	return c.id
}

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("error setting initial read deadline", slog.String("error", err.Error()))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("error setting read deadline in pong handler", slog.String("error", err.Error()))
		}
		return nil
	})
}

// handleReadError logs the read error at a level matching its cause and
// reports whether the read loop should stop.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("message exceeded maximum size", slog.Int64("limit", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("client disconnected", slog.String("reason", err.Error()))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("client connection closed", slog.String("reason", err.Error()))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("unexpected websocket close", slog.String("error", err.Error()))
	default:
		c.logger.Warn("websocket read error", slog.String("error", err.Error()))
	}
	return true
}

// checkRateLimit reports whether the next frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warn("rate limit exceeded; discarding message",
			slog.Int("burst", c.rateLimit.Burst),
			slog.Duration("interval", c.rateLimit.RefillInterval))
		return false
	}
	return true
}

// processMessage decodes one request frame and hands it to the session
// layer. Rejected requests are answered with an Error event; it returns
// false in that case.
func (c *Client) processMessage(rawMessage []byte) bool {
	var req Request
	if err := json.Unmarshal(rawMessage, &req); err != nil {
		c.logger.Debug("invalid request", slog.String("error", err.Error()))
		c.sendError("", "invalid request: "+err.Error())
		return false
	}

	if c.hub == nil || c.hub.sessions == nil {
		c.logger.Error("no session layer attached; dropping request", slog.String("type", req.Type))
		return false
	}

	var err error
	switch req.Type {
	case RequestJoinRoom:
		err = c.hub.sessions.Join(c.hub.ctx, c.id, req.UserID, req.Topic, !req.announce(true))
	case RequestSendMessage:
		err = c.publish(req)
	default:
		c.sendError(req.Type, "unknown request type")
		return false
	}

	if err != nil {
		c.logger.Debug("request rejected",
			slog.String("type", req.Type),
			slog.String("error", err.Error()))
		c.sendError(req.Type, err.Error())
		return false
	}
	return true
}

func (c *Client) publish(req Request) error {
	// Routing always follows the current subscription.
	if req.Topic != "" {
		if current, ok := c.hub.sessions.CurrentTopic(c.id); ok && current != req.Topic {
			c.logger.Debug("message topic does not match subscription; using subscription",
				slog.String("requested", req.Topic),
				slog.String("subscribed", current))
		}
	}

	return c.hub.sessions.Publish(c.hub.ctx, c.id, []byte(req.Payload), req.Retain,
		session.WithContentType(req.ContentType),
		session.WithQoS(retained.QoS(req.QoS)),
		session.WithAnnounce(req.announce(false)),
	)
}

func (c *Client) sendError(request, message string) {
	if c.hub == nil {
		return
	}
	event := dispatch.Event{
		Name: EventError,
		Data: ErrorData{Request: request, Message: message},
	}
	if err := c.hub.SendToConnection(c.hub.ctx, c.id, event); err != nil {
		c.logger.Debug("could not deliver error event", slog.String("error", err.Error()))
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
			// The hub loop has exited during shutdown.
			c.hub.handleUnregister(c)
		}
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				c.logger.Warn("error closing connection in readPump", slog.String("error", err.Error()))
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if c.handleReadError(err) {
			break
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection in writePump", slog.String("error", err.Error()))
		}
	}
}

// handleMessage writes one outgoing event, or a close frame once the hub has
// closed the send channel.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline", slog.String("error", err.Error()))
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error writing close message", slog.String("error", err.Error()))
		}
		return false
	}

	// Every event is its own frame so clients can decode frames as JSON.
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Warn("error writing message", slog.String("error", err.Error()))
		return false
	}
	return true
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline for ping", slog.String("error", err.Error()))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("error writing ping message", slog.String("error", err.Error()))
		return false
	}
	return true
}
