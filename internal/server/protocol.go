// Package server defines the client wire protocol shared by the hub and
// client pumps.
package server

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/Tyrowin/roomcast/internal/dispatch"
)

// Inbound request types.
const (
	RequestJoinRoom    = "JoinRoom"
	RequestSendMessage = "SendMessage"
)

// EventError is sent to a single client whose request was rejected.
const EventError = "Error"

var (
	// ErrConnectionNotFound is returned when sending to an unknown or
	// already closed connection.
	ErrConnectionNotFound = errors.New("server: connection not found")

	// ErrSendBufferFull is returned when a connection's outbound queue is
	// full. The connection is evicted.
	ErrSendBufferFull = errors.New("server: send buffer full")
)

// Request is one inbound text frame.
//
//	{"type":"JoinRoom","userId":"alice","topic":"lobby","announce":true}
//	{"type":"SendMessage","payload":"hi","retain":true,"contentType":"text/plain","qos":1}
type Request struct {
	Type string `json:"type"`

	// JoinRoom
	UserID   string `json:"userId,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Announce *bool  `json:"announce,omitempty"`

	// SendMessage
	Payload     string `json:"payload,omitempty"`
	Retain      bool   `json:"retain,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	QoS         uint8  `json:"qos,omitempty"`
}

// announce reports the request's announce flag, which defaults to true for
// joins and false for messages.
func (r Request) announce(def bool) bool {
	if r.Announce == nil {
		return def
	}
	return *r.Announce
}

// ErrorData is the data of an Error event.
type ErrorData struct {
	Request string `json:"request,omitempty"`
	Message string `json:"message"`
}

func encodeEvent(event dispatch.Event) ([]byte, error) {
	return json.Marshal(event)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
