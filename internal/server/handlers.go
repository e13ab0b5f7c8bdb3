// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, the built-in test page and the retained state admin API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomcast/internal/retained"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// Admin is the administrative view of rooms and retained state.
type Admin interface {
	Roster(topic string) []string
	Retained() []retained.Record
	ClearRetained(ctx context.Context, topic string) error
	ClearAllRetained(ctx context.Context) error
}

// WebSocketHandler upgrades GET requests to WebSocket connections and
// registers them with hub, which launches the client pumps.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("websocket upgrade failed",
				slog.String("remote", r.RemoteAddr),
				slog.String("error", err.Error()))
			return
		}

		hub.register <- NewClient(conn, hub, r.RemoteAddr)
	}
}

// HealthHandler responds with a plain text liveness message.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomcast server is running!")
}

// RosterView is the body of GET /rooms/{topic}/users.
type RosterView struct {
	Topic string   `json:"topic"`
	Users []string `json:"users"`
}

// RetainedView is one entry of GET /retained.
type RetainedView struct {
	Topic       string    `json:"topic"`
	Payload     string    `json:"payload"`
	Encoding    string    `json:"encoding,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	QoS         string    `json:"qos"`
	Sender      string    `json:"sender,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// RosterHandler serves the users currently joined to {topic}.
func RosterHandler(admin Admin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topic := r.PathValue("topic")
		users := admin.Roster(topic)
		if users == nil {
			users = []string{}
		}
		writeJSON(w, http.StatusOK, RosterView{Topic: topic, Users: users})
	}
}

// RetainedListHandler serves every retained record ordered by topic.
func RetainedListHandler(admin Admin) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		records := admin.Retained()
		views := make([]RetainedView, 0, len(records))
		for _, rec := range records {
			payload, encoding := retained.TextPayload(rec.Payload)
			views = append(views, RetainedView{
				Topic:       rec.Topic,
				Payload:     payload,
				Encoding:    encoding,
				ContentType: rec.ContentType,
				QoS:         rec.QoS.String(),
				Sender:      rec.Sender,
				LastUpdated: rec.LastUpdated,
			})
		}
		writeJSON(w, http.StatusOK, views)
	}
}

// RetainedClearHandler clears the record for {topic}, or every record when
// the request carries no topic.
func RetainedClearHandler(admin Admin, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topic := r.PathValue("topic")

		var err error
		if topic == "" {
			err = admin.ClearAllRetained(r.Context())
		} else {
			err = admin.ClearRetained(r.Context(), topic)
		}
		if err != nil {
			logger.Error("clearing retained state failed",
				slog.String("topic", topic),
				slog.String("error", err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		logger.Info("retained state cleared", slog.String("topic", topic))
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("error writing JSON response", slog.String("error", err.Error()))
	}
}

// TestPageHandler serves an HTML page for joining rooms and sending messages
// by hand.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>roomcast test page</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        #users { color: #555; margin: 5px 0; }
        input[type="text"] { width: 160px; padding: 5px; margin-right: 6px; }
        #payload { width: 300px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        .notice { color: gray; font-style: italic; }
        .retained { color: #8a6d3b; }
        .error { color: #a94442; }
    </style>
</head>
<body>
    <h1>roomcast</h1>

    <div id="status" class="status disconnected">Disconnected</div>
    <button id="connectButton" onclick="toggleConnection()">Connect</button>

    <div>
        <input type="text" id="userId" placeholder="user id">
        <input type="text" id="topic" placeholder="topic">
        <label><input type="checkbox" id="announce" checked> announce</label>
        <button id="joinButton" onclick="joinRoom()" disabled>Join</button>
    </div>
    <div>
        <input type="text" id="payload" placeholder="Type a message...">
        <label><input type="checkbox" id="retain"> retain</label>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="users"></div>
    <div id="events"></div>

    <script>
        let ws = null;
        const eventsDiv = document.getElementById('events');
        const usersDiv = document.getElementById('users');
        const statusDiv = document.getElementById('status');

        function addLine(text, cls) {
            const el = document.createElement('div');
            el.className = cls || '';
            el.textContent = text;
            eventsDiv.appendChild(el);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            document.getElementById('joinButton').disabled = !connected;
            document.getElementById('sendButton').disabled = !connected;
            document.getElementById('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function handleEvent(ev) {
            const d = ev.data || {};
            switch (ev.event) {
            case 'ReceiveMessage':
                if (d.notice) {
                    addLine(d.payload, 'notice');
                } else {
                    addLine('[' + d.topic + '] ' + d.sender + ': ' + (d.encoding ? '(' + d.encoding + ') ' : '') + d.payload, d.retained ? 'retained' : '');
                }
                break;
            case 'ConnectedUsers':
                usersDiv.textContent = d.topic + ': ' + (d.users || []).join(', ');
                break;
            case 'Error':
                addLine('error: ' + d.message, 'error');
                break;
            default:
                addLine(JSON.stringify(ev));
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() { addLine('connected', 'notice'); updateStatus(true); };
            ws.onmessage = function(event) {
                event.data.split('\n').forEach(function(frame) {
                    try { handleEvent(JSON.parse(frame)); } catch (e) { addLine(frame); }
                });
            };
            ws.onclose = function() { addLine('connection closed', 'notice'); updateStatus(false); ws = null; };
            ws.onerror = function() { addLine('connection error', 'error'); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function joinRoom() {
            ws.send(JSON.stringify({
                type: 'JoinRoom',
                userId: document.getElementById('userId').value.trim(),
                topic: document.getElementById('topic').value.trim(),
                announce: document.getElementById('announce').checked
            }));
        }

        function sendMessage() {
            const input = document.getElementById('payload');
            ws.send(JSON.stringify({
                type: 'SendMessage',
                payload: input.value,
                retain: document.getElementById('retain').checked
            }));
            input.value = '';
        }

        document.getElementById('payload').addEventListener('keypress', function(e) {
            if (e.key === 'Enter') { sendMessage(); }
        });
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Warn("error writing HTML response", slog.String("error", err.Error()))
	}
}
