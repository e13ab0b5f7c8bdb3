package session

import (
	"fmt"
	"time"

	"github.com/Tyrowin/roomcast/internal/dispatch"
	"github.com/Tyrowin/roomcast/internal/retained"
)

// NotificationSender is the sender of system notices.
const NotificationSender = "JoinRoomNotification"

// Notice kinds carried by system messages.
const (
	NoticeJoined = "joined"
	NoticeLeft   = "left"
)

// Message is the data of a ReceiveMessage event. Payload holds the published
// bytes as text; Encoding is "base64" when they were not valid UTF-8.
type Message struct {
	Sender      string    `json:"sender"`
	Payload     string    `json:"payload"`
	Encoding    string    `json:"encoding,omitempty"`
	Topic       string    `json:"topic"`
	Announce    bool      `json:"announce"`
	Timestamp   time.Time `json:"timestamp"`
	Notice      string    `json:"notice,omitempty"`
	Retained    bool      `json:"retained,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	QoS         uint8     `json:"qos,omitempty"`
}

// RosterUpdate is the data of a ConnectedUsers event.
type RosterUpdate struct {
	Topic string   `json:"topic"`
	Users []string `json:"users"`
}

func receiveMessage(m Message) dispatch.Event {
	return dispatch.Event{Name: dispatch.EventReceiveMessage, Data: m}
}

func noticeEvent(kind, userID, topic string, announce bool, at time.Time) dispatch.Event {
	verb := "joined"
	if kind == NoticeLeft {
		verb = "left"
	}
	return receiveMessage(Message{
		Sender:    NotificationSender,
		Payload:   fmt.Sprintf("%s has %s the room", userID, verb),
		Topic:     topic,
		Announce:  announce,
		Timestamp: at,
		Notice:    kind,
	})
}

func retainedEvent(rec retained.Record) dispatch.Event {
	payload, encoding := retained.TextPayload(rec.Payload)
	return receiveMessage(Message{
		Sender:      rec.Sender,
		Payload:     payload,
		Encoding:    encoding,
		Topic:       rec.Topic,
		Timestamp:   rec.LastUpdated,
		Retained:    true,
		ContentType: rec.ContentType,
		QoS:         uint8(rec.QoS),
	})
}

func rosterEvent(topic string, users []string) dispatch.Event {
	return dispatch.Event{
		Name: dispatch.EventConnectedUsers,
		Data: RosterUpdate{Topic: topic, Users: users},
	}
}
