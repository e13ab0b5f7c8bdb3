package retained

import (
	"encoding/base64"
	"fmt"
	"time"
	"unicode/utf8"
)

// QoS is the delivery level the publisher asked for. It is stored and
// replayed with the record; delivery itself is always best effort.
type QoS uint8

const (
	AtMostOnce QoS = iota
	AtLeastOnce
	ExactlyOnce
)

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at_most_once"
	case AtLeastOnce:
		return "at_least_once"
	case ExactlyOnce:
		return "exactly_once"
	default:
		return fmt.Sprintf("qos(%d)", uint8(q))
	}
}

// Valid reports whether q is one of the defined levels.
func (q QoS) Valid() bool {
	return q <= ExactlyOnce
}

// Record is the last retained value published to a topic.
type Record struct {
	Topic       string    `json:"topic" msgpack:"topic"`
	Payload     []byte    `json:"payload" msgpack:"payload"`
	ContentType string    `json:"content_type,omitempty" msgpack:"content_type,omitempty"`
	QoS         QoS       `json:"qos" msgpack:"qos"`
	Sender      string    `json:"sender,omitempty" msgpack:"sender,omitempty"`
	LastUpdated time.Time `json:"last_updated" msgpack:"last_updated"`
}

func (r Record) clone() Record {
	r.Payload = append([]byte(nil), r.Payload...)
	return r
}

// EncodingBase64 marks a payload rendered as standard base64 because its
// bytes are not valid UTF-8.
const EncodingBase64 = "base64"

// TextPayload renders payload for a JSON string field. Valid UTF-8 is
// returned as is with an empty encoding; anything else is base64 encoded and
// reported as EncodingBase64 so no bytes are lost.
func TextPayload(payload []byte) (text, encoding string) {
	if utf8.Valid(payload) {
		return string(payload), ""
	}
	return base64.StdEncoding.EncodeToString(payload), EncodingBase64
}
