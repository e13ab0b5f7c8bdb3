package session

import "github.com/Tyrowin/roomcast/internal/retained"

// PublishOption customizes a Publish call.
type PublishOption func(*publishOptions)

type publishOptions struct {
	contentType string
	qos         retained.QoS
	announce    bool
}

// WithContentType tags the message, and its retained record, with a MIME
// type.
func WithContentType(contentType string) PublishOption {
	return func(o *publishOptions) { o.contentType = contentType }
}

// WithQoS records the delivery level the publisher asked for.
func WithQoS(qos retained.QoS) PublishOption {
	return func(o *publishOptions) { o.qos = qos }
}

// WithAnnounce sets the announce flag relayed to receivers.
func WithAnnounce(announce bool) PublishOption {
	return func(o *publishOptions) { o.announce = announce }
}
