// Package session drives the life of a connection through a room: join,
// publish, re-join and disconnect.
//
// Each operation is a registry mutation followed by broadcasts. Broadcast
// failures are logged and never fail the operation; only the caller's own
// mistakes (not joined, bad input) and retained persistence failures are
// returned.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tyrowin/roomcast/internal/dispatch"
	"github.com/Tyrowin/roomcast/internal/presence"
	"github.com/Tyrowin/roomcast/internal/registry"
	"github.com/Tyrowin/roomcast/internal/retained"
	"github.com/Tyrowin/roomcast/internal/telemetry"
)

var (
	// ErrNotJoined is returned for operations that need the connection to be
	// joined to a topic.
	ErrNotJoined = errors.New("session: connection has not joined a topic")

	// ErrInvalidArgument is returned for empty or oversized identifiers.
	ErrInvalidArgument = errors.New("session: invalid argument")
)

// Broadcaster delivers events to a topic or a single connection.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, event dispatch.Event) (int, error)
	Send(ctx context.Context, connectionID string, event dispatch.Event) error
}

// RetainedStore is the retained state used by the controller.
type RetainedStore interface {
	Get(topic string) (retained.Record, bool)
	All() []retained.Record
	Upsert(ctx context.Context, rec retained.Record) error
	Clear(ctx context.Context, topic string) error
	ClearAll(ctx context.Context) error
}

// Options configures a Controller.
type Options struct {
	MaxTopicLength int // zero means unlimited
	MaxUserLength  int // zero means unlimited

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	Now     func() time.Time
}

// Controller orchestrates room membership and message flow.
type Controller struct {
	registry    *registry.Registry
	roster      *presence.Roster
	store       RetainedStore
	broadcaster Broadcaster

	maxTopicLength int
	maxUserLength  int

	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewController wires a Controller.
func NewController(reg *registry.Registry, store RetainedStore, broadcaster Broadcaster, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		registry:       reg,
		roster:         presence.NewRoster(reg),
		store:          store,
		broadcaster:    broadcaster,
		maxTopicLength: opts.MaxTopicLength,
		maxUserLength:  opts.MaxUserLength,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		now:            opts.Now,
	}
}

// Join subscribes connectionID to topic on behalf of userID.
//
// The joiner receives the topic's retained record, if any, before anything
// else. Then, unless suppressJoinNotice is set, the topic is told who joined,
// and finally everyone in the topic receives the new roster. Joining while
// subscribed elsewhere moves the connection and refreshes the topic it left.
func (c *Controller) Join(ctx context.Context, connectionID, userID, topic string, suppressJoinNotice bool) error {
	if err := c.validateJoin(connectionID, userID, topic); err != nil {
		return err
	}

	now := c.now()
	prev, replaced := c.registry.Put(registry.Subscription{
		ConnectionID: connectionID,
		UserID:       userID,
		Topic:        topic,
		JoinedAt:     now,
	})
	c.metrics.RecordJoin(ctx, !replaced)

	c.logger.Debug("connection joined",
		slog.String("connection", connectionID),
		slog.String("user", userID),
		slog.String("topic", topic))

	if replaced && prev.Topic != topic {
		c.announceLeave(ctx, prev, now)
	}

	if rec, ok := c.store.Get(topic); ok {
		if err := c.broadcaster.Send(ctx, connectionID, retainedEvent(rec)); err != nil {
			c.logger.Debug("retained replay not delivered",
				slog.String("connection", connectionID),
				slog.String("topic", topic),
				slog.String("error", err.Error()))
		}
	}

	if !suppressJoinNotice {
		c.broadcast(ctx, topic, noticeEvent(NoticeJoined, userID, topic, true, now))
	}
	c.broadcastRoster(ctx, topic)
	return nil
}

func (c *Controller) validateJoin(connectionID, userID, topic string) error {
	switch {
	case connectionID == "":
		return fmt.Errorf("%w: empty connection id", ErrInvalidArgument)
	case userID == "":
		return fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	case topic == "":
		return fmt.Errorf("%w: empty topic", ErrInvalidArgument)
	case c.maxUserLength > 0 && len(userID) > c.maxUserLength:
		return fmt.Errorf("%w: user id longer than %d bytes", ErrInvalidArgument, c.maxUserLength)
	case c.maxTopicLength > 0 && len(topic) > c.maxTopicLength:
		return fmt.Errorf("%w: topic longer than %d bytes", ErrInvalidArgument, c.maxTopicLength)
	}
	return nil
}

// Publish broadcasts payload to the caller's current topic. With retain set
// the payload also becomes the topic's retained record; an empty retained
// payload clears it. A persistence failure is returned after the broadcast
// has already happened.
func (c *Controller) Publish(ctx context.Context, connectionID string, payload []byte, retain bool, opts ...PublishOption) error {
	var po publishOptions
	for _, opt := range opts {
		opt(&po)
	}
	if !po.qos.Valid() {
		return fmt.Errorf("%w: qos %d", ErrInvalidArgument, po.qos)
	}

	sub, err := c.registry.Get(connectionID)
	if err != nil {
		c.metrics.RecordDroppedPublish(ctx)
		return fmt.Errorf("%w: %s", ErrNotJoined, connectionID)
	}

	now := c.now()
	text, encoding := retained.TextPayload(payload)
	c.broadcast(ctx, sub.Topic, receiveMessage(Message{
		Sender:      sub.UserID,
		Payload:     text,
		Encoding:    encoding,
		Topic:       sub.Topic,
		Announce:    po.announce,
		Timestamp:   now,
		ContentType: po.contentType,
		QoS:         uint8(po.qos),
	}))
	c.metrics.RecordPublish(ctx, retain)

	if !retain {
		return nil
	}
	err = c.store.Upsert(ctx, retained.Record{
		Topic:       sub.Topic,
		Payload:     payload,
		ContentType: po.contentType,
		QoS:         po.qos,
		Sender:      sub.UserID,
		LastUpdated: now,
	})
	c.metrics.RecordRetainedWrite(ctx, err)
	if err != nil {
		c.logger.Warn("retained update failed",
			slog.String("topic", sub.Topic),
			slog.String("error", err.Error()))
		return fmt.Errorf("session: retain %q: %w", sub.Topic, err)
	}
	return nil
}

// Disconnect removes the connection's subscription and tells the topic it
// left.
func (c *Controller) Disconnect(ctx context.Context, connectionID string) error {
	sub, err := c.registry.Remove(connectionID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotJoined, connectionID)
	}
	c.metrics.RecordLeave(ctx)

	c.logger.Debug("connection left",
		slog.String("connection", connectionID),
		slog.String("user", sub.UserID),
		slog.String("topic", sub.Topic))

	c.announceLeave(ctx, sub, c.now())
	return nil
}

func (c *Controller) announceLeave(ctx context.Context, sub registry.Subscription, at time.Time) {
	c.broadcast(ctx, sub.Topic, noticeEvent(NoticeLeft, sub.UserID, sub.Topic, true, at))
	c.broadcastRoster(ctx, sub.Topic)
}

func (c *Controller) broadcastRoster(ctx context.Context, topic string) {
	c.broadcast(ctx, topic, rosterEvent(topic, c.roster.For(topic)))
}

func (c *Controller) broadcast(ctx context.Context, topic string, event dispatch.Event) {
	if _, err := c.broadcaster.Publish(ctx, topic, event); err != nil {
		c.logger.Debug("broadcast incomplete",
			slog.String("topic", topic),
			slog.String("event", event.Name),
			slog.String("error", err.Error()))
	}
}

// ClearRetained removes the retained record of topic. Rosters are not
// affected.
func (c *Controller) ClearRetained(ctx context.Context, topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidArgument)
	}
	err := c.store.Clear(ctx, topic)
	c.metrics.RecordRetainedWrite(ctx, err)
	return err
}

// ClearAllRetained removes every retained record.
func (c *Controller) ClearAllRetained(ctx context.Context) error {
	err := c.store.ClearAll(ctx)
	c.metrics.RecordRetainedWrite(ctx, err)
	return err
}

// Roster returns the user IDs currently joined to topic.
func (c *Controller) Roster(topic string) []string {
	return c.roster.For(topic)
}

// CurrentTopic reports the topic connectionID is joined to.
func (c *Controller) CurrentTopic(connectionID string) (string, bool) {
	sub, err := c.registry.Get(connectionID)
	if err != nil {
		return "", false
	}
	return sub.Topic, true
}

// Retained returns every retained record ordered by topic.
func (c *Controller) Retained() []retained.Record {
	return c.store.All()
}

// OnConnectionOpened is called by the transport for every new connection.
func (c *Controller) OnConnectionOpened(_ context.Context, connectionID string) {
	c.logger.Debug("connection opened", slog.String("connection", connectionID))
}

// OnConnectionClosed is called by the transport once a connection is gone.
// Connections that never joined are ignored.
func (c *Controller) OnConnectionClosed(ctx context.Context, connectionID string) {
	err := c.Disconnect(ctx, connectionID)
	switch {
	case errors.Is(err, ErrNotJoined):
		c.logger.Debug("connection closed before joining", slog.String("connection", connectionID))
	case err != nil:
		c.logger.Warn("disconnect failed",
			slog.String("connection", connectionID),
			slog.String("error", err.Error()))
	}
}
