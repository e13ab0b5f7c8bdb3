// Package dispatch fans events out to every connection subscribed to a topic.
//
// Delivery is best effort and at most once. A recipient that cannot accept
// an event is reported in the returned error but never stops delivery to
// the others, and nothing is retried.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomcast/internal/registry"
	"github.com/Tyrowin/roomcast/internal/telemetry"
)

// Event names understood by clients.
const (
	EventReceiveMessage = "ReceiveMessage"
	EventConnectedUsers = "ConnectedUsers"
)

// ErrDispatch is wrapped by every delivery failure.
var ErrDispatch = errors.New("dispatch: delivery failed")

// Event is one outbound frame.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Transport delivers an event to a single connection. Implementations must
// not block on a slow peer.
type Transport interface {
	SendToConnection(ctx context.Context, connectionID string, event Event) error
}

// Lister is the read side of the registry used to pick recipients.
type Lister interface {
	ListByTopic(topic string) []registry.Subscription
}

// DeliveryFailure records one recipient that did not accept an event.
type DeliveryFailure struct {
	ConnectionID string
	Err          error
}

// DispatchError aggregates the failed deliveries of one Publish.
type DispatchError struct {
	Topic    string
	Event    string
	Failures []DeliveryFailure
}

func (e *DispatchError) Error() string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.ConnectionID
	}
	return fmt.Sprintf("dispatch: %s to %q failed for %d connection(s): %s",
		e.Event, e.Topic, len(e.Failures), strings.Join(ids, ", "))
}

// Unwrap exposes ErrDispatch and every per-recipient error.
func (e *DispatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return []error{ErrDispatch, errors.Join(errs...)}
}

// Options configures a Dispatcher.
type Options struct {
	// Concurrency bounds the goroutines delivering one Publish. Values below
	// one deliver sequentially.
	Concurrency int

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Dispatcher delivers events through a Transport.
type Dispatcher struct {
	subs        Lister
	transport   Transport
	concurrency int
	logger      *slog.Logger
	metrics     *telemetry.Metrics
}

// New returns a Dispatcher choosing recipients from subs.
func New(subs Lister, transport Transport, opts Options) *Dispatcher {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		subs:        subs,
		transport:   transport,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Publish sends event to every connection subscribed to topic at the moment
// of the call and returns how many accepted it. Connections joining
// concurrently may or may not be included.
func (d *Dispatcher) Publish(ctx context.Context, topic string, event Event) (int, error) {
	recipients := d.subs.ListByTopic(topic)
	if len(recipients) == 0 {
		return 0, nil
	}

	var (
		mu       sync.Mutex
		failures []DeliveryFailure
	)
	deliver := func(connectionID string) {
		if err := d.transport.SendToConnection(ctx, connectionID, event); err != nil {
			mu.Lock()
			failures = append(failures, DeliveryFailure{ConnectionID: connectionID, Err: err})
			mu.Unlock()
		}
	}

	if d.concurrency == 1 || len(recipients) == 1 {
		for _, sub := range recipients {
			deliver(sub.ConnectionID)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(d.concurrency)
		for _, sub := range recipients {
			connectionID := sub.ConnectionID
			g.Go(func() error {
				deliver(connectionID)
				return nil
			})
		}
		_ = g.Wait()
	}

	delivered := len(recipients) - len(failures)
	d.metrics.RecordDeliveries(ctx, event.Name, delivered, len(failures))

	if len(failures) == 0 {
		return delivered, nil
	}

	sort.Slice(failures, func(i, j int) bool { return failures[i].ConnectionID < failures[j].ConnectionID })
	d.logger.Debug("broadcast partially failed",
		slog.String("topic", topic),
		slog.String("event", event.Name),
		slog.Int("delivered", delivered),
		slog.Int("failed", len(failures)))
	return delivered, &DispatchError{Topic: topic, Event: event.Name, Failures: failures}
}

// Send delivers event to one connection.
func (d *Dispatcher) Send(ctx context.Context, connectionID string, event Event) error {
	if err := d.transport.SendToConnection(ctx, connectionID, event); err != nil {
		d.metrics.RecordDeliveries(ctx, event.Name, 0, 1)
		return fmt.Errorf("%w: %s to %s: %w", ErrDispatch, event.Name, connectionID, err)
	}
	d.metrics.RecordDeliveries(ctx, event.Name, 1, 0)
	return nil
}
