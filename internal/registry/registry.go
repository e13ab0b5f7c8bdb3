// Package registry tracks which connection is subscribed to which topic.
//
// The Registry is the single source of truth for room membership. Every
// handler goroutine in the server reads and mutates it concurrently, so all
// operations are linearizable and no I/O ever happens under its lock.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a connection has no subscription.
var ErrNotFound = errors.New("registry: subscription not found")

// Subscription binds one connection to one topic on behalf of a user.
type Subscription struct {
	ConnectionID string
	UserID       string
	Topic        string
	JoinedAt     time.Time
}

// Registry is a concurrency-safe map from connection ID to Subscription.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]Subscription
	now  func() time.Time
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		subs: make(map[string]Subscription),
		now:  time.Now,
	}
}

// Put inserts or replaces the subscription for sub.ConnectionID. Replacing is
// how a connection re-joins a different topic and is never an error. The
// previous subscription, if any, is returned so callers can refresh the topic
// it vacated. Re-joining the same topic keeps the original JoinedAt, so the
// connection keeps its place in ListByTopic.
func (r *Registry) Put(sub Subscription) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, replaced := r.subs[sub.ConnectionID]
	switch {
	case replaced && prev.Topic == sub.Topic:
		sub.JoinedAt = prev.JoinedAt
	case sub.JoinedAt.IsZero():
		sub.JoinedAt = r.now()
	}
	r.subs[sub.ConnectionID] = sub
	return prev, replaced
}

// Get returns the subscription held by connectionID.
func (r *Registry) Get(connectionID string) (Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[connectionID]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return sub, nil
}

// Remove deletes and returns the subscription held by connectionID.
func (r *Registry) Remove(connectionID string) (Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[connectionID]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	delete(r.subs, connectionID)
	return sub, nil
}

// ListByTopic returns a point-in-time snapshot of every subscription to
// topic. The result is ordered by join time, then connection ID.
func (r *Registry) ListByTopic(topic string) []Subscription {
	r.mu.RLock()
	out := make([]Subscription, 0, 8)
	for _, sub := range r.subs {
		if sub.Topic == topic {
			out = append(out, sub)
		}
	}
	r.mu.RUnlock()

	sortSubscriptions(out)
	return out
}

// Topics returns every topic with at least one subscriber, sorted.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	seen := make(map[string]struct{})
	for _, sub := range r.subs {
		seen[sub.Topic] = struct{}{}
	}
	r.mu.RUnlock()

	topics := make([]string, 0, len(seen))
	for topic := range seen {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Len reports the number of subscribed connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func sortSubscriptions(subs []Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].JoinedAt.Equal(subs[j].JoinedAt) {
			return subs[i].JoinedAt.Before(subs[j].JoinedAt)
		}
		return subs[i].ConnectionID < subs[j].ConnectionID
	})
}
