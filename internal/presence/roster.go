// Package presence derives room rosters from the connection registry.
package presence

import "github.com/Tyrowin/roomcast/internal/registry"

// Lister is the read side of the registry used to compute rosters.
type Lister interface {
	ListByTopic(topic string) []registry.Subscription
}

// Roster computes who is in a topic. It holds no state of its own: every
// call reads the registry, so a roster can never drift from membership.
type Roster struct {
	subs Lister
}

// NewRoster returns a Roster reading from subs.
func NewRoster(subs Lister) *Roster {
	return &Roster{subs: subs}
}

// For returns one user ID per connection joined to topic. A user holding
// several connections to the same topic appears once per connection.
func (r *Roster) For(topic string) []string {
	subs := r.subs.ListByTopic(topic)
	users := make([]string, 0, len(subs))
	for _, sub := range subs {
		users = append(users, sub.UserID)
	}
	return users
}
