package registry_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/roomcast/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_PutGet(t *testing.T) {
	r := registry.New()

	_, replaced := r.Put(registry.Subscription{ConnectionID: "c1", UserID: "alice", Topic: "lobby"})
	assert.False(t, replaced)

	sub, err := r.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, "alice", sub.UserID)
	assert.Equal(t, "lobby", sub.Topic)
	assert.False(t, sub.JoinedAt.IsZero())
}

func TestRegistry_PutReplacesPreviousTopic(t *testing.T) {
	r := registry.New()

	r.Put(registry.Subscription{ConnectionID: "c1", UserID: "alice", Topic: "lobby"})
	prev, replaced := r.Put(registry.Subscription{ConnectionID: "c1", UserID: "alice", Topic: "kitchen"})

	assert.True(t, replaced)
	assert.Equal(t, "lobby", prev.Topic)
	assert.Empty(t, r.ListByTopic("lobby"))
	assert.Len(t, r.ListByTopic("kitchen"), 1)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := registry.New()

	_, err := r.Get("ghost")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRegistry_Remove(t *testing.T) {
	r := registry.New()
	r.Put(registry.Subscription{ConnectionID: "c1", UserID: "alice", Topic: "lobby"})

	sub, err := r.Remove("c1")
	require.NoError(t, err)
	assert.Equal(t, "lobby", sub.Topic)

	_, err = r.Remove("c1")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ListByTopicOrdersByJoinTime(t *testing.T) {
	r := registry.New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	r.Put(registry.Subscription{ConnectionID: "c3", UserID: "carol", Topic: "lobby", JoinedAt: base.Add(2 * time.Second)})
	r.Put(registry.Subscription{ConnectionID: "c1", UserID: "alice", Topic: "lobby", JoinedAt: base})
	r.Put(registry.Subscription{ConnectionID: "c2", UserID: "bob", Topic: "lobby", JoinedAt: base.Add(time.Second)})
	r.Put(registry.Subscription{ConnectionID: "c4", UserID: "dave", Topic: "other", JoinedAt: base})

	subs := r.ListByTopic("lobby")
	require.Len(t, subs, 3)
	assert.Equal(t, "c1", subs[0].ConnectionID)
	assert.Equal(t, "c2", subs[1].ConnectionID)
	assert.Equal(t, "c3", subs[2].ConnectionID)
}

func TestRegistry_RejoinSameTopicKeepsPlace(t *testing.T) {
	r := registry.New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	r.Put(registry.Subscription{ConnectionID: "c1", UserID: "alice", Topic: "lobby", JoinedAt: base})
	r.Put(registry.Subscription{ConnectionID: "c2", UserID: "bob", Topic: "lobby", JoinedAt: base.Add(time.Second)})
	prev, replaced := r.Put(registry.Subscription{ConnectionID: "c1", UserID: "alice", Topic: "lobby", JoinedAt: base.Add(time.Minute)})

	assert.True(t, replaced)
	assert.Equal(t, base, prev.JoinedAt)
	subs := r.ListByTopic("lobby")
	require.Len(t, subs, 2)
	assert.Equal(t, "c1", subs[0].ConnectionID)
	assert.Equal(t, base, subs[0].JoinedAt)

	// Moving to another topic starts a fresh membership.
	r.Put(registry.Subscription{ConnectionID: "c1", UserID: "alice", Topic: "kitchen", JoinedAt: base.Add(time.Hour)})
	sub, err := r.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour), sub.JoinedAt)
}

func TestRegistry_Topics(t *testing.T) {
	r := registry.New()
	r.Put(registry.Subscription{ConnectionID: "c1", UserID: "alice", Topic: "b"})
	r.Put(registry.Subscription{ConnectionID: "c2", UserID: "bob", Topic: "a"})
	r.Put(registry.Subscription{ConnectionID: "c3", UserID: "carol", Topic: "b"})

	assert.Equal(t, []string{"a", "b"}, r.Topics())
}

func TestRegistry_ConcurrentPutRemove(t *testing.T) {
	r := registry.New()
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Put(registry.Subscription{ConnectionID: id, UserID: id, Topic: "lobby"})
			_ = r.ListByTopic("lobby")
			if i%2 == 0 {
				_, _ = r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.ListByTopic("lobby"), n/2)
}
