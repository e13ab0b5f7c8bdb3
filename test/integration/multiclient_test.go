package integration

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomcast/internal/server"
	"github.com/Tyrowin/roomcast/internal/session"
	"github.com/Tyrowin/roomcast/test/testhelpers"
)

func dialClients(t *testing.T, stack *testhelpers.Stack, n int) []*websocket.Conn {
	t.Helper()
	conns := make([]*websocket.Conn, n)
	for i := range conns {
		conns[i] = stack.Dial(t)
	}
	stack.WaitForClients(t, n)
	return conns
}

func TestConcurrentJoinsProduceFullRoster(t *testing.T) {
	const numClients = 10
	stack := testhelpers.NewStack(t, nil, nil)
	conns := dialClients(t, stack, numClients)

	var wg sync.WaitGroup
	errs := make(chan error, numClients)
	for i, conn := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- testhelpers.JoinRoom(conn, fmt.Sprintf("user-%d", i), "lobby")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Join failed: %v", err)
		}
	}

	// Whoever joined last triggered a roster with everybody in it.
	for _, conn := range conns {
		testhelpers.ReadUntilRoster(t, conn, "lobby", numClients)
	}
	if got := stack.Controller.Roster("lobby"); len(got) != numClients {
		t.Errorf("Expected %d users, got %d", numClients, len(got))
	}
}

func TestDisconnectAnnouncesLeave(t *testing.T) {
	stack := testhelpers.NewStack(t, nil, nil)
	alice := stack.Dial(t)
	bob := stack.Dial(t)

	mustJoin(t, alice, "alice", "lobby")
	testhelpers.ReadUntilRoster(t, alice, "lobby", 1)
	mustJoin(t, bob, "bob", "lobby")
	testhelpers.ReadUntilRoster(t, alice, "lobby", 2)

	if err := testhelpers.CloseWebSocket(bob); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	left := testhelpers.ReadEvent(t, alice).Message(t)
	if left.Notice != session.NoticeLeft || left.Payload != "bob has left the room" {
		t.Errorf("Unexpected leave notice %+v", left)
	}
	if roster := testhelpers.ReadEvent(t, alice).Roster(t); strings.Join(roster.Users, ",") != "alice" {
		t.Errorf("Unexpected roster %v", roster.Users)
	}
}

func TestMovingTopicsRefreshesBothRooms(t *testing.T) {
	stack := testhelpers.NewStack(t, nil, nil)
	alice := stack.Dial(t)
	bob := stack.Dial(t)

	mustJoin(t, alice, "alice", "lobby")
	testhelpers.ReadUntilRoster(t, alice, "lobby", 1)
	mustJoin(t, bob, "bob", "lobby")
	testhelpers.ReadUntilRoster(t, bob, "lobby", 2)
	testhelpers.ReadUntilRoster(t, alice, "lobby", 2)

	mustJoin(t, alice, "alice", "garden")
	testhelpers.ReadUntilRoster(t, alice, "garden", 1)

	roster := testhelpers.ReadUntilRoster(t, bob, "lobby", 1)
	if roster.Users[0] != "bob" {
		t.Errorf("Unexpected lobby roster %v", roster.Users)
	}
}

func TestSameUserTwoConnections(t *testing.T) {
	stack := testhelpers.NewStack(t, nil, nil)
	tab1 := stack.Dial(t)
	tab2 := stack.Dial(t)

	mustJoin(t, tab1, "alice", "lobby")
	testhelpers.ReadUntilRoster(t, tab1, "lobby", 1)
	mustJoin(t, tab2, "alice", "lobby")

	roster := testhelpers.ReadUntilRoster(t, tab2, "lobby", 2)
	if strings.Join(roster.Users, ",") != "alice,alice" {
		t.Errorf("Expected one entry per connection, got %v", roster.Users)
	}
}

func TestRapidMessageExchange(t *testing.T) {
	const (
		numClients        = 3
		messagesPerClient = 5
	)
	stack := testhelpers.NewStack(t, nil, func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: 50, RefillInterval: time.Second}
	})
	conns := dialClients(t, stack, numClients)

	for i, conn := range conns {
		mustJoin(t, conn, fmt.Sprintf("user-%d", i), "lobby")
	}
	for _, conn := range conns {
		testhelpers.ReadUntilRoster(t, conn, "lobby", numClients)
	}

	for i, conn := range conns {
		for j := 0; j < messagesPerClient; j++ {
			mustSend(t, conn, fmt.Sprintf("user-%d:%d", i, j), false)
		}
	}

	total := numClients * messagesPerClient
	for i, conn := range conns {
		seen := make(map[string]bool, total)
		for len(seen) < total {
			seen[testhelpers.ReadUntilMessage(t, conn).Payload] = true
		}
		for sender := 0; sender < numClients; sender++ {
			if !seen[fmt.Sprintf("user-%d:%d", sender, messagesPerClient-1)] {
				t.Errorf("Client %d missed messages from user-%d", i, sender)
			}
		}
	}
}

func TestClientsLeavingAndJoining(t *testing.T) {
	stack := testhelpers.NewStack(t, nil, nil)
	conns := dialClients(t, stack, 3)

	for i, conn := range conns {
		mustJoin(t, conn, fmt.Sprintf("user-%d", i), "lobby")
		testhelpers.ReadUntilRoster(t, conn, "lobby", i+1)
	}

	_ = conns[1].Close()
	testhelpers.ReadUntilRoster(t, conns[0], "lobby", 2)

	late := stack.Dial(t)
	mustJoin(t, late, "late", "lobby")
	roster := testhelpers.ReadUntilRoster(t, late, "lobby", 3)
	if strings.Join(roster.Users, ",") != "user-0,user-2,late" {
		t.Errorf("Unexpected roster %v", roster.Users)
	}
}
