package integration

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/roomcast/internal/server"
	"github.com/Tyrowin/roomcast/test/testhelpers"
)

func TestGracefulShutdown(t *testing.T) {
	hub := server.NewHub(nil, slog.New(slog.DiscardHandler))
	go hub.Run()

	if err := hub.Shutdown(5 * time.Second); err != nil {
		t.Errorf("Hub shutdown failed: %v", err)
	}
}

func TestGracefulShutdownWithClients(t *testing.T) {
	const numClients = 5
	stack := testhelpers.NewStack(t, nil, nil)
	clients := dialClients(t, stack, numClients)
	for _, conn := range clients[:2] {
		mustJoin(t, conn, "user", "lobby")
	}
	testhelpers.ReadUntilRoster(t, clients[1], "lobby", 2)

	if err := stack.Hub.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Hub shutdown failed: %v", err)
	}

	for i, conn := range clients {
		if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			t.Fatalf("Failed to set read deadline: %v", err)
		}
		for {
			_, _, err := conn.ReadMessage()
			if err == nil {
				continue
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Errorf("Client %d still connected after shutdown", i)
			}
			break
		}
	}

	if got := stack.Hub.ClientCount(); got != 0 {
		t.Errorf("Expected no registered clients, got %d", got)
	}
	if got := stack.Registry.Len(); got != 0 {
		t.Errorf("Expected no subscriptions after shutdown, got %d", got)
	}
}

func TestHTTPServerShutdown(t *testing.T) {
	stack := testhelpers.NewStack(t, nil, nil)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	httpServer := server.CreateServer(listener.Addr().String(), server.SetupRoutes(stack.Hub, stack.Controller))

	served := make(chan error, 1)
	go func() { served <- httpServer.Serve(listener) }()

	resp := testhelpers.MakeRequest(t, http.MethodGet, "http://"+listener.Addr().String()+"/")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	if err := server.ShutdownServer(httpServer, 5*time.Second); err != nil {
		t.Fatalf("ShutdownServer failed: %v", err)
	}
	select {
	case err := <-served:
		if !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("Expected http.ErrServerClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
}

func TestConcurrentShutdown(t *testing.T) {
	hub := server.NewHub(nil, slog.New(slog.DiscardHandler))
	go hub.Run()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hub.Shutdown(2 * time.Second); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("Unexpected shutdown error: %v", err)
			}
		}()
	}
	wg.Wait()
}
