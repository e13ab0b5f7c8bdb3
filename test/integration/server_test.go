// Package integration contains end-to-end tests for the roomcast server.
//
// These tests assemble the real registry, retained store, dispatcher, session
// controller and hub behind an HTTP server and drive them over WebSocket
// connections and the admin HTTP API.
package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Tyrowin/roomcast/internal/server"
	"github.com/Tyrowin/roomcast/test/testhelpers"
)

func TestHealthEndpointIntegration(t *testing.T) {
	stack := testhelpers.NewStack(t, nil, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, stack.Server.URL+"/")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/plain")

	resp = testhelpers.MakeRequest(t, http.MethodGet, stack.Server.URL+"/test")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/html")
}

func TestServerTimeouts(t *testing.T) {
	testMux := http.NewServeMux()
	testMux.HandleFunc("/slow", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	srv := server.CreateServer(":0", testMux)
	testServer := httptest.NewUnstartedServer(testMux)
	testServer.Config = srv
	testServer.Start()
	defer testServer.Close()

	resp := testhelpers.MakeRequest(t, http.MethodGet, testServer.URL+"/slow")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
}

func TestAdminAPI(t *testing.T) {
	stack := testhelpers.NewStack(t, nil, nil)

	alice := stack.Dial(t)
	bob := stack.Dial(t)
	if err := testhelpers.JoinRoom(alice, "alice", "lobby"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	testhelpers.ReadUntilRoster(t, alice, "lobby", 1)
	if err := testhelpers.JoinRoom(bob, "bob", "lobby"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	testhelpers.ReadUntilRoster(t, bob, "lobby", 2)

	if err := testhelpers.SendMessage(bob, "hi", true); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	testhelpers.ReadUntilMessage(t, bob)
	stack.WaitForRetained(t, "lobby")

	t.Run("roster", func(t *testing.T) {
		resp := testhelpers.MakeRequest(t, http.MethodGet, stack.Server.URL+"/rooms/lobby/users")
		testhelpers.AssertStatusCode(t, resp, http.StatusOK)
		testhelpers.AssertContentType(t, resp, "application/json")

		var roster server.RosterView
		if err := json.NewDecoder(resp.Body).Decode(&roster); err != nil {
			t.Fatalf("Failed to decode roster: %v", err)
		}
		if len(roster.Users) != 2 || roster.Users[0] != "alice" || roster.Users[1] != "bob" {
			t.Errorf("Unexpected roster %+v", roster)
		}
	})

	t.Run("retained list", func(t *testing.T) {
		resp := testhelpers.MakeRequest(t, http.MethodGet, stack.Server.URL+"/retained")
		testhelpers.AssertStatusCode(t, resp, http.StatusOK)

		var records []server.RetainedView
		if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
			t.Fatalf("Failed to decode records: %v", err)
		}
		if len(records) != 1 || records[0].Topic != "lobby" || records[0].Payload != "hi" || records[0].Sender != "bob" {
			t.Errorf("Unexpected records %+v", records)
		}
	})

	t.Run("retained clear", func(t *testing.T) {
		resp := testhelpers.MakeRequest(t, http.MethodDelete, stack.Server.URL+"/retained/lobby")
		testhelpers.AssertStatusCode(t, resp, http.StatusNoContent)

		if _, ok := stack.Store.Get("lobby"); ok {
			t.Error("Expected lobby record to be cleared")
		}
		if got := stack.Controller.Roster("lobby"); len(got) != 2 {
			t.Errorf("Clearing retained state changed the roster: %v", got)
		}
	})
}
