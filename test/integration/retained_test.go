package integration

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Tyrowin/roomcast/internal/storage"
	"github.com/Tyrowin/roomcast/test/testhelpers"
)

// retainAndRestart publishes a retained message on one server, then starts a
// second server over a fresh backend on the same medium and checks a new
// joiner receives it.
func retainAndRestart(t *testing.T, open func(t *testing.T) storage.Backend, closeBackend func(storage.Backend)) {
	t.Helper()

	first := open(t)
	stack := testhelpers.NewStack(t, first, nil)
	bob := stack.Dial(t)
	mustJoin(t, bob, "bob", "lobby")
	testhelpers.ReadUntilRoster(t, bob, "lobby", 1)
	mustSend(t, bob, "hi", true)
	stack.WaitForRetained(t, "lobby")
	if err := stack.Hub.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	closeBackend(first)

	second := open(t)
	t.Cleanup(func() { closeBackend(second) })
	restarted := testhelpers.NewStack(t, second, nil)
	carol := restarted.Dial(t)
	mustJoin(t, carol, "carol", "lobby")

	replay := testhelpers.ReadEvent(t, carol).Message(t)
	if !replay.Retained || replay.Payload != "hi" || replay.Sender != "bob" || replay.Topic != "lobby" {
		t.Errorf("Unexpected replay after restart %+v", replay)
	}
}

func TestRetainedSurvivesRestartOnFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retained.json")
	retainAndRestart(t, func(t *testing.T) storage.Backend {
		backend, err := storage.NewFile(path)
		if err != nil {
			t.Fatalf("NewFile failed: %v", err)
		}
		return backend
	}, func(storage.Backend) {})
}

func TestRetainedSurvivesRestartOnBadger(t *testing.T) {
	dir := t.TempDir()
	retainAndRestart(t, func(t *testing.T) storage.Backend {
		backend, err := storage.OpenBadger(storage.BadgerOptions{Dir: dir, Name: "retained"})
		if err != nil {
			t.Fatalf("OpenBadger failed: %v", err)
		}
		return backend
	}, func(b storage.Backend) {
		_ = b.(*storage.Badger).Close()
	})
}

func TestClearedRetainedIsNotReplayed(t *testing.T) {
	stack := testhelpers.NewStack(t, nil, nil)
	bob := stack.Dial(t)
	mustJoin(t, bob, "bob", "lobby")
	testhelpers.ReadUntilRoster(t, bob, "lobby", 1)
	mustSend(t, bob, "hi", true)
	stack.WaitForRetained(t, "lobby")

	// An empty retained payload clears the record.
	mustSend(t, bob, "", true)
	deadline := time.Now().Add(testhelpers.DefaultTimeout)
	for {
		if _, ok := stack.Store.Get("lobby"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Retained record was not cleared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	carol := stack.Dial(t)
	mustJoin(t, carol, "carol", "lobby")
	if first := testhelpers.ReadEvent(t, carol).Message(t); first.Retained {
		t.Errorf("Cleared record was replayed: %+v", first)
	}
}
