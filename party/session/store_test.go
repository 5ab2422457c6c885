package session

import (
	"strings"
	"testing"

	"go.uber.org/zap"
)

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(payload any) int { return 0 }

func newTestStore() *Store {
	return NewStore(nil, nopBroadcaster{}, nil, zap.NewNop())
}

func TestGetCreatesAndCaches(t *testing.T) {
	store := newTestStore()

	first := store.Get("s1")
	second := store.Get("s1")
	if first != second {
		t.Fatal("Get should return the same state instance for the same session")
	}
	if first.SessionID != "s1" {
		t.Fatalf("SessionID = %s, want s1", first.SessionID)
	}
}

func TestCreateAssignsJoinCode(t *testing.T) {
	store := newTestStore()

	state := store.Create("")
	if state.SessionID == "" {
		t.Fatal("Create should generate a session id")
	}
	if len(state.JoinCode) != joinCodeLength {
		t.Fatalf("join code %q has length %d, want %d", state.JoinCode, len(state.JoinCode), joinCodeLength)
	}
	for _, r := range state.JoinCode {
		if !strings.ContainsRune(joinCodeAlphabet, r) {
			t.Fatalf("join code %q contains invalid character %q", state.JoinCode, r)
		}
	}
}

func TestFindByJoinCodeIsCaseInsensitive(t *testing.T) {
	store := newTestStore()
	state := store.Create("s1")

	found, ok := store.FindByJoinCode(strings.ToLower(state.JoinCode))
	if !ok || found != state {
		t.Fatal("FindByJoinCode should match case-insensitively")
	}
	if _, ok := store.FindByJoinCode("NOPE99"); ok {
		t.Fatal("unknown join code should not match")
	}
}

func TestFindByPlayer(t *testing.T) {
	store := newTestStore()
	state := store.Create("s1")
	store.Create("s2")

	state.Lock()
	player := state.AddPlayerLocked("Alice")
	state.Unlock()

	found, ok := store.FindByPlayer(player.PlayerID)
	if !ok || found != state {
		t.Fatal("FindByPlayer should locate the session containing the player")
	}
	if _, ok := store.FindByPlayer("ghost"); ok {
		t.Fatal("unknown player should not match")
	}
}

func TestEngineIsLazySingleton(t *testing.T) {
	store := newTestStore()
	store.Create("s1")

	first := store.Engine("s1")
	second := store.Engine("s1")
	if first != second {
		t.Fatal("Engine should return the same instance per session")
	}
}

func TestDropDetachesSession(t *testing.T) {
	store := newTestStore()
	before := store.Create("s1")
	store.Engine("s1")

	store.Drop("s1")

	after := store.Get("s1")
	if after == before {
		t.Fatal("Get after Drop should build a fresh state")
	}
	if got := len(store.SessionIDs()); got != 1 {
		t.Fatalf("SessionIDs length = %d, want 1", got)
	}
}
