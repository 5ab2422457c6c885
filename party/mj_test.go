package party

import (
	"sync"
	"testing"

	"mpserver/models"

	"go.uber.org/zap"
)

// fakePusher は全体配信と個別配信の両方を記録します。
type fakePusher struct {
	mu        sync.Mutex
	broadcast []map[string]any
	toPlayers map[string][]map[string]any
}

func newFakePusher() *fakePusher {
	return &fakePusher{toPlayers: map[string][]map[string]any{}}
}

func (p *fakePusher) Broadcast(payload any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if msg, ok := payload.(map[string]any); ok {
		p.broadcast = append(p.broadcast, msg)
	}
	return 1
}

func (p *fakePusher) SendToPlayer(playerID string, payload any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if msg, ok := payload.(map[string]any); ok {
		p.toPlayers[playerID] = append(p.toPlayers[playerID], msg)
	}
	return 1
}

func (p *fakePusher) phaseBroadcasts(phase string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, msg := range p.broadcast {
		if msg["kind"] == "phase_change" && msg["phase"] == phase {
			n++
		}
	}
	return n
}

func (p *fakePusher) playerMessages(playerID, msgType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, msg := range p.toPlayers[playerID] {
		if msg["type"] == msgType {
			n++
		}
	}
	return n
}

func newPartyState(playerIDs []string) *models.SessionState {
	state := models.NewSessionState("test-session")
	for _, pid := range playerIDs {
		state.Players[pid] = &models.Player{PlayerID: pid, DisplayName: pid, Joined: true}
		state.PlayerOrder = append(state.PlayerOrder, pid)
	}
	return state
}

func TestStartPartyMovesToWaitingPlayers(t *testing.T) {
	state := newPartyState(nil)
	push := newFakePusher()

	result := StartParty(state, push, zap.NewNop())

	if result.Phase != models.PhaseWaitingPlayers {
		t.Fatalf("phase = %s, want WAITING_PLAYERS", result.Phase)
	}
	if state.PhaseLabel() != models.PhaseWaitingPlayers {
		t.Fatalf("state phase = %s, want WAITING_PLAYERS", state.PhaseLabel())
	}
	if push.phaseBroadcasts(models.PhaseWaitingPlayers) != 1 {
		t.Fatal("phase_change broadcast missing")
	}
}

func TestPlayersReadyRequiresPlayers(t *testing.T) {
	state := newPartyState(nil)
	push := newFakePusher()

	if _, ok := PlayersReady(state, push, zap.NewNop()); ok {
		t.Fatal("PlayersReady with no players should refuse")
	}
	if state.PhaseLabel() == models.PhaseEnvelopesDistribution {
		t.Fatal("phase must not advance without players")
	}
}

func TestPlayersReadyDistributesEnvelopes(t *testing.T) {
	state := newPartyState([]string{"p1", "p2", "p3"})
	state.Seed = &models.StorySeed{
		Envelopes: []*models.Envelope{
			{ID: "env1", Importance: "high"},
			{ID: "env2", Importance: "medium"},
			{ID: "env3", Importance: "low"},
			{ID: "env4", Importance: "medium"},
			{ID: "env5", Importance: "low"},
			{ID: "env6", Importance: "high"},
		},
	}
	push := newFakePusher()

	result, ok := PlayersReady(state, push, zap.NewNop())
	if !ok {
		t.Fatal("PlayersReady refused with players present")
	}
	if result.Phase != models.PhaseEnvelopesDistribution {
		t.Fatalf("phase = %s, want ENVELOPES_DISTRIBUTION", result.Phase)
	}
	if result.AssignedEnvelopes == nil || result.AssignedEnvelopes.Assigned != 6 {
		t.Fatalf("unexpected distribution result: %+v", result.AssignedEnvelopes)
	}
	// 3人に2通ずつ行き渡り、各自に隠し場所リストが届く
	for _, pid := range []string{"p1", "p2", "p3"} {
		if result.AssignedEnvelopes.PerPlayer[pid] != 2 {
			t.Fatalf("player %s got %d envelopes, want 2", pid, result.AssignedEnvelopes.PerPlayer[pid])
		}
		if push.playerMessages(pid, "envelopes_to_hide") != 1 {
			t.Fatalf("player %s did not receive envelopes_to_hide", pid)
		}
	}
}

func TestEnvelopesDoneAssignsCharacters(t *testing.T) {
	state := newPartyState([]string{"p1", "p2"})
	state.Seed = &models.StorySeed{
		Characters: []*models.Character{
			{ID: "c1", Name: "La Comtesse"},
			{ID: "c2", Name: "Le Majordome"},
			{ID: "c3", Name: "Le Jardinier"},
		},
	}
	push := newFakePusher()

	result := EnvelopesDone(state, push, zap.NewNop())

	if result.Phase != models.PhaseSessionActive {
		t.Fatalf("phase = %s, want SESSION_ACTIVE", result.Phase)
	}
	if len(result.AssignedRoles) != 2 {
		t.Fatalf("assigned %d characters, want 2", len(result.AssignedRoles))
	}
	seen := map[string]bool{}
	for _, pid := range []string{"p1", "p2"} {
		char := state.Players[pid].Character
		if char == "" {
			t.Fatalf("player %s has no character", pid)
		}
		if seen[char] {
			t.Fatalf("character %s assigned twice", char)
		}
		seen[char] = true
		if push.playerMessages(pid, "character_assigned") != 1 {
			t.Fatalf("player %s did not receive character_assigned", pid)
		}
	}
	if push.phaseBroadcasts(models.PhaseRolesAssigned) != 1 || push.phaseBroadcasts(models.PhaseSessionActive) != 1 {
		t.Fatal("phase_change broadcasts missing")
	}
}

func TestEnvelopesDoneKeepsExistingCharacters(t *testing.T) {
	state := newPartyState([]string{"p1", "p2"})
	state.Players["p1"].Character = "La Comtesse"
	state.Seed = &models.StorySeed{
		Characters: []*models.Character{{ID: "c2", Name: "Le Majordome"}},
	}
	push := newFakePusher()

	result := EnvelopesDone(state, push, zap.NewNop())

	if _, ok := result.AssignedRoles["p1"]; ok {
		t.Fatal("player with an existing character must not be reassigned")
	}
	if state.Players["p1"].Character != "La Comtesse" {
		t.Fatal("existing character was overwritten")
	}
}
