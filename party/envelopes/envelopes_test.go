package envelopes

import (
	"errors"
	"testing"

	"mpserver/models"
)

func newState(playerIDs []string, envs []*models.Envelope) *models.SessionState {
	state := models.NewSessionState("test-session")
	for _, pid := range playerIDs {
		state.Players[pid] = &models.Player{PlayerID: pid, DisplayName: pid, Joined: true}
		state.PlayerOrder = append(state.PlayerOrder, pid)
	}
	state.Seed = &models.StorySeed{Envelopes: envs}
	return state
}

func makeEnvelopes(importance string, ids ...string) []*models.Envelope {
	out := make([]*models.Envelope, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.Envelope{ID: id, Importance: importance})
	}
	return out
}

func spread(counts map[string]int, playerIDs []string) (min, max int) {
	min, max = int(^uint(0)>>1), 0
	for _, pid := range playerIDs {
		n := counts[pid]
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	return min, max
}

func TestDistributeFairness(t *testing.T) {
	players := []string{"p1", "p2", "p3", "p4"}
	state := newState(players, makeEnvelopes("medium",
		"env1", "env2", "env3", "env4", "env5", "env6", "env7", "env8", "env9", "env10"))

	result := DistributeEquitable(state)

	if result.Assigned != 10 || result.Left != 0 {
		t.Fatalf("Assigned=%d Left=%d, want 10/0", result.Assigned, result.Left)
	}
	min, max := spread(result.PerPlayer, players)
	if max-min > 1 {
		t.Fatalf("unfair distribution: min=%d max=%d (%v)", min, max, result.PerPlayer)
	}
}

func TestDistributeIdempotent(t *testing.T) {
	players := []string{"p1", "p2", "p3"}
	state := newState(players, makeEnvelopes("medium", "env1", "env2", "env3", "env4", "env5"))

	first := DistributeEquitable(state)
	second := DistributeEquitable(state)

	if second.Assigned != 0 {
		t.Fatalf("second run assigned %d envelopes, want 0", second.Assigned)
	}
	for pid, n := range first.PerPlayer {
		if second.PerPlayer[pid] != n {
			t.Fatalf("player %s count changed across runs: %d -> %d", pid, n, second.PerPlayer[pid])
		}
	}
}

func TestDistributeTopUpStaysFair(t *testing.T) {
	players := []string{"p1", "p2", "p3", "p4"}
	state := newState(players, makeEnvelopes("medium", "env1", "env2", "env3", "env4", "env5"))

	DistributeEquitable(state)

	// 後から追加された封筒は既存の割当数が少ないプレイヤーから埋まる
	state.Seed.Envelopes = append(state.Seed.Envelopes,
		makeEnvelopes("medium", "env6", "env7", "env8")...)
	result := DistributeEquitable(state)

	if result.Assigned != 3 {
		t.Fatalf("top-up assigned %d, want 3", result.Assigned)
	}
	min, max := spread(result.PerPlayer, players)
	if min != 2 || max != 2 {
		t.Fatalf("after top-up counts should all be 2, got %v", result.PerPlayer)
	}
}

func TestFourPlayersFiveProps(t *testing.T) {
	players := []string{"p1", "p2", "p3", "p4"}
	state := newState(players, makeEnvelopes("medium", "env1", "env2", "env3", "env4", "env5"))

	result := DistributeEquitable(state)

	min, max := spread(result.PerPlayer, players)
	if min != 1 || max != 2 {
		t.Fatalf("expected counts 1..2, got %v", result.PerPlayer)
	}
	// 余りの1通はタイブレーク（参加順）で最初のプレイヤーに載る
	if result.PerPlayer["p1"] != 2 {
		t.Fatalf("extra envelope should go to earliest joiner, got %v", result.PerPlayer)
	}
}

func TestHighImportanceSpreadsAcrossPlayers(t *testing.T) {
	players := []string{"p1", "p2", "p3", "p4"}
	envs := makeEnvelopes("high", "h1", "h2", "h3", "h4")
	envs = append(envs, makeEnvelopes("low", "l1", "l2", "l3", "l4")...)
	state := newState(players, envs)

	DistributeEquitable(state)

	// 単一ヒープによる巡回なので、highの4通は4人に1通ずつ行き渡る
	highOwners := map[string]int{}
	for _, env := range state.Seed.Envelopes {
		if env.Importance == "high" {
			highOwners[env.AssignedPlayerID]++
		}
	}
	for _, pid := range players {
		if highOwners[pid] != 1 {
			t.Fatalf("player %s has %d high envelopes, want 1 (%v)", pid, highOwners[pid], highOwners)
		}
	}
}

func TestNumericAwareIDOrdering(t *testing.T) {
	cases := []struct {
		a, b string
		less bool
	}{
		{"env2", "env12", true},
		{"env12", "env2", false},
		{"env1", "env1", false},
		{"prop9", "prop10", true},
		{"alpha", "beta", true},
		{"env3", "alpha", true}, // 数字付きIDが先
	}
	for _, tc := range cases {
		if got := idLess(tc.a, tc.b); got != tc.less {
			t.Errorf("idLess(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.less)
		}
	}
}

func TestPlayerViewNumbering(t *testing.T) {
	state := newState([]string{"p1"}, makeEnvelopes("medium", "env12", "env2", "env1"))

	DistributeEquitable(state)

	refs := PlayerEnvelopes(state, "p1")
	if len(refs) != 3 {
		t.Fatalf("expected 3 envelope refs, got %d", len(refs))
	}
	wantOrder := []string{"env1", "env2", "env12"}
	for i, ref := range refs {
		if ref.Num != i+1 {
			t.Errorf("ref %d has Num=%d, want %d", i, ref.Num, i+1)
		}
		if ref.ID != wantOrder[i] {
			t.Errorf("ref %d has ID=%s, want %s", i, ref.ID, wantOrder[i])
		}
	}
}

func TestResetClearsAssignments(t *testing.T) {
	state := newState([]string{"p1", "p2"}, makeEnvelopes("medium", "env1", "env2", "env3"))
	DistributeEquitable(state)

	if n := Reset(state); n != 3 {
		t.Fatalf("Reset returned %d, want 3", n)
	}
	for _, env := range state.Seed.Envelopes {
		if env.AssignedPlayerID != "" {
			t.Fatalf("envelope %s still assigned to %s", env.ID, env.AssignedPlayerID)
		}
	}
	if refs := PlayerEnvelopes(state, "p1"); len(refs) != 0 {
		t.Fatalf("player view should be empty after reset, got %v", refs)
	}
}

func TestAssignSpecificReportsPreviousOwner(t *testing.T) {
	state := newState([]string{"p1", "p2"}, makeEnvelopes("medium", "env1"))

	first, err := AssignSpecific(state, "env1", "p1")
	if err != nil {
		t.Fatalf("AssignSpecific: %v", err)
	}
	if first.PreviousOwner != "" || first.NewOwner != "p1" {
		t.Fatalf("unexpected first assignment: %+v", first)
	}

	second, err := AssignSpecific(state, "env1", "p2")
	if err != nil {
		t.Fatalf("AssignSpecific: %v", err)
	}
	if second.PreviousOwner != "p1" || second.NewOwner != "p2" {
		t.Fatalf("unexpected reassignment: %+v", second)
	}

	if _, err := AssignSpecific(state, "missing", "p1"); !errors.Is(err, ErrEnvelopeNotFound) {
		t.Fatalf("expected ErrEnvelopeNotFound, got %v", err)
	}
}

func TestDistributeWithoutPlayersOrSeed(t *testing.T) {
	empty := newState(nil, makeEnvelopes("medium", "env1"))
	if result := DistributeEquitable(empty); result.Assigned != 0 {
		t.Fatalf("no players should mean no assignment, got %d", result.Assigned)
	}

	noSeed := models.NewSessionState("bare")
	noSeed.Players["p1"] = &models.Player{PlayerID: "p1"}
	noSeed.PlayerOrder = []string{"p1"}
	if result := DistributeEquitable(noSeed); result.Assigned != 0 {
		t.Fatalf("no seed should mean no assignment, got %d", result.Assigned)
	}
}
