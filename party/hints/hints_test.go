package hints

import (
	"errors"
	"sync"
	"testing"

	"mpserver/models"

	"go.uber.org/zap"
)

// recordingPusher は送信先ごとのメッセージを記録するテスト用Pusherです。
type recordingPusher struct {
	mu        sync.Mutex
	toPlayers map[string][]map[string]any
	broadcast []map[string]any
}

func newRecordingPusher() *recordingPusher {
	return &recordingPusher{toPlayers: map[string][]map[string]any{}}
}

func (p *recordingPusher) SendTypeToPlayer(playerID, eventType string, payload any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg, _ := payload.(map[string]any)
	p.toPlayers[playerID] = append(p.toPlayers[playerID], msg)
	return 1
}

func (p *recordingPusher) BroadcastType(eventType string, payload any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg, _ := payload.(map[string]any)
	p.broadcast = append(p.broadcast, msg)
	return 1
}

func newHintState(hintsMap map[string]string, rules map[string]string, quota int) *models.SessionState {
	state := models.NewSessionState("test-session")
	for _, pid := range []string{"p1", "p2", "p3"} {
		state.Players[pid] = &models.Player{PlayerID: pid, DisplayName: pid, Joined: true}
		state.PlayerOrder = append(state.PlayerOrder, pid)
	}
	state.Seed = &models.StorySeed{
		Rounds: []*models.RoundPlan{
			{MiniGame: "karaoke", HintPolicy: models.HintPolicy{SharingRules: rules}},
		},
		Rules: models.SeedRules{Killer: models.KillerRules{DestroyQuota: quota}},
	}
	state.PreparedRounds[1] = &models.PreparedRound{Hints: hintsMap}
	return state
}

func tierFor(t *testing.T, record *models.HintRecord, playerID string) string {
	t.Helper()
	d := record.DeliveryFor(playerID)
	if d == nil {
		t.Fatalf("no delivery recorded for %s", playerID)
	}
	return d.Tier
}

func TestDeliverSharedKeepsTierForAll(t *testing.T) {
	state := newHintState(map[string]string{"major": "M", "vague": "V"}, nil, 0)
	push := newRecordingPusher()

	record, err := Deliver(state, push, zap.NewNop(), 1, "p1", "major", true)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	for _, pid := range []string{"p1", "p2", "p3"} {
		if got := tierFor(t, record, pid); got != "major" {
			t.Fatalf("shared delivery for %s has tier %s, want major", pid, got)
		}
	}
	if len(push.toPlayers["p2"]) != 1 {
		t.Fatal("p2 did not receive a targeted hint message")
	}
	if len(push.broadcast) != 1 {
		t.Fatal("non-spoiling broadcast missing")
	}
}

func TestDeliverUnsharedDegradesOthers(t *testing.T) {
	rules := map[string]string{"discoverer_major_others": "vague"}
	state := newHintState(map[string]string{"major": "M", "vague": "V", "minor": "m"}, rules, 0)
	push := newRecordingPusher()

	record, err := Deliver(state, push, zap.NewNop(), 1, "p2", "major", false)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	// 発見者だけが元のtierを保持する
	if got := tierFor(t, record, "p2"); got != "major" {
		t.Fatalf("discoverer tier = %s, want major", got)
	}
	for _, pid := range []string{"p1", "p3"} {
		if got := tierFor(t, record, pid); got != "vague" {
			t.Fatalf("other player %s tier = %s, want vague", pid, got)
		}
	}
	if record.OtherTier != "vague" {
		t.Fatalf("record.OtherTier = %s, want vague", record.OtherTier)
	}
}

func TestFallbackChainWhenRuleTierMissing(t *testing.T) {
	// ルール表はvagueを指すが素材に無いので、フォールバック順でminorへ
	rules := map[string]string{"discoverer_major_others": "vague"}
	state := newHintState(map[string]string{"major": "M", "minor": "m"}, rules, 0)
	push := newRecordingPusher()

	record, err := Deliver(state, push, zap.NewNop(), 1, "p1", "major", false)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got := tierFor(t, record, "p2"); got != "minor" {
		t.Fatalf("fallback tier = %s, want minor", got)
	}
}

func TestFallbackToSourceTierWhenNothingElse(t *testing.T) {
	state := newHintState(map[string]string{"major": "M"}, nil, 0)
	push := newRecordingPusher()

	record, err := Deliver(state, push, zap.NewNop(), 1, "p1", "major", false)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got := tierFor(t, record, "p3"); got != "major" {
		t.Fatalf("with no degradable tier others get %s, want major", got)
	}
}

func TestDeliverValidation(t *testing.T) {
	state := newHintState(map[string]string{"major": "M"}, nil, 0)
	push := newRecordingPusher()
	logger := zap.NewNop()

	if _, err := Deliver(state, push, logger, 1, "ghost", "major", true); !errors.Is(err, ErrUnknownDiscoverer) {
		t.Fatalf("expected ErrUnknownDiscoverer, got %v", err)
	}
	if _, err := Deliver(state, push, logger, 2, "p1", "major", true); !errors.Is(err, ErrRoundNotPrepared) {
		t.Fatalf("expected ErrRoundNotPrepared, got %v", err)
	}
	if _, err := Deliver(state, push, logger, 1, "p1", "cosmic", true); !errors.Is(err, ErrTierUnavailable) {
		t.Fatalf("expected ErrTierUnavailable, got %v", err)
	}
}

func deliverN(t *testing.T, state *models.SessionState, push Pusher, n int) []*models.HintRecord {
	t.Helper()
	records := make([]*models.HintRecord, 0, n)
	for i := 0; i < n; i++ {
		record, err := Deliver(state, push, zap.NewNop(), 1, "p1", "major", true)
		if err != nil {
			t.Fatalf("Deliver %d: %v", i, err)
		}
		records = append(records, record)
	}
	return records
}

func TestDestroyRequiresCulprit(t *testing.T) {
	state := newHintState(map[string]string{"major": "M"}, nil, 0)
	push := newRecordingPusher()
	records := deliverN(t, state, push, 1)

	state.Lock()
	state.SetCulpritLocked("p2")
	state.Unlock()

	if _, err := Destroy(state, push, zap.NewNop(), records[0].HintID, "p1"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if _, err := Destroy(state, push, zap.NewNop(), records[0].HintID, "p2"); err != nil {
		t.Fatalf("culprit destroy failed: %v", err)
	}
}

func TestDestroyBeforeCanonAllowsAnyone(t *testing.T) {
	// 真相が未確定のうちは破棄者の制限はかけない
	state := newHintState(map[string]string{"major": "M"}, nil, 0)
	push := newRecordingPusher()
	records := deliverN(t, state, push, 1)

	if _, err := Destroy(state, push, zap.NewNop(), records[0].HintID, "p3"); err != nil {
		t.Fatalf("destroy before canon should succeed: %v", err)
	}
}

func TestDestroyOnlyOnce(t *testing.T) {
	state := newHintState(map[string]string{"major": "M"}, nil, 0)
	push := newRecordingPusher()
	records := deliverN(t, state, push, 1)

	if _, err := Destroy(state, push, zap.NewNop(), records[0].HintID, "p1"); err != nil {
		t.Fatalf("first destroy: %v", err)
	}
	if _, err := Destroy(state, push, zap.NewNop(), records[0].HintID, "p1"); !errors.Is(err, ErrAlreadyDestroyed) {
		t.Fatalf("expected ErrAlreadyDestroyed, got %v", err)
	}
	if state.KillerActions.DestroyUsed != 1 {
		t.Fatalf("DestroyUsed = %d, want 1", state.KillerActions.DestroyUsed)
	}
}

func TestDestroyQuota(t *testing.T) {
	state := newHintState(map[string]string{"major": "M"}, nil, 2)
	push := newRecordingPusher()
	records := deliverN(t, state, push, 3)

	state.Lock()
	state.SetCulpritLocked("p1")
	state.Unlock()

	for i := 0; i < 2; i++ {
		if _, err := Destroy(state, push, zap.NewNop(), records[i].HintID, "p1"); err != nil {
			t.Fatalf("destroy %d: %v", i, err)
		}
	}
	if _, err := Destroy(state, push, zap.NewNop(), records[2].HintID, "p1"); !errors.Is(err, ErrQuotaReached) {
		t.Fatalf("expected ErrQuotaReached, got %v", err)
	}
}

func TestDestroyUnknownHint(t *testing.T) {
	state := newHintState(map[string]string{"major": "M"}, nil, 0)
	push := newRecordingPusher()

	if _, err := Destroy(state, push, zap.NewNop(), "missing", "p1"); !errors.Is(err, ErrHintNotFound) {
		t.Fatalf("expected ErrHintNotFound, got %v", err)
	}
}

func TestHistoryUsesRecordedDeliveries(t *testing.T) {
	rules := map[string]string{"discoverer_major_others": "vague"}
	state := newHintState(map[string]string{"major": "M", "vague": "V"}, rules, 0)
	push := newRecordingPusher()

	if _, err := Deliver(state, push, zap.NewNop(), 1, "p1", "major", false); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	// 履歴は配信時の記録をそのまま返す（再導出しない）
	history := HistoryForPlayer(state, "p2")
	if len(history) != 1 || history[0].Tier != "vague" || history[0].Text != "V" {
		t.Fatalf("unexpected history for p2: %+v", history)
	}
	discoverer := HistoryForPlayer(state, "p1")
	if len(discoverer) != 1 || discoverer[0].Tier != "major" {
		t.Fatalf("unexpected history for p1: %+v", discoverer)
	}
}

func TestHistorySkipsDestroyed(t *testing.T) {
	state := newHintState(map[string]string{"major": "M"}, nil, 0)
	push := newRecordingPusher()
	records := deliverN(t, state, push, 2)

	if _, err := Destroy(state, push, zap.NewNop(), records[0].HintID, "p1"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	history := HistoryForPlayer(state, "p2")
	if len(history) != 1 {
		t.Fatalf("destroyed hint still visible, history=%d entries", len(history))
	}
}
