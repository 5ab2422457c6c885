package party

import (
	"mpserver/models"
	"mpserver/party/envelopes"

	"go.uber.org/zap"
)

// Pusher はマクロフェーズ進行が必要とする送信インターフェースです。
type Pusher interface {
	Broadcast(payload any) int
	SendToPlayer(playerID string, payload any) int
}

// PhaseResult はマクロフェーズ操作の結果です。
type PhaseResult struct {
	Phase             string                        `json:"phase"`
	AssignedEnvelopes *envelopes.DistributionResult `json:"assigned_envelopes,omitempty"`
	AssignedRoles     map[string]map[string]string  `json:"assigned_roles,omitempty"`
}

// broadcastPhase はフェーズ変更イベントを告知します。
func broadcastPhase(push Pusher, phase, text string) {
	push.Broadcast(map[string]any{
		"type":  "event",
		"kind":  "phase_change",
		"phase": phase,
		"text":  text,
	})
}

// StartParty はパーティを開始し、プレイヤーの到着待ちフェーズへ移ります。
func StartParty(state *models.SessionState, push Pusher, logger *zap.Logger) *PhaseResult {
	state.Lock()
	state.SetPhaseLabelLocked(models.PhaseWaitingPlayers)
	state.LogEventLocked("phase_change", map[string]any{"phase": models.PhaseWaitingPlayers})
	if err := state.SaveLocked(); err != nil {
		logger.Error("Failed to persist party start", zap.Error(err))
	}
	state.Unlock()

	broadcastPhase(push, models.PhaseWaitingPlayers, "La partie démarre. Les invités peuvent arriver.")
	return &PhaseResult{Phase: models.PhaseWaitingPlayers}
}

// PlayersReady は全員の到着を確定し、封筒の公平配布を実行します。
// プレイヤーが1人もいない場合は何もしません。
func PlayersReady(state *models.SessionState, push Pusher, logger *zap.Logger) (*PhaseResult, bool) {
	state.Lock()
	if len(state.Players) == 0 {
		state.Unlock()
		return nil, false
	}
	state.SetPhaseLabelLocked(models.PhaseEnvelopesDistribution)
	state.Flags["join_locked"] = true // 以降の途中参加は受け付けない
	state.LogEventLocked("phase_change", map[string]any{"phase": models.PhaseEnvelopesDistribution})
	if err := state.SaveLocked(); err != nil {
		logger.Error("Failed to persist players_ready", zap.Error(err))
	}
	playerIDs := append([]string(nil), state.PlayerOrder...)
	state.Unlock()

	broadcastPhase(push, models.PhaseEnvelopesDistribution, "Tous les invités sont là. Distribution des enveloppes à cacher.")

	// 封筒の公平配布（単一min-heap）と各プレイヤーへの個別通知
	result := envelopes.DistributeEquitable(state)
	for _, pid := range playerIDs {
		refs := envelopes.PlayerEnvelopes(state, pid)
		if len(refs) == 0 {
			continue
		}
		push.SendToPlayer(pid, map[string]any{
			"type":      "envelopes_to_hide",
			"envelopes": refs,
		})
	}
	return &PhaseResult{Phase: models.PhaseEnvelopesDistribution, AssignedEnvelopes: result}, true
}

// EnvelopesDone は封筒配布の完了を受けて配役を割り当て、セッションを開始状態にします。
func EnvelopesDone(state *models.SessionState, push Pusher, logger *zap.Logger) *PhaseResult {
	roles := assignCharactersIfAvailable(state, push, logger)

	state.Lock()
	state.SetPhaseLabelLocked(models.PhaseRolesAssigned)
	state.LogEventLocked("phase_change", map[string]any{"phase": models.PhaseRolesAssigned})
	state.SetPhaseLabelLocked(models.PhaseSessionActive)
	state.LogEventLocked("phase_change", map[string]any{"phase": models.PhaseSessionActive})
	if err := state.SaveLocked(); err != nil {
		logger.Error("Failed to persist envelopes_done", zap.Error(err))
	}
	state.Unlock()

	broadcastPhase(push, models.PhaseRolesAssigned, "Les rôles sont attribués. La partie peut commencer.")
	broadcastPhase(push, models.PhaseSessionActive, "Prêt pour le premier round. Le système annoncera le mini-jeu quand il sera temps.")

	return &PhaseResult{Phase: models.PhaseSessionActive, AssignedRoles: roles}
}

// assignCharactersIfAvailable はシナリオの配役カタログからまだ配役の無い
// プレイヤーへ登場人物を割り当て、個別に通知します。
func assignCharactersIfAvailable(state *models.SessionState, push Pusher, logger *zap.Logger) map[string]map[string]string {
	assigned := map[string]map[string]string{}

	state.Lock()
	if state.Seed == nil || len(state.Seed.Characters) == 0 {
		state.Unlock()
		return assigned
	}
	pool := append([]*models.Character(nil), state.Seed.Characters...)
	randGen := createLocalRandGenerator()
	randGen.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	type charNotice struct {
		pid  string
		char *models.Character
	}
	var notifications []charNotice
	for _, pid := range state.PlayerOrder {
		p := state.Players[pid]
		if p == nil || p.Character != "" {
			continue
		}
		if len(pool) == 0 {
			break
		}
		char := pool[len(pool)-1]
		pool = pool[:len(pool)-1]
		p.Character = char.Name
		p.CharacterID = char.ID
		p.CharacterDesc = char.Description
		assigned[pid] = map[string]string{"character": char.Name, "character_id": char.ID}
		notifications = append(notifications, charNotice{pid: pid, char: char})
	}
	if len(assigned) > 0 {
		state.LogEventLocked("characters_assigned", map[string]any{"count": len(assigned)})
		if err := state.SaveLocked(); err != nil {
			logger.Error("Failed to persist character assignment", zap.Error(err))
		}
	}
	state.Unlock()

	for _, n := range notifications {
		push.SendToPlayer(n.pid, map[string]any{
			"type": "character_assigned",
			"character": map[string]string{
				"id":          n.char.ID,
				"name":        n.char.Name,
				"description": n.char.Description,
			},
		})
	}
	return assigned
}
