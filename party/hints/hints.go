package hints

import (
	"errors"
	"time"

	"mpserver/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 呼び出し側（MJルート）へそのまま返せるエラー種別。
var (
	ErrUnknownDiscoverer = errors.New("unknown discoverer")
	ErrRoundNotPrepared  = errors.New("round not prepared")
	ErrTierUnavailable   = errors.New("requested tier not available")
	ErrHintNotFound      = errors.New("hint not found")
	ErrAlreadyDestroyed  = errors.New("hint already destroyed")
	ErrNotAuthorized     = errors.New("only the killer can destroy hints")
	ErrQuotaReached      = errors.New("destroy quota reached")
)

// Pusher はヒント配信が必要とする最小限の送信インターフェースです。
type Pusher interface {
	SendTypeToPlayer(playerID, eventType string, payload any) int
	BroadcastType(eventType string, payload any) int
}

// 共有しない場合の他プレイヤー向けフォールバック順。
// 設定テーブルにルールが無い場合、この順で存在するtierへ劣化させます。
var fallbackTiers = []string{"vague", "minor", "misleading"}

// resolveOtherTier は発見者以外へ届けるtierを決定します。
// データ駆動の共有ルール表（discoverer_<tier>_others）を先に引き、
// 無ければ固定フォールバック、どれも無ければ元のtierのまま。
func resolveOtherTier(discovererTier string, share bool, hintsMap map[string]string, rules map[string]string) string {
	if share {
		return discovererTier
	}
	if candidate, ok := rules["discoverer_"+discovererTier+"_others"]; ok {
		if _, exists := hintsMap[candidate]; exists {
			return candidate
		}
	}
	for _, tier := range fallbackTiers {
		if _, exists := hintsMap[tier]; exists {
			return tier
		}
	}
	return discovererTier
}

// sharingRulesLocked はラウンド設定から共有ルール表を引きます（無ければ空）。
func sharingRulesLocked(state *models.SessionState, roundIndex int) map[string]string {
	if state.Seed == nil {
		return nil
	}
	if roundIndex < 1 || roundIndex > len(state.Seed.Rounds) {
		return nil
	}
	return state.Seed.Rounds[roundIndex-1].HintPolicy.SharingRules
}

// destroyQuotaLocked は犯人役の破棄クォータを返します（0 = 無制限）。
func destroyQuotaLocked(state *models.SessionState) int {
	if state.Seed == nil {
		return 0
	}
	return state.Seed.Rules.Killer.DestroyQuota
}

// Deliver はヒントを配信し、不変レコードを履歴へ残します。
// 発見者/その他の非対称は配信時に一度だけ計算し、以後の参照は記録を使います。
func Deliver(state *models.SessionState, push Pusher, logger *zap.Logger, roundIndex int, discovererID, tier string, share bool) (*models.HintRecord, error) {
	state.Lock()

	if _, ok := state.Players[discovererID]; !ok {
		state.Unlock()
		return nil, ErrUnknownDiscoverer
	}

	prepared := state.PreparedRounds[roundIndex]
	if prepared == nil || len(prepared.Hints) == 0 {
		state.Unlock()
		return nil, ErrRoundNotPrepared
	}
	hintsMap := prepared.Hints
	if _, ok := hintsMap[tier]; !ok {
		state.Unlock()
		return nil, ErrTierUnavailable
	}

	rules := sharingRulesLocked(state, roundIndex)
	otherTier := resolveOtherTier(tier, share, hintsMap, rules)

	// 参加順で配信リストを作る（順序を安定させるため）
	deliveries := make([]models.HintDelivery, 0, len(state.PlayerOrder))
	for _, pid := range state.PlayerOrder {
		deliverTier := tier
		if !share && pid != discovererID {
			deliverTier = otherTier
		}
		text := hintsMap[deliverTier]
		if text == "" {
			text = hintsMap[tier]
		}
		deliveries = append(deliveries, models.HintDelivery{PlayerID: pid, Tier: deliverTier, Text: text})
	}

	record := &models.HintRecord{
		HintID:       uuid.New().String(),
		RoundIndex:   roundIndex,
		DiscovererID: discovererID,
		SourceTier:   tier,
		Shared:       share,
		OtherTier:    otherTier,
		Deliveries:   deliveries,
		CreatedAt:    time.Now().Unix(),
	}
	state.HintsHistory = append(state.HintsHistory, record)
	state.LogEventLocked("hint_delivered", map[string]any{
		"hint_id":       record.HintID,
		"round_index":   roundIndex,
		"discoverer_id": discovererID,
		"shared":        share,
	})
	if err := state.SaveLocked(); err != nil {
		logger.Error("Failed to persist hint delivery", zap.Error(err))
	}
	sessionID := state.SessionID
	state.Unlock()

	// ロック解放後に送信（送信はセッション状態を触らない）
	for _, d := range deliveries {
		push.SendTypeToPlayer(d.PlayerID, "hint_delivered", map[string]any{
			"session_id":    sessionID,
			"hint_id":       record.HintID,
			"round_index":   roundIndex,
			"tier":          d.Tier,
			"text":          d.Text,
			"discoverer_id": discovererID,
			"shared":        share,
		})
	}
	// ネタバレしない通知を全体へ
	push.BroadcastType("event", map[string]any{
		"kind":          "hint_delivered",
		"session_id":    sessionID,
		"hint_id":       record.HintID,
		"round_index":   roundIndex,
		"discoverer_id": discovererID,
		"shared":        share,
	})

	return record, nil
}

// Destroy はヒントを破棄済みにマークします（一度だけ・犯人役のみ・クォータ制）。
func Destroy(state *models.SessionState, push Pusher, logger *zap.Logger, hintID, killerID string) (*models.HintRecord, error) {
	state.Lock()

	var target *models.HintRecord
	for _, record := range state.HintsHistory {
		if record.HintID == hintID {
			target = record
			break
		}
	}
	if target == nil {
		state.Unlock()
		return nil, ErrHintNotFound
	}
	if target.Destroyed {
		state.Unlock()
		return nil, ErrAlreadyDestroyed
	}
	if culprit := state.CulpritPlayerID(); culprit != "" && killerID != culprit {
		state.Unlock()
		return nil, ErrNotAuthorized
	}
	quota := destroyQuotaLocked(state)
	if quota > 0 && state.KillerActions.DestroyUsed >= quota {
		state.Unlock()
		return nil, ErrQuotaReached
	}

	target.Destroyed = true
	target.DestroyedBy = killerID
	target.DestroyedAt = time.Now().Unix()
	state.KillerActions.DestroyUsed++

	state.LogEventLocked("hint_destroyed", map[string]any{
		"hint_id":   hintID,
		"killer_id": killerID,
	})
	if err := state.SaveLocked(); err != nil {
		logger.Error("Failed to persist hint destruction", zap.Error(err))
	}
	sessionID := state.SessionID
	state.Unlock()

	push.BroadcastType("event", map[string]any{
		"kind":       "hint_destroyed",
		"session_id": sessionID,
		"hint_id":    hintID,
		"killer_id":  killerID,
	})

	return target, nil
}

// HistoryForPlayer は指定プレイヤー視点のヒント履歴を返します。
// 配信時に記録されたtier/textをそのまま返し、再導出はしません。
func HistoryForPlayer(state *models.SessionState, playerID string) []models.HintDelivery {
	state.Lock()
	defer state.Unlock()
	var out []models.HintDelivery
	for _, record := range state.HintsHistory {
		if record.Destroyed {
			continue
		}
		if d := record.DeliveryFor(playerID); d != nil {
			out = append(out, *d)
		}
	}
	return out
}
