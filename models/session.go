package models

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// セッションイベントログの上限。超過した分は古い順に破棄します。
const MaxAuditEvents = 2000

// Event は監査用イベントログの1エントリです。
type Event struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	Scope   string         `json:"scope"`
	Payload map[string]any `json:"payload"`
	TS      int64          `json:"ts"`
}

// KillerActions は犯人役のクォータ消費状況です。
type KillerActions struct {
	DestroyUsed int `json:"destroy_used"`
}

// SessionState は1パーティ分の可変状態（プレイヤー・フラグ・イベントログ・
// ラウンド進行・ヒント履歴）をまとめて保持します。ミューテーションは全て
// Lock()/Unlock() で直列化してください（セッション単位ロック。セッションを
// またいでロックを持ち回ることは禁止）。
type SessionState struct {
	mu      sync.Mutex
	persist func(*SessionState) error // ストアが設定する保存フック（テストでは nil）

	SessionID      string                 `json:"session_id"`
	JoinCode       string                 `json:"join_code,omitempty"`
	Players        map[string]*Player     `json:"players"`
	PlayerOrder    []string               `json:"player_order"` // 参加順。配布や配信の安定した順序付けに使用
	Flags          map[string]any         `json:"flags"`        // phase_label / join_locked / canon など自由形式
	Events         []Event                `json:"events"`
	Seed           *StorySeed             `json:"story_seed,omitempty"`
	PreparedRounds map[int]*PreparedRound `json:"prepared_rounds"`
	HintsHistory   []*HintRecord          `json:"hints_history"`
	KillerActions  KillerActions          `json:"killer_actions"`
	Round          RoundState             `json:"round"`
}

// NewSessionState は空のセッション状態を初期化します。
func NewSessionState(sessionID string) *SessionState {
	return &SessionState{
		SessionID:      sessionID,
		Players:        map[string]*Player{},
		PlayerOrder:    []string{},
		Flags:          map[string]any{"phase_label": PhaseWaitingStart, "join_locked": false},
		Events:         []Event{},
		PreparedRounds: map[int]*PreparedRound{},
		HintsHistory:   []*HintRecord{},
		Round:          RoundState{Phase: RoundIdle, Results: map[int]*RoundResult{}},
	}
}

func (s *SessionState) Lock()   { s.mu.Lock() }
func (s *SessionState) Unlock() { s.mu.Unlock() }

// SetPersist は保存フックを設定します（ストア初期化時のみ呼ぶこと）。
func (s *SessionState) SetPersist(fn func(*SessionState) error) {
	s.persist = fn
}

// SaveLocked はロック保持中に呼び、現在の状態を保存フック経由で永続化します。
// 保存失敗はメモリ上の状態を壊さないため、エラーを返すだけに留めます。
func (s *SessionState) SaveLocked() error {
	if s.persist == nil {
		return nil
	}
	return s.persist(s)
}

// Save はロックを取得してから永続化します。
func (s *SessionState) Save() error {
	s.Lock()
	defer s.Unlock()
	return s.SaveLocked()
}

// AddPlayerLocked はプレイヤーを追加し、参加順リストを更新して監査ログに残します。
func (s *SessionState) AddPlayerLocked(displayName string) *Player {
	pid := uuid.New().String()
	if displayName == "" {
		displayName = "Player-" + pid[:5]
	}
	p := &Player{PlayerID: pid, DisplayName: displayName, Joined: true}
	s.Players[pid] = p
	s.PlayerOrder = append(s.PlayerOrder, pid)
	s.LogEventLocked("player_join", map[string]any{"player_id": pid, "display_name": displayName})
	return p
}

// ResetLocked は状態を初期値に戻します（ファイルやDBの削除はしません）。
func (s *SessionState) ResetLocked() {
	joinCode := s.JoinCode
	fresh := NewSessionState(s.SessionID)
	s.Players = fresh.Players
	s.PlayerOrder = fresh.PlayerOrder
	s.Flags = fresh.Flags
	s.Events = fresh.Events
	s.Seed = nil
	s.PreparedRounds = fresh.PreparedRounds
	s.HintsHistory = fresh.HintsHistory
	s.KillerActions = KillerActions{}
	s.Round = fresh.Round
	s.JoinCode = joinCode
}

// LogEventLocked は監査イベントを追記します（ロック保持中に呼ぶこと）。
func (s *SessionState) LogEventLocked(kind string, payload map[string]any) Event {
	e := Event{
		ID:      uuid.New().String(),
		Kind:    kind,
		Scope:   "system",
		Payload: payload,
		TS:      time.Now().Unix(),
	}
	s.Events = append(s.Events, e)
	if overflow := len(s.Events) - MaxAuditEvents; overflow > 0 {
		s.Events = s.Events[overflow:]
	}
	return e
}

// LogEvent はロックを取ってイベントを追記し、即座に永続化します。
func (s *SessionState) LogEvent(kind string, payload map[string]any) Event {
	s.Lock()
	defer s.Unlock()
	e := s.LogEventLocked(kind, payload)
	if err := s.SaveLocked(); err != nil {
		// 保存失敗はイベント自体を失わせない
		return e
	}
	return e
}

// EventsSnapshot はイベントログの不変コピーを返します。
func (s *SessionState) EventsSnapshot() []Event {
	s.Lock()
	defer s.Unlock()
	out := make([]Event, len(s.Events))
	copy(out, s.Events)
	return out
}

// CulpritPlayerID は canon フラグから犯人役のプレイヤーIDを取り出します。
// 未設定の場合は空文字を返します。
func (s *SessionState) CulpritPlayerID() string {
	canon, ok := s.Flags["canon"].(map[string]any)
	if !ok {
		return ""
	}
	culprit, _ := canon["culprit_player_id"].(string)
	return culprit
}

// SetCulpritLocked は犯人役を canon フラグと Player.Role の両方へ反映します。
func (s *SessionState) SetCulpritLocked(playerID string) {
	canon, ok := s.Flags["canon"].(map[string]any)
	if !ok {
		canon = map[string]any{}
		s.Flags["canon"] = canon
	}
	canon["culprit_player_id"] = playerID
	for pid, p := range s.Players {
		if pid == playerID {
			p.Role = "culprit"
		} else if p.Role == "culprit" {
			p.Role = "other"
		}
	}
}

// PhaseLabel は現在のマクロフェーズラベルを返します。
func (s *SessionState) PhaseLabel() string {
	label, _ := s.Flags["phase_label"].(string)
	if label == "" {
		return PhaseWaitingStart
	}
	return label
}

// SetPhaseLabelLocked はマクロフェーズラベルを更新します。
func (s *SessionState) SetPhaseLabelLocked(label string) {
	s.Flags["phase_label"] = label
}

// JoinLocked は参加受付がロックされているかを返します。
func (s *SessionState) JoinLocked() bool {
	locked, _ := s.Flags["join_locked"].(bool)
	return locked
}
