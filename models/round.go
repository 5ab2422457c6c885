package models

// ラウンドの内部フェーズ
const (
	RoundIdle     = "IDLE"     // アクティブなラウンドなし
	RoundIntro    = "INTRO"    // ラウンド告知中（物理的な開始前）
	RoundActive   = "ACTIVE"   // ミニゲーム進行中
	RoundCooldown = "COOLDOWN" // ミニゲーム終了後、次ラウンド待ち
)

// パーティ全体のマクロフェーズラベル
const (
	PhaseWaitingStart          = "WAITING_START"
	PhaseWaitingPlayers        = "WAITING_PLAYERS"
	PhaseEnvelopesDistribution = "ENVELOPES_DISTRIBUTION"
	PhaseRolesAssigned         = "ROLES_ASSIGNED"
	PhaseSessionActive         = "SESSION_ACTIVE"
	PhaseAccusationOpen        = "ACCUSATION_OPEN"
	PhaseEnded                 = "ENDED"
)

// RoundResult はラウンド終了時に記録される結果です。
type RoundResult struct {
	Winners []string       `json:"winners"`
	Meta    map[string]any `json:"meta"`
}

// RoundState はラウンド進行のスナップショットです。前方向にのみ遷移します。
type RoundState struct {
	Phase      string               `json:"round_phase"`
	RoundIndex int                  `json:"round_index"` // 0 = まだ開始していない（1始まり）
	Results    map[int]*RoundResult `json:"round_results"`
}

// PreparedRound はラウンド単位で事前生成された配布アセット（ヒント等）です。
type PreparedRound struct {
	Hints map[string]string `json:"hints"` // tier → テキスト
}
