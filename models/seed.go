package models

// StorySeed はシナリオ定義（封筒・ラウンド計画・ルール・登場人物）を保持します。
// セッション作成時に読み込まれ、以後はセッション状態の一部として永続化されます。
type StorySeed struct {
	Envelopes  []*Envelope  `json:"envelopes"`
	Rounds     []*RoundPlan `json:"rounds"`
	Rules      SeedRules    `json:"rules"`
	Characters []*Character `json:"characters,omitempty"`
}

// Envelope は隠すべき小道具（封筒）1つ分のレコードです。
// AssignedPlayerID が空文字の間は未配布として扱います。
type Envelope struct {
	ID               string `json:"id"`
	Importance       string `json:"importance"` // "high" / "medium" / "low"
	AssignedPlayerID string `json:"assigned_player_id,omitempty"`
}

// RoundPlan はミニゲーム1ラウンド分の計画です。
type RoundPlan struct {
	MiniGame   string         `json:"mini_game"`
	Theme      string         `json:"theme,omitempty"`
	MaxSeconds int            `json:"max_seconds,omitempty"`
	Narration  RoundNarration `json:"narration"`
	HintPolicy HintPolicy     `json:"hint_policy"`
}

// RoundNarration はラウンド前後の語りのヒントテキストです。
type RoundNarration struct {
	Intro string `json:"intro,omitempty"`
	Outro string `json:"outro,omitempty"`
}

// HintPolicy はヒント共有時の劣化ルールを保持します。
// キーは "discoverer_<tier>_others" の形式（例: discoverer_major_others → vague）。
type HintPolicy struct {
	SharingRules map[string]string `json:"sharing_rules,omitempty"`
}

// SeedRules はシナリオ全体のルール設定です。
type SeedRules struct {
	Killer KillerRules `json:"killer"`
}

// KillerRules は犯人役に許された行動の制限です。DestroyQuota が 0 の場合は無制限。
type KillerRules struct {
	DestroyQuota int `json:"destroy_quota"`
}

// Character は配役カタログの1エントリです。
type Character struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
