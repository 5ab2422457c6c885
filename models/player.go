package models

// EnvelopeRef はプレイヤー画面に出す封筒の表示用参照です（Num は 1 始まりの連番）。
// 正本は StorySeed.Envelopes 側で、こちらは派生ビューです。
type EnvelopeRef struct {
	Num int    `json:"num"`
	ID  string `json:"id"`
}

// Player はセッションに参加中のプレイヤー1人分の状態です。
type Player struct {
	PlayerID      string        `json:"player_id"`
	DisplayName   string        `json:"display_name"`
	Character     string        `json:"character,omitempty"`
	CharacterID   string        `json:"character_id,omitempty"`
	CharacterDesc string        `json:"character_desc,omitempty"`
	Role          string        `json:"role,omitempty"` // 例: "culprit" / "other"
	Joined        bool          `json:"joined"`
	Envelopes     []EnvelopeRef `json:"envelopes,omitempty"`
}
