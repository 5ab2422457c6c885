package models

// HintDelivery はヒント配信時に各プレイヤーへ実際に送られた内容の記録です。
// 後からの参照は必ずこの記録を使い、再計算はしません。
type HintDelivery struct {
	PlayerID string `json:"player_id"`
	Tier     string `json:"tier"`
	Text     string `json:"text"`
}

// HintRecord はヒント発見イベント1件分の不変レコードです。
// Destroyed / DestroyedBy / DestroyedAt のみ、一度だけ false→true に遷移します。
type HintRecord struct {
	HintID       string         `json:"hint_id"`
	RoundIndex   int            `json:"round_index"`
	DiscovererID string         `json:"discoverer_id"`
	SourceTier   string         `json:"source_tier"`
	Shared       bool           `json:"shared"`
	OtherTier    string         `json:"other_tier"`
	Deliveries   []HintDelivery `json:"deliveries"`
	Destroyed    bool           `json:"destroyed"`
	DestroyedBy  string         `json:"destroyed_by,omitempty"`
	CreatedAt    int64          `json:"created_at"`
	DestroyedAt  int64          `json:"destroyed_at,omitempty"`
}

// DeliveryFor は指定プレイヤー宛の配信記録を返します（存在しない場合は nil）。
func (h *HintRecord) DeliveryFor(playerID string) *HintDelivery {
	for i := range h.Deliveries {
		if h.Deliveries[i].PlayerID == playerID {
			return &h.Deliveries[i]
		}
	}
	return nil
}
