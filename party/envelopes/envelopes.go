package envelopes

import (
	"container/heap"
	"errors"
	"regexp"
	"sort"
	"strconv"

	"mpserver/models"
)

// ErrEnvelopeNotFound は指定IDの封筒が存在しない場合に返します。
var ErrEnvelopeNotFound = errors.New("envelope not found")

// 重要度の並び順（high が最優先）
var importanceOrder = map[string]int{"high": 0, "medium": 1, "low": 2}

var trailingDigits = regexp.MustCompile(`(\d+)$`)

// DistributionResult は配布実行の結果サマリです。
type DistributionResult struct {
	Assigned  int            `json:"assigned"`
	Left      int            `json:"left"`
	PerPlayer map[string]int `json:"per_player"`
}

// AssignResult は個別再割当の結果です。PreviousOwner は旧所有者（いなければ空）。
type AssignResult struct {
	EnvelopeID    string `json:"envelope_id"`
	PreviousOwner string `json:"previous_owner,omitempty"`
	NewOwner      string `json:"new_owner"`
}

// Summary は MJ ダッシュボード向けの診断サマリです。
type Summary struct {
	Total     int            `json:"total"`
	Assigned  int            `json:"assigned"`
	Left      int            `json:"left"`
	PerPlayer map[string]int `json:"per_player"`
	Buckets   map[string]int `json:"buckets"`
}

// idSortKey は末尾の数字を考慮したID順序キーを返します（env12 > env2 となるように）。
func idSortKey(id string) (int, int, string) {
	if m := trailingDigits.FindStringSubmatch(id); m != nil {
		n, _ := strconv.Atoi(m[1])
		return 0, n, id
	}
	return 1, 0, id
}

func idLess(a, b string) bool {
	ka, na, sa := idSortKey(a)
	kb, nb, sb := idSortKey(b)
	if ka != kb {
		return ka < kb
	}
	if ka == 0 && na != nb {
		return na < nb
	}
	return sa < sb
}

func importanceRank(imp string) int {
	if rank, ok := importanceOrder[imp]; ok {
		return rank
	}
	return 1 // 未知の重要度は medium 扱い
}

// countPerPlayer は現在の割当数をプレイヤーごとに数えます。
func countPerPlayer(envs []*models.Envelope) map[string]int {
	counts := map[string]int{}
	for _, env := range envs {
		if env.AssignedPlayerID == "" {
			continue
		}
		counts[env.AssignedPlayerID]++
	}
	return counts
}

// ---------- 最少割当プレイヤーを選ぶ優先度キュー ----------
// (割当数, 参加順インデックス) の昇順。参加順が若い方がタイブレークで勝ちます。

type playerSlot struct {
	count    int
	tieBreak int
	playerID string
}

type playerHeap []playerSlot

func (h playerHeap) Len() int { return len(h) }
func (h playerHeap) Less(i, j int) bool {
	if h[i].count != h[j].count {
		return h[i].count < h[j].count
	}
	return h[i].tieBreak < h[j].tieBreak
}
func (h playerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *playerHeap) Push(x any)   { *h = append(*h, x.(playerSlot)) }

func (h *playerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// DistributeEquitable は未割当の封筒を全プレイヤーへ公平に配布します。
// 既存の割当は一切触らず（再シャッフルなし）、再実行しても冪等です。
// 重要: 重要度バケットごとに独立して巡回させると序盤のプレイヤーに偏るため、
// ソート済みリスト全体に対して単一のmin-heapを使います。
func DistributeEquitable(state *models.SessionState) *DistributionResult {
	state.Lock()
	defer state.Unlock()
	return distributeLocked(state)
}

func distributeLocked(state *models.SessionState) *DistributionResult {
	if len(state.PlayerOrder) == 0 {
		return &DistributionResult{Assigned: 0, Left: 0, PerPlayer: map[string]int{}}
	}
	if state.Seed == nil {
		return &DistributionResult{Assigned: 0, Left: 0, PerPlayer: map[string]int{}}
	}

	envs := state.Seed.Envelopes
	var toAssign []*models.Envelope
	for _, env := range envs {
		if env.AssignedPlayerID == "" {
			toAssign = append(toAssign, env)
		}
	}
	if len(toAssign) == 0 {
		syncPlayerViewsLocked(state)
		_ = state.SaveLocked()
		return &DistributionResult{Assigned: 0, Left: 0, PerPlayer: countPerPlayer(envs)}
	}

	// 重要度（high→medium→low）、次に数値を考慮したID順
	sort.SliceStable(toAssign, func(i, j int) bool {
		ri, rj := importanceRank(toAssign[i].Importance), importanceRank(toAssign[j].Importance)
		if ri != rj {
			return ri < rj
		}
		return idLess(toAssign[i].ID, toAssign[j].ID)
	})

	counts := countPerPlayer(envs)
	h := make(playerHeap, 0, len(state.PlayerOrder))
	for index, pid := range state.PlayerOrder {
		h = append(h, playerSlot{count: counts[pid], tieBreak: index, playerID: pid})
	}
	heap.Init(&h)

	assigned := 0
	for _, env := range toAssign {
		slot := heap.Pop(&h).(playerSlot)
		env.AssignedPlayerID = slot.playerID
		assigned++
		slot.count++
		heap.Push(&h, slot)
	}

	syncPlayerViewsLocked(state)
	state.LogEventLocked("envelopes_assigned", map[string]any{"assigned": assigned})
	_ = state.SaveLocked()

	left := 0
	for _, env := range envs {
		if env.AssignedPlayerID == "" {
			left++
		}
	}
	return &DistributionResult{Assigned: assigned, Left: left, PerPlayer: countPerPlayer(envs)}
}

// Reset は全封筒の割当を解除し、リセット件数を返します。
func Reset(state *models.SessionState) int {
	state.Lock()
	defer state.Unlock()
	if state.Seed == nil {
		return 0
	}
	n := len(state.Seed.Envelopes)
	for _, env := range state.Seed.Envelopes {
		env.AssignedPlayerID = ""
	}
	syncPlayerViewsLocked(state)
	_ = state.SaveLocked()
	return n
}

// AssignSpecific は管理操作として特定の封筒を特定プレイヤーへ（再）割当します。
// 旧所有者を返すので、呼び出し側は新旧双方へ再通知できます。
func AssignSpecific(state *models.SessionState, envelopeID, playerID string) (*AssignResult, error) {
	state.Lock()
	defer state.Unlock()
	if state.Seed == nil {
		return nil, ErrEnvelopeNotFound
	}
	for _, env := range state.Seed.Envelopes {
		if env.ID == envelopeID {
			previous := env.AssignedPlayerID
			env.AssignedPlayerID = playerID
			syncPlayerViewsLocked(state)
			_ = state.SaveLocked()
			return &AssignResult{EnvelopeID: envelopeID, PreviousOwner: previous, NewOwner: playerID}, nil
		}
	}
	return nil, ErrEnvelopeNotFound
}

// SummaryFor は配布状況の診断サマリを作ります。
func SummaryFor(state *models.SessionState) *Summary {
	state.Lock()
	defer state.Unlock()
	buckets := map[string]int{"high": 0, "medium": 0, "low": 0}
	var envs []*models.Envelope
	if state.Seed != nil {
		envs = state.Seed.Envelopes
	}
	assigned := 0
	for _, env := range envs {
		if env.AssignedPlayerID != "" {
			assigned++
			continue
		}
		switch importanceRank(env.Importance) {
		case 0:
			buckets["high"]++
		case 2:
			buckets["low"]++
		default:
			buckets["medium"]++
		}
	}
	return &Summary{
		Total:     len(envs),
		Assigned:  assigned,
		Left:      len(envs) - assigned,
		PerPlayer: countPerPlayer(envs),
		Buckets:   buckets,
	}
}

// PlayerEnvelopes はプレイヤー画面用の表示ビュー（順序付き）を返します。
func PlayerEnvelopes(state *models.SessionState, playerID string) []models.EnvelopeRef {
	state.Lock()
	defer state.Unlock()
	if p := state.Players[playerID]; p != nil && p.Envelopes != nil {
		out := make([]models.EnvelopeRef, len(p.Envelopes))
		copy(out, p.Envelopes)
		return out
	}
	return nil
}

// syncPlayerViewsLocked は各プレイヤーの封筒ビュー（派生データ）を再構築します。
func syncPlayerViewsLocked(state *models.SessionState) {
	byPlayer := map[string][]string{}
	if state.Seed != nil {
		for _, env := range state.Seed.Envelopes {
			if env.AssignedPlayerID == "" {
				continue
			}
			byPlayer[env.AssignedPlayerID] = append(byPlayer[env.AssignedPlayerID], env.ID)
		}
	}
	for _, ids := range byPlayer {
		sort.Slice(ids, func(i, j int) bool { return idLess(ids[i], ids[j]) })
	}
	for pid, p := range state.Players {
		ids := byPlayer[pid]
		refs := make([]models.EnvelopeRef, 0, len(ids))
		for i, id := range ids {
			refs = append(refs, models.EnvelopeRef{Num: i + 1, ID: id})
		}
		p.Envelopes = refs
	}
}
