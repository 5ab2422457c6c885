package rounds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mpserver/models"
	"mpserver/party/narration"

	"go.uber.org/zap"
)

// Broadcaster はラウンド進行が必要とする送信インターフェースです。
type Broadcaster interface {
	Broadcast(payload any) int
}

// ErrNoRounds はラウンド計画が空のときに返します。
var ErrNoRounds = errors.New("story seed has no rounds")

// ConflictError は不正なフェーズからのラウンド操作を表し、現在のフェーズを運びます。
// 黙って無視したり強制遷移したりせず、必ず呼び出し側へ返します。
type ConflictError struct {
	Phase string
}

func (e *ConflictError) Error() string {
	return "round conflict: phase=" + e.Phase
}

// softTimer は通知専用のタイマー1本分のハンドルです。
type softTimer struct {
	stop chan struct{}
	done chan struct{}
}

// Engine は1セッション分のラウンド状態機械です。
// IDLE → INTRO → ACTIVE → COOLDOWN → (次ラウンド) INTRO → … と前方向にのみ遷移し、
// タイマーは通知するだけでフェーズ遷移を強制しません。
type Engine struct {
	state  *models.SessionState
	reg    Broadcaster
	gen    narration.Generator
	logger *zap.Logger

	timerMu sync.Mutex
	timer   *softTimer

	// タイマーの時間単位。本番は time.Second、テストでは短縮できます。
	timeUnit time.Duration
}

func New(state *models.SessionState, reg Broadcaster, gen narration.Generator, logger *zap.Logger) *Engine {
	if gen == nil {
		gen = narration.Disabled{}
	}
	return &Engine{
		state:    state,
		reg:      reg,
		gen:      gen,
		logger:   logger,
		timeUnit: time.Second,
	}
}

// SetTimeUnit はタイマーの時間単位を差し替えます（テスト用）。
func (e *Engine) SetTimeUnit(unit time.Duration) {
	e.timeUnit = unit
}

// Status は MJ 画面向けのスナップショットです。
type Status struct {
	Phase        string            `json:"phase"`
	RoundIndex   int               `json:"round_index"`
	CurrentRound *models.RoundPlan `json:"current_round,omitempty"`
	NextRound    *models.RoundPlan `json:"next_round,omitempty"`
	TotalRounds  int               `json:"total_rounds"`
	HasTimer     bool              `json:"has_timer"`
}

// StartResult はラウンド操作の結果です。
type StartResult struct {
	Phase      string            `json:"phase"`
	RoundIndex int               `json:"round_index"`
	Round      *models.RoundPlan `json:"round,omitempty"`
	Done       bool              `json:"done,omitempty"`
}

func (e *Engine) plansLocked() []*models.RoundPlan {
	if e.state.Seed == nil {
		return nil
	}
	return e.state.Seed.Rounds
}

// Status は現在のフェーズ・ラウンド・タイマー有無を返します。
func (e *Engine) Status() Status {
	e.state.Lock()
	rounds := e.plansLocked()
	idx := e.state.Round.RoundIndex
	st := Status{
		Phase:       e.state.Round.Phase,
		RoundIndex:  idx,
		TotalRounds: len(rounds),
	}
	if idx >= 1 && idx <= len(rounds) {
		st.CurrentRound = rounds[idx-1]
	}
	if idx < len(rounds) {
		st.NextRound = rounds[idx]
	}
	e.state.Unlock()
	st.HasTimer = e.timerRunning()
	return st
}

// BeginNextRound は次のラウンドへ進め、INTROの告知を行います。
// IDLE / COOLDOWN 以外からの呼び出しは ConflictError で拒否します。
// 計画を使い切った場合はセッション終了の告知だけを行い、それ以上進めません。
func (e *Engine) BeginNextRound() (*StartResult, error) {
	e.state.Lock()
	rounds := e.plansLocked()
	if len(rounds) == 0 {
		e.state.Unlock()
		return nil, ErrNoRounds
	}
	phase := e.state.Round.Phase
	if phase == models.RoundIntro || phase == models.RoundActive {
		e.state.Unlock()
		return nil, &ConflictError{Phase: phase}
	}

	if e.state.Round.RoundIndex >= len(rounds) {
		e.state.Unlock()
		e.AbortTimer()
		e.narrate("session_end", "La suite s'éclaircit : l'heure des accusations approche.", nil)
		return &StartResult{Phase: phase, RoundIndex: len(rounds), Done: true}, nil
	}

	e.state.Round.RoundIndex++
	idx := e.state.Round.RoundIndex
	plan := rounds[idx-1]
	e.state.Round.Phase = models.RoundIntro
	e.state.LogEventLocked("round_intro", map[string]any{"round_index": idx, "mini_game": plan.MiniGame})
	if err := e.state.SaveLocked(); err != nil {
		e.logger.Error("Failed to persist round intro", zap.Error(err))
	}
	e.state.Unlock()

	// 古いタイマーが残っていたら止めてから告知
	e.AbortTimer()

	hint := plan.Narration.Intro
	if hint == "" {
		hint = fmt.Sprintf("Préparez-vous pour le mini-jeu '%s'.", plan.MiniGame)
	}
	e.narrate("round_intro", hint, map[string]any{"round_index": idx, "mini_game": plan.MiniGame})

	// MJ画面へ「ミニゲームを開始せよ」のプロンプト
	e.reg.Broadcast(map[string]any{
		"type":        "prompt",
		"kind":        "start_minigame",
		"round_index": idx,
		"mini_game":   plan.MiniGame,
		"theme":       plan.Theme,
	})

	return &StartResult{Phase: models.RoundIntro, RoundIndex: idx, Round: plan}, nil
}

// ConfirmStart はミニゲームの物理的な開始を確定し、ACTIVEへ遷移します。
// 計画に最大時間があればソフトタイマーを開始します。
func (e *Engine) ConfirmStart() (*StartResult, error) {
	e.state.Lock()
	if e.state.Round.Phase != models.RoundIntro {
		phase := e.state.Round.Phase
		e.state.Unlock()
		return nil, &ConflictError{Phase: phase}
	}
	e.state.Round.Phase = models.RoundActive
	idx := e.state.Round.RoundIndex
	rounds := e.plansLocked()
	plan := rounds[idx-1]
	if err := e.state.SaveLocked(); err != nil {
		e.logger.Error("Failed to persist round start", zap.Error(err))
	}
	e.state.Unlock()

	e.narrate("round_start", fmt.Sprintf("Le mini-jeu '%s' commence.", plan.MiniGame), nil)

	if plan.MaxSeconds > 0 {
		e.StartTimer(plan.MaxSeconds, map[string]any{"round_index": idx, "mini_game": plan.MiniGame})
	}
	return &StartResult{Phase: models.RoundActive, RoundIndex: idx, Round: plan}, nil
}

// FinishCurrentRound は進行中のラウンドを閉じ、結果を記録してCOOLDOWNへ遷移します。
func (e *Engine) FinishCurrentRound(winners []string, meta map[string]any) (*StartResult, error) {
	e.state.Lock()
	if e.state.Round.Phase != models.RoundActive {
		phase := e.state.Round.Phase
		e.state.Unlock()
		return nil, &ConflictError{Phase: phase}
	}
	idx := e.state.Round.RoundIndex
	if winners == nil {
		winners = []string{}
	}
	if meta == nil {
		meta = map[string]any{}
	}
	e.state.Round.Results[idx] = &models.RoundResult{Winners: winners, Meta: meta}
	e.state.Round.Phase = models.RoundCooldown
	rounds := e.plansLocked()
	plan := rounds[idx-1]
	e.state.LogEventLocked("round_end", map[string]any{"round_index": idx, "winners": winners})
	if err := e.state.SaveLocked(); err != nil {
		e.logger.Error("Failed to persist round finish", zap.Error(err))
	}
	e.state.Unlock()

	e.AbortTimer()

	hint := plan.Narration.Outro
	if hint == "" {
		hint = "Le silence retombe. Les regards s'échangent."
	}
	e.narrate("round_end", hint, map[string]any{"round_index": idx})
	e.reg.Broadcast(map[string]any{"type": "prompt", "kind": "next_round_ready", "round_index": idx})

	return &StartResult{Phase: models.RoundCooldown, RoundIndex: idx}, nil
}

// ---------------- ソフトタイマー ----------------

// StartTimer は非ブロッキングのタイマーを開始します。60単位以上なら中間通知、
// 満了時に終了通知を流します。遷移は強制しません。前のタイマーは完全に停止させて
// から始めるため、セッションあたり同時に1本しか存在しません。
func (e *Engine) StartTimer(seconds int, ctxPayload map[string]any) {
	e.AbortTimer()

	t := &softTimer{stop: make(chan struct{}), done: make(chan struct{})}
	e.timerMu.Lock()
	e.timer = t
	e.timerMu.Unlock()

	if ctxPayload == nil {
		ctxPayload = map[string]any{}
	}
	unit := e.timeUnit

	go func() {
		defer close(t.done)
		if seconds >= 60 {
			half := seconds / 2
			if !sleepOrStop(time.Duration(half)*unit, t.stop) {
				return
			}
			e.reg.Broadcast(map[string]any{
				"type":    "narration",
				"event":   "half_time",
				"text":    "La moitié du temps s'est écoulée.",
				"context": ctxPayload,
			})
			if !sleepOrStop(time.Duration(seconds-half)*unit, t.stop) {
				return
			}
		} else {
			if !sleepOrStop(time.Duration(seconds)*unit, t.stop) {
				return
			}
		}
		e.reg.Broadcast(map[string]any{
			"type":    "narration",
			"event":   "timer_end",
			"text":    "Le temps imparti est écoulé.",
			"context": ctxPayload,
		})
	}()
}

// sleepOrStop は指定時間待ちます。停止指示で打ち切られた場合は false。
func sleepOrStop(d time.Duration, stop <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	}
}

// AbortTimer は進行中のタイマーを止め、通知ゴルーチンの完全停止を待ちます。
// タイマーが無いときに呼んでも安全です。
func (e *Engine) AbortTimer() {
	e.timerMu.Lock()
	t := e.timer
	e.timer = nil
	e.timerMu.Unlock()
	if t == nil {
		return
	}
	close(t.stop)
	<-t.done
}

// timerRunning は通知ゴルーチンがまだ生きているかを返します。
func (e *Engine) timerRunning() bool {
	e.timerMu.Lock()
	t := e.timer
	e.timerMu.Unlock()
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// narrate はLLMで短いナレーションを生成してブロードキャストします。
// 生成失敗・タイムアウト時は決定的なフォールバック文を使い、状態機械を
// 止めないことを最優先にします（フォールバックは監査ログに残します）。
func (e *Engine) narrate(event, textHint string, extra map[string]any) string {
	prompt := narration.BuildPrompt(event, textHint, extra)
	text, err := e.gen.Generate(context.Background(), prompt)
	if err != nil || text == "" {
		if err != nil && !errors.Is(err, narration.ErrDisabled) {
			e.logger.Warn("Narration generation failed, using fallback", zap.String("event", event), zap.Error(err))
			e.state.LogEvent("llm_fallback", map[string]any{"event": event})
		}
		text = narration.FallbackText
	}
	e.reg.Broadcast(map[string]any{
		"type":  "narration",
		"event": event,
		"text":  text,
	})
	return text
}
