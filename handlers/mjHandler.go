package handlers

import (
	"errors"
	"net/http"

	"mpserver/models"
	"mpserver/party"
	"mpserver/party/envelopes"
	"mpserver/party/hints"
	"mpserver/party/registry"
	"mpserver/party/rounds"
	"mpserver/party/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MJ（ゲームマスター）専用のハンドラ群。全ルートはMJトークンで保護されます。
// ラウンド進行が不正なフェーズで要求された場合は強制遷移せず、
// 現在のフェーズを添えて 409 を返します。

// roundConflict は ConflictError をHTTPレスポンスへ変換します。
func roundConflict(c *gin.Context, err error) bool {
	var conflict *rounds.ConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "invalid phase for this operation", "phase": conflict.Phase})
		return true
	}
	return false
}

// ---------- マクロフェーズ進行 ----------

// MJStartParty はパーティを開始するハンドラです。
func MJStartParty(c *gin.Context, store *session.Store, reg *registry.Registry, logger *zap.Logger) {
	state := store.Get(c.Param("sessionID"))
	result := party.StartParty(state, reg, logger)
	c.JSON(http.StatusOK, result)
}

// MJPlayersReady は全員の到着を確定し、封筒の公平配布を実行するハンドラです。
func MJPlayersReady(c *gin.Context, store *session.Store, reg *registry.Registry, logger *zap.Logger) {
	state := store.Get(c.Param("sessionID"))
	result, ok := party.PlayersReady(state, reg, logger)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no players have joined yet"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// MJEnvelopesDone は封筒設置の完了を受けて配役を割り当てるハンドラです。
func MJEnvelopesDone(c *gin.Context, store *session.Store, reg *registry.Registry, logger *zap.Logger) {
	state := store.Get(c.Param("sessionID"))
	result := party.EnvelopesDone(state, reg, logger)
	c.JSON(http.StatusOK, result)
}

// ---------- ラウンド進行 ----------

// MJRoundStatus は現在のラウンド状態を返すハンドラです。
func MJRoundStatus(c *gin.Context, store *session.Store, logger *zap.Logger) {
	engine := store.Engine(c.Param("sessionID"))
	c.JSON(http.StatusOK, engine.Status())
}

// MJBeginRound は次のラウンドの告知（INTRO）へ進めるハンドラです。
func MJBeginRound(c *gin.Context, store *session.Store, logger *zap.Logger) {
	engine := store.Engine(c.Param("sessionID"))
	result, err := engine.BeginNextRound()
	if err != nil {
		if roundConflict(c, err) {
			return
		}
		if errors.Is(err, rounds.ErrNoRounds) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "story seed has no rounds"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// MJConfirmStart はミニゲームの物理的な開始を確定するハンドラです。
func MJConfirmStart(c *gin.Context, store *session.Store, logger *zap.Logger) {
	engine := store.Engine(c.Param("sessionID"))
	result, err := engine.ConfirmStart()
	if err != nil {
		if roundConflict(c, err) {
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// FinishRoundRequest はラウンド終了リクエストのボディを表す構造体です。
type FinishRoundRequest struct {
	Winners []string       `json:"winners"`
	Meta    map[string]any `json:"meta"`
}

// MJFinishRound は進行中のラウンドを閉じて結果を記録するハンドラです。
func MJFinishRound(c *gin.Context, store *session.Store, logger *zap.Logger) {
	var req FinishRoundRequest
	// ボディ省略も許容する（勝者なしのラウンドもある）
	_ = c.ShouldBindJSON(&req)

	engine := store.Engine(c.Param("sessionID"))
	result, err := engine.FinishCurrentRound(req.Winners, req.Meta)
	if err != nil {
		if roundConflict(c, err) {
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// MJAbortTimer は進行中のソフトタイマーを止めるハンドラです。
// ラウンドのフェーズには影響しません。
func MJAbortTimer(c *gin.Context, store *session.Store, logger *zap.Logger) {
	engine := store.Engine(c.Param("sessionID"))
	engine.AbortTimer()
	c.JSON(http.StatusOK, gin.H{"status": "timer_aborted"})
}

// ---------- 封筒の管理操作 ----------

// MJDistributeEnvelopes は未割当の封筒を公平に配布するハンドラです。
// 再実行しても既存の割当は変わりません。
func MJDistributeEnvelopes(c *gin.Context, store *session.Store, reg *registry.Registry, logger *zap.Logger) {
	state := store.Get(c.Param("sessionID"))
	result := envelopes.DistributeEquitable(state)

	state.Lock()
	playerIDs := append([]string(nil), state.PlayerOrder...)
	state.Unlock()
	for _, pid := range playerIDs {
		refs := envelopes.PlayerEnvelopes(state, pid)
		if len(refs) == 0 {
			continue
		}
		reg.SendTypeToPlayer(pid, "envelopes_to_hide", gin.H{"envelopes": refs})
	}
	c.JSON(http.StatusOK, result)
}

// MJResetEnvelopes は全封筒の割当を解除するハンドラです。
func MJResetEnvelopes(c *gin.Context, store *session.Store, logger *zap.Logger) {
	state := store.Get(c.Param("sessionID"))
	n := envelopes.Reset(state)
	logger.Info("Envelopes reset", zap.String("sessionID", state.SessionID), zap.Int("count", n))
	c.JSON(http.StatusOK, gin.H{"reset": n})
}

// AssignEnvelopeRequest は封筒の個別再割当リクエストのボディです。
type AssignEnvelopeRequest struct {
	EnvelopeID string `json:"envelope_id" binding:"required"`
	PlayerID   string `json:"player_id" binding:"required"`
}

// MJAssignEnvelope は特定の封筒を特定プレイヤーへ（再）割当するハンドラです。
// 旧所有者がいれば新旧双方に最新の封筒リストを再通知します。
func MJAssignEnvelope(c *gin.Context, store *session.Store, reg *registry.Registry, logger *zap.Logger) {
	var req AssignEnvelopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request binding error"})
		return
	}

	state := store.Get(c.Param("sessionID"))
	result, err := envelopes.AssignSpecific(state, req.EnvelopeID, req.PlayerID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "envelope not found"})
		return
	}

	notify := []string{result.NewOwner}
	if result.PreviousOwner != "" && result.PreviousOwner != result.NewOwner {
		notify = append(notify, result.PreviousOwner)
	}
	for _, pid := range notify {
		reg.SendTypeToPlayer(pid, "envelopes_to_hide", gin.H{
			"envelopes": envelopes.PlayerEnvelopes(state, pid),
		})
	}
	c.JSON(http.StatusOK, result)
}

// MJEnvelopesSummary は封筒配布状況の診断サマリを返すハンドラです。
func MJEnvelopesSummary(c *gin.Context, store *session.Store, logger *zap.Logger) {
	state := store.Get(c.Param("sessionID"))
	c.JSON(http.StatusOK, envelopes.SummaryFor(state))
}

// ---------- ヒント配信 ----------

// PrepareRoundRequest はラウンドのヒント素材を登録するリクエストのボディです。
type PrepareRoundRequest struct {
	RoundIndex int               `json:"round_index" binding:"required"`
	Hints      map[string]string `json:"hints" binding:"required"` // tier → テキスト
}

// MJPrepareRound はラウンド単位のヒント素材（tier別テキスト）を登録するハンドラです。
func MJPrepareRound(c *gin.Context, store *session.Store, logger *zap.Logger) {
	var req PrepareRoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request binding error"})
		return
	}

	state := store.Get(c.Param("sessionID"))
	state.Lock()
	state.PreparedRounds[req.RoundIndex] = &models.PreparedRound{Hints: req.Hints}
	state.LogEventLocked("round_prepared", map[string]any{
		"round_index": req.RoundIndex,
		"tiers":       len(req.Hints),
	})
	if err := state.SaveLocked(); err != nil {
		logger.Error("Failed to persist prepared round", zap.Error(err))
	}
	state.Unlock()

	c.JSON(http.StatusOK, gin.H{"round_index": req.RoundIndex, "tiers": len(req.Hints)})
}

// DeliverHintRequest はヒント配信リクエストのボディです。
type DeliverHintRequest struct {
	RoundIndex   int    `json:"round_index" binding:"required"`
	DiscovererID string `json:"discoverer_id" binding:"required"`
	Tier         string `json:"tier" binding:"required"`
	Share        bool   `json:"share"`
}

// MJDeliverHint はヒントを配信するハンドラです。
// 共有しない場合、発見者以外には劣化したtierが届きます。
func MJDeliverHint(c *gin.Context, store *session.Store, reg *registry.Registry, logger *zap.Logger) {
	var req DeliverHintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request binding error"})
		return
	}

	state := store.Get(c.Param("sessionID"))
	record, err := hints.Deliver(state, reg, logger, req.RoundIndex, req.DiscovererID, req.Tier, req.Share)
	if err != nil {
		switch {
		case errors.Is(err, hints.ErrUnknownDiscoverer):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, hints.ErrRoundNotPrepared):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, hints.ErrTierUnavailable):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, record)
}

// DestroyHintRequest はヒント破棄リクエストのボディです。
type DestroyHintRequest struct {
	HintID   string `json:"hint_id" binding:"required"`
	KillerID string `json:"killer_id" binding:"required"`
}

// MJDestroyHint はヒントを破棄するハンドラです（犯人役のみ・クォータ制）。
func MJDestroyHint(c *gin.Context, store *session.Store, reg *registry.Registry, logger *zap.Logger) {
	var req DestroyHintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request binding error"})
		return
	}

	state := store.Get(c.Param("sessionID"))
	record, err := hints.Destroy(state, reg, logger, req.HintID, req.KillerID)
	if err != nil {
		switch {
		case errors.Is(err, hints.ErrHintNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, hints.ErrNotAuthorized):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, hints.ErrAlreadyDestroyed), errors.Is(err, hints.ErrQuotaReached):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, record)
}

// ---------- 真相の確定 ----------

// SetCanonRequest は真相（犯人役）を確定するリクエストのボディです。
type SetCanonRequest struct {
	CulpritPlayerID string `json:"culprit_player_id" binding:"required"`
}

// MJSetCanon は犯人役のプレイヤーを確定するハンドラです。
// 確定後、ヒントの破棄は犯人役のみが行えるようになります。
func MJSetCanon(c *gin.Context, db *gorm.DB, store *session.Store, logger *zap.Logger) {
	var req SetCanonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request binding error"})
		return
	}

	state := store.Get(c.Param("sessionID"))
	state.Lock()
	if _, ok := state.Players[req.CulpritPlayerID]; !ok {
		state.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found"})
		return
	}
	state.SetCulpritLocked(req.CulpritPlayerID)
	state.LogEventLocked("canon_set", map[string]any{"culprit_player_id": req.CulpritPlayerID})
	if err := state.SaveLocked(); err != nil {
		logger.Error("Failed to persist canon", zap.Error(err))
	}
	sessionID := state.SessionID
	state.Unlock()

	// 台帳の配役も同期しておく
	if db != nil {
		db.Model(&models.PlayerRecord{}).
			Where("session_id = ?", sessionID).
			Update("role", "other")
		db.Model(&models.PlayerRecord{}).
			Where("player_id = ?", req.CulpritPlayerID).
			Update("role", "culprit")
	}

	c.JSON(http.StatusOK, gin.H{"culprit_player_id": req.CulpritPlayerID})
}
