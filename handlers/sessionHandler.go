package handlers

import (
	"net/http"
	"time"

	"mpserver/models"
	"mpserver/party/envelopes"
	"mpserver/party/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateSessionRequest はセッション作成リクエストのボディを表す構造体です。
type CreateSessionRequest struct {
	SessionID string            `json:"session_id"` // 省略時はUUIDを発番
	Seed      *models.StorySeed `json:"seed"`       // シナリオ定義（後からの差し替えも可能）
}

// CreateSession は新しいパーティセッションを作成するハンドラです。
func CreateSession(c *gin.Context, db *gorm.DB, store *session.Store, logger *zap.Logger) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Request binding error", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request binding error"})
		return
	}

	state := store.Create(req.SessionID)
	if req.Seed != nil {
		state.Lock()
		state.Seed = req.Seed
		state.LogEventLocked("seed_loaded", map[string]any{
			"envelopes": len(req.Seed.Envelopes),
			"rounds":    len(req.Seed.Rounds),
		})
		if err := state.SaveLocked(); err != nil {
			logger.Error("Failed to persist story seed", zap.Error(err))
		}
		state.Unlock()
	}

	// 管理画面とクリーンナップ用の台帳行を作成
	record := models.GameSession{
		SessionID:        state.SessionID,
		JoinCode:         state.JoinCode,
		SessionState:     "created",
		LastActivityTime: time.Now().Unix(),
	}
	if db != nil {
		if result := db.Create(&record); result.Error != nil {
			logger.Error("Failed to create session record", zap.Error(result.Error))
		}
	}

	logger.Info("Session created", zap.String("sessionID", state.SessionID))
	c.JSON(http.StatusOK, gin.H{
		"session_id": state.SessionID,
		"join_code":  state.JoinCode,
	})
}

// ResetSession はセッション状態を初期値に巻き戻すハンドラです（MJ専用）。
// 台帳行と参加コードは維持されます。
func ResetSession(c *gin.Context, db *gorm.DB, store *session.Store, logger *zap.Logger) {
	sessionID := c.Param("sessionID")
	engine := store.Engine(sessionID)
	engine.AbortTimer()

	state := store.Get(sessionID)
	state.Lock()
	state.ResetLocked()
	state.LogEventLocked("session_reset", map[string]any{})
	if err := state.SaveLocked(); err != nil {
		logger.Error("Failed to persist session reset", zap.Error(err))
	}
	state.Unlock()

	if db != nil {
		db.Model(&models.GameSession{}).
			Where("session_id = ?", sessionID).
			Updates(map[string]any{"session_state": "created", "players_count": 0, "last_activity_time": time.Now().Unix()})
		db.Where("session_id = ?", sessionID).Delete(&models.PlayerRecord{})
	}

	logger.Info("Session reset", zap.String("sessionID", sessionID))
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "status": "reset"})
}

// SessionStatus はMJダッシュボード向けの状態スナップショットを返します。
func SessionStatus(c *gin.Context, store *session.Store, logger *zap.Logger) {
	sessionID := c.Param("sessionID")
	state := store.Get(sessionID)
	engine := store.Engine(sessionID)

	state.Lock()
	players := make([]*models.Player, 0, len(state.PlayerOrder))
	for _, pid := range state.PlayerOrder {
		players = append(players, state.Players[pid])
	}
	phase := state.PhaseLabel()
	joinCode := state.JoinCode
	culprit := state.CulpritPlayerID()
	destroyUsed := state.KillerActions.DestroyUsed
	hintsCount := len(state.HintsHistory)
	state.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"session_id":    sessionID,
		"join_code":     joinCode,
		"phase":         phase,
		"players":       players,
		"round":         engine.Status(),
		"envelopes":     envelopes.SummaryFor(state),
		"culprit_set":   culprit != "",
		"destroy_used":  destroyUsed,
		"hints_emitted": hintsCount,
	})
}

// SessionEvents は監査イベントログを返します（MJ専用）。
func SessionEvents(c *gin.Context, store *session.Store, logger *zap.Logger) {
	sessionID := c.Param("sessionID")
	state := store.Get(sessionID)
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"events":     state.EventsSnapshot(),
	})
}
