package handlers

import (
	"net/http"
	"strings"
	"time"

	"mpserver/auth"
	"mpserver/middlewares"
	"mpserver/models"
	"mpserver/party/envelopes"
	"mpserver/party/hints"
	"mpserver/party/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RegisterRequest はプレイヤー登録リクエストのボディを表す構造体です。
type RegisterRequest struct {
	JoinCode    string `json:"join_code" binding:"required"`
	DisplayName string `json:"display_name"`
}

// RegisterPlayer は参加コードでプレイヤーをセッションに登録するハンドラです。
// 登録に成功するとWebSocketのidentifyに使うJWTトークンを発行します。
func RegisterPlayer(c *gin.Context, db *gorm.DB, store *session.Store, logger *zap.Logger) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Request binding error", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request binding error"})
		return
	}

	state, ok := store.FindByJoinCode(req.JoinCode)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	state.Lock()
	if state.JoinLocked() {
		state.Unlock()
		c.JSON(http.StatusForbidden, gin.H{"error": "Session is not accepting new players"})
		return
	}
	player := state.AddPlayerLocked(req.DisplayName)
	playersCount := len(state.Players)
	if err := state.SaveLocked(); err != nil {
		logger.Error("Failed to persist player registration", zap.Error(err))
	}
	sessionID := state.SessionID
	state.Unlock()

	// 台帳行の作成と人数の更新
	if db != nil {
		record := models.PlayerRecord{
			PlayerID:    player.PlayerID,
			SessionID:   sessionID,
			DisplayName: player.DisplayName,
		}
		if result := db.Create(&record); result.Error != nil {
			logger.Error("Failed to create player record", zap.Error(result.Error))
		}
		db.Model(&models.GameSession{}).
			Where("session_id = ?", sessionID).
			Updates(map[string]any{"players_count": playersCount, "last_activity_time": time.Now().Unix()})
	}

	token, err := middlewares.GenerateToken(player.PlayerID, sessionID)
	if err != nil {
		logger.Error("Failed to generate player token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	logger.Info("Player registered",
		zap.String("sessionID", sessionID),
		zap.String("playerID", player.PlayerID),
	)
	c.JSON(http.StatusOK, gin.H{
		"session_id":   sessionID,
		"player_id":    player.PlayerID,
		"display_name": player.DisplayName,
		"token":        token,
	})
}

// playerFromToken はAuthorizationヘッダのJWTからプレイヤーIDを取り出します。
func playerFromToken(c *gin.Context) (string, bool) {
	tokenString := c.GetHeader("Authorization")
	if strings.HasPrefix(tokenString, "Bearer ") {
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	}
	if tokenString == "" {
		return "", false
	}
	claims, err := auth.ParseClaims(tokenString)
	if err != nil {
		return "", false
	}
	return claims.PlayerID, true
}

// PlayerState は再接続時の画面復元用に、プレイヤー視点の状態を返すハンドラです。
// 自分の封筒・これまでに受け取ったヒント・現在のフェーズが含まれます。
func PlayerState(c *gin.Context, store *session.Store, logger *zap.Logger) {
	playerID, ok := playerFromToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Valid token required"})
		return
	}

	state, found := store.FindByPlayer(playerID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Player session not found"})
		return
	}

	state.Lock()
	player := state.Players[playerID]
	phase := state.PhaseLabel()
	sessionID := state.SessionID
	roundPhase := state.Round.Phase
	roundIndex := state.Round.RoundIndex
	state.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"session_id":  sessionID,
		"player":      player,
		"phase":       phase,
		"round_phase": roundPhase,
		"round_index": roundIndex,
		"envelopes":   envelopes.PlayerEnvelopes(state, playerID),
		"hints":       hints.HistoryForPlayer(state, playerID),
	})
}
