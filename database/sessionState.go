package database

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"mpserver/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Redisキーの接頭辞。セッション状態はJSONブロブとして1キーに保存します。
const (
	stateKeyPrefix = "mp:state:"
	joinKeyPrefix  = "mp:join:"
	stateTTL       = 72 * time.Hour
)

// SaveSessionState はセッション状態全体をRedisへ保存します。
// 参加コードがあれば session_id への逆引きインデックスも更新します。
func SaveSessionState(ctx context.Context, rdb *redis.Client, state *models.SessionState, logger *zap.Logger) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		logger.Error("Error encoding session state", zap.Error(err))
		return err
	}

	if err := rdb.Set(ctx, stateKeyPrefix+state.SessionID, stateJSON, stateTTL).Err(); err != nil {
		logger.Error("Error storing session state in Redis", zap.Error(err))
		return err
	}

	if state.JoinCode != "" {
		code := strings.ToUpper(state.JoinCode)
		if err := rdb.Set(ctx, joinKeyPrefix+code, state.SessionID, stateTTL).Err(); err != nil {
			logger.Error("Error storing join code index in Redis", zap.Error(err))
			return err
		}
	}
	return nil
}

// LoadSessionState はRedisからセッション状態を読み込みます。
// キーが無い場合は (nil, nil) を返します。
func LoadSessionState(ctx context.Context, rdb *redis.Client, sessionID string, logger *zap.Logger) (*models.SessionState, error) {
	stateJSON, err := rdb.Get(ctx, stateKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		logger.Error("Failed to retrieve session state", zap.Error(err))
		return nil, err
	}

	state := models.NewSessionState(sessionID)
	if err := json.Unmarshal([]byte(stateJSON), state); err != nil {
		logger.Error("Failed to decode session state", zap.Error(err))
		return nil, err
	}
	return state, nil
}

// FindSessionIDByJoinCode は参加コードから session_id を逆引きします。
func FindSessionIDByJoinCode(ctx context.Context, rdb *redis.Client, joinCode string, logger *zap.Logger) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(joinCode))
	if code == "" {
		return "", nil
	}
	sessionID, err := rdb.Get(ctx, joinKeyPrefix+code).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		logger.Error("Failed to resolve join code", zap.Error(err))
		return "", err
	}
	return sessionID, nil
}

// DeleteSessionState はセッション状態と参加コードインデックスを削除します。
func DeleteSessionState(ctx context.Context, rdb *redis.Client, state *models.SessionState, logger *zap.Logger) error {
	keys := []string{stateKeyPrefix + state.SessionID}
	if state.JoinCode != "" {
		keys = append(keys, joinKeyPrefix+strings.ToUpper(state.JoinCode))
	}
	if err := rdb.Del(ctx, keys...).Err(); err != nil {
		logger.Error("Failed to delete session state", zap.Error(err))
		return err
	}
	return nil
}
