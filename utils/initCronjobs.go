package utils

import (
	"context"
	"time"

	"mpserver/database"
	"mpserver/models"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func CronCleaner(db *gorm.DB, rdb *redis.Client, logger *zap.Logger) {
	c := cron.New()

	// SessionStateをexpiredに更新するジョブ（毎日特定の時間に実行）
	c.AddFunc("@daily", func() {
		logger.Info("古いセッションをexpiredに更新する処理を開始")
		// 24時間活動がないセッションをexpiredに更新
		result := db.Model(&models.GameSession{}).
			Where("session_state IN ? AND last_activity_time <= ?", []string{"created", "active"}, time.Now().Add(-24*time.Hour)).
			Update("session_state", "expired")
		if result.Error != nil {
			logger.Error("セッションのexpired更新に失敗しました", zap.Error(result.Error))
		} else if result.RowsAffected > 0 {
			logger.Info("セッションをexpiredに更新", zap.Int("sessions", int(result.RowsAffected)))
		}
	})

	// expired状態のセッションを削除するジョブ（"分 時 日 月 曜日"）
	c.AddFunc("0 3 * * *", func() {
		logger.Info("expired状態のセッションを削除する処理を開始")
		// expired状態のセッションを取得
		expiredIDs := []string{}
		db.Model(&models.GameSession{}).
			Where("session_state = ? AND updated_at <= ?", "expired", time.Now().Add(-48*time.Hour)).
			Pluck("session_id", &expiredIDs)

		if len(expiredIDs) == 0 {
			return
		}

		// それぞれのセッションのプレイヤー行とRedis上の状態を削除
		db.Where("session_id IN ?", expiredIDs).Delete(&models.PlayerRecord{})
		if rdb != nil {
			ctx := context.Background()
			for _, sid := range expiredIDs {
				state, err := database.LoadSessionState(ctx, rdb, sid, logger)
				if err != nil || state == nil {
					continue
				}
				if err := database.DeleteSessionState(ctx, rdb, state, logger); err != nil {
					logger.Error("Redis上のセッション状態削除に失敗しました", zap.String("sessionID", sid), zap.Error(err))
				}
			}
		}

		// 最後にセッション自体を削除
		result := db.Where("session_id IN ?", expiredIDs).Delete(&models.GameSession{})
		if result.Error != nil {
			logger.Error("expired状態のセッション削除に失敗しました", zap.Error(result.Error))
		} else {
			logger.Info("expired状態のセッション削除完了", zap.Int("sessions_deleted", int(result.RowsAffected)))
		}
	})

	c.Start()
}
