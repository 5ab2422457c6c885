package models

import (
	"gorm.io/gorm"
)

// GameSession モデルの定義。セッションの台帳行（ロスターCRUD用）。
// ランタイム状態の正本は Redis 側の SessionState で、こちらは管理画面と
// 定期クリーンナップのための記録です。
type GameSession struct {
	gorm.Model
	SessionID        string `gorm:"unique;not null"`
	JoinCode         string `gorm:"index"`
	SessionState     string `gorm:"not null;default:'created'"` // created / active / expired
	PlayersCount     int    `gorm:"default:0"`
	LastActivityTime int64
	FinishTime       int64
}

// PlayerRecord は登録済みプレイヤーの台帳行です。
type PlayerRecord struct {
	gorm.Model
	PlayerID    string `gorm:"unique;not null"`
	SessionID   string `gorm:"index;not null"`
	DisplayName string `gorm:"not null"`
	Character   string
	Role        string
}
