package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var logger *zap.Logger

func init() {
	var err error
	// Zapのロガーを設定
	logger, err = zap.NewProduction()
	if err != nil {
		panic(err)
	}
}

// GameSession モデルの定義
type GameSession struct {
	gorm.Model
	SessionID        string `gorm:"unique;not null"`
	JoinCode         string `gorm:"index"`
	SessionState     string `gorm:"not null;default:'created'"`
	PlayersCount     int    `gorm:"default:0"`
	LastActivityTime int64
	FinishTime       int64
}

// PlayerRecord モデルの定義
type PlayerRecord struct {
	gorm.Model
	PlayerID    string `gorm:"unique;not null"`
	SessionID   string `gorm:"index;not null"`
	DisplayName string `gorm:"not null"`
	Character   string
	Role        string
}

// マイグレーションを実行する関数
func AutoMigrateDB(db *gorm.DB) {
	err := db.AutoMigrate(&GameSession{}, &PlayerRecord{})
	if err != nil {
		panic("Error migrating tables: " + err.Error())
	} else {
		fmt.Println("GameSession and PlayerRecord tables created successfully")
	}
}

func main() {
	logger.Info("マイグレーションを開始します。")

	// 環境変数からデータベースの接続情報を取得
	host := os.Getenv("DB_HOST")
	user := os.Getenv("DB_USER")
	dbname := os.Getenv("DB_NAME")
	password := os.Getenv("DB_PASSWORD")
	sslmode := os.Getenv("DB_SSLMODE")

	dsn := "host=" + host + " user=" + user + " dbname=" + dbname + " password=" + password + " sslmode=" + sslmode
	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		logger.Error("データベースへの接続に失敗しました", zap.Error(err))
		return
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		logger.Error("SQLDBの取得に失敗しました", zap.Error(err))
		return
	}

	defer sqlDB.Close() // SQLDBを閉じる
	defer logger.Sync() // ロガーの終了処理

	// マイグレーションを実行
	AutoMigrateDB(gormDB)
}
