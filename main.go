package main

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"mpserver/database"    //PostgreSQLとRedisの初期化
	"mpserver/handlers"    //HTTPリクエストの処理
	"mpserver/middlewares" //MJトークン認証
	"mpserver/party"       //マーダーミステリーパーティのゲームロジック
	"mpserver/party/narration"
	"mpserver/party/registry"
	"mpserver/party/session"
	"mpserver/utils" //ロガーの初期化とCronジョブ(PostgreSQLの定期クリーンナップ)

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

func main() {
	var logger *zap.Logger
	var err error
	logger, err = utils.InitLogger() // ロガーの初期化
	if err != nil {
		panic(err) // 失敗した場合はプログラム停止
	}
	defer logger.Sync() // ロガーのクリーンアップ

	// Websocket接続で用いるアップグレーダを初期化
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	// 設定ファイルの読み込み
	config, err := database.LoadConfig("config.json")
	if err != nil {
		logger.Fatal("設定ファイルの読み込みに失敗しました", zap.Error(err))
	}

	// 非同期でPostgreSQLとRedisの初期化
	var db *gorm.DB
	var rdb *redis.Client
	done := make(chan bool)

	go func() {
		db, err = database.InitPostgreSQL(config, logger)
		if err != nil {
			logger.Fatal("PostgreSQLの初期化に失敗しました", zap.Error(err))
		}
		done <- true
	}()

	go func() {
		rdb, err = database.InitRedis(logger)
		if err != nil {
			logger.Fatal("Failed to initialize Redis", zap.Error(err))
		}
		done <- true
	}()

	// 2つの初期化が完了するのを待つ
	<-done
	<-done

	// クーロンスケジューラのセットアップと呼び出し
	go utils.CronCleaner(db, rdb, logger)

	// 接続レジストリ・ナレーション生成器・セッションストアの初期化
	reg := registry.New(logger)
	var gen narration.Generator = narration.Disabled{}
	if config.LLMEndpoint != "" {
		gen = narration.NewOllamaClient(config.LLMEndpoint+"/api/generate", config.LLMModel, logger)
	}
	store := session.NewStore(rdb, reg, gen, logger)

	router := gin.Default()
	//リクエストロガーを起動
	router.Use(gin.Recovery(), utils.RequestLogger(logger))

	//CORS（Cross-Origin Resource Sharing）ポリシーを設定
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://192.168.1.1:8080"}, //ここにデプロイサーバーのIPアドレスを設定
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-MJ-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	//プレイヤー向けのルーティング
	router.POST("/register", func(c *gin.Context) {
		handlers.RegisterPlayer(c, db, store, logger)
	})
	router.GET("/player/state", func(c *gin.Context) {
		handlers.PlayerState(c, store, logger)
	})
	router.GET("/ws", func(c *gin.Context) {
		party.HandleConnections(c.Request.Context(), c.Writer, c.Request, store, reg, logger, upgrader)
	})

	//MJ（ゲームマスター）向けのルーティング
	mj := router.Group("/mj", middlewares.MJAuthMiddleware(config, logger))
	{
		mj.POST("/sessions", func(c *gin.Context) {
			handlers.CreateSession(c, db, store, logger)
		})
		mj.POST("/sessions/:sessionID/reset", func(c *gin.Context) {
			handlers.ResetSession(c, db, store, logger)
		})
		mj.GET("/sessions/:sessionID/status", func(c *gin.Context) {
			handlers.SessionStatus(c, store, logger)
		})
		mj.GET("/sessions/:sessionID/events", func(c *gin.Context) {
			handlers.SessionEvents(c, store, logger)
		})

		// マクロフェーズ進行
		mj.POST("/sessions/:sessionID/start", func(c *gin.Context) {
			handlers.MJStartParty(c, store, reg, logger)
		})
		mj.POST("/sessions/:sessionID/players_ready", func(c *gin.Context) {
			handlers.MJPlayersReady(c, store, reg, logger)
		})
		mj.POST("/sessions/:sessionID/envelopes_done", func(c *gin.Context) {
			handlers.MJEnvelopesDone(c, store, reg, logger)
		})
		mj.POST("/sessions/:sessionID/canon", func(c *gin.Context) {
			handlers.MJSetCanon(c, db, store, logger)
		})

		// ラウンド進行
		mj.GET("/sessions/:sessionID/round", func(c *gin.Context) {
			handlers.MJRoundStatus(c, store, logger)
		})
		mj.POST("/sessions/:sessionID/round/begin", func(c *gin.Context) {
			handlers.MJBeginRound(c, store, logger)
		})
		mj.POST("/sessions/:sessionID/round/confirm", func(c *gin.Context) {
			handlers.MJConfirmStart(c, store, logger)
		})
		mj.POST("/sessions/:sessionID/round/finish", func(c *gin.Context) {
			handlers.MJFinishRound(c, store, logger)
		})
		mj.POST("/sessions/:sessionID/round/abort_timer", func(c *gin.Context) {
			handlers.MJAbortTimer(c, store, logger)
		})

		// 封筒の管理
		mj.POST("/sessions/:sessionID/envelopes/distribute", func(c *gin.Context) {
			handlers.MJDistributeEnvelopes(c, store, reg, logger)
		})
		mj.POST("/sessions/:sessionID/envelopes/reset", func(c *gin.Context) {
			handlers.MJResetEnvelopes(c, store, logger)
		})
		mj.POST("/sessions/:sessionID/envelopes/assign", func(c *gin.Context) {
			handlers.MJAssignEnvelope(c, store, reg, logger)
		})
		mj.GET("/sessions/:sessionID/envelopes/summary", func(c *gin.Context) {
			handlers.MJEnvelopesSummary(c, store, logger)
		})

		// ヒント配信
		mj.POST("/sessions/:sessionID/rounds/prepare", func(c *gin.Context) {
			handlers.MJPrepareRound(c, store, logger)
		})
		mj.POST("/sessions/:sessionID/hints/deliver", func(c *gin.Context) {
			handlers.MJDeliverHint(c, store, reg, logger)
		})
		mj.POST("/sessions/:sessionID/hints/destroy", func(c *gin.Context) {
			handlers.MJDestroyHint(c, store, reg, logger)
		})
	}

	// テスト時はHTTPサーバーとして運用。デフォルトポートは ":8080"
	router.Run()

	// // 本番環境ではコメントアウトを解除し、HTTPSサーバーとして運用
	// err = router.RunTLS(":443", "path/to/cert.pem", "path/to/key.pem")
	// if err != nil {
	// 	logger.Fatal("Failed to run HTTPS server: ", zap.Error(err))
	// }
}
