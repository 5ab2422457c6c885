package party

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"mpserver/auth"
	"mpserver/models"
	"mpserver/party/registry"
	"mpserver/party/session"

	"go.uber.org/zap"

	"github.com/gorilla/websocket"
)

// identifyMessage はクライアントからの identify メッセージです。
// player_id を直接渡すか、登録時に発行されたJWTトークンを渡します。
type identifyMessage struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id,omitempty"`
	Token    string `json:"token,omitempty"`
}

// WebSocket接続へのアップグレードを行う関数。
// 接続はまず pending として登録され、identify が届いた時点でプレイヤーに紐づきます。
func HandleConnections(ctx context.Context, w http.ResponseWriter, r *http.Request, store *session.Store, reg *registry.Registry, logger *zap.Logger, upgrader websocket.Upgrader) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// WebSocket接続のアップグレードに失敗
		logger.Error("Error upgrading WebSocket", zap.Error(err))
		return
	}

	client := reg.Connect(conn)
	logger.Info("New connection registered as pending")

	// WebSocketのCloseHandlerを設定
	conn.SetCloseHandler(func(code int, text string) error {
		logger.Info("WebSocket closed", zap.Int("code", code), zap.String("reason", text))
		reg.Disconnect(client)
		return nil
	})

	// クライアントごとにメッセージ読み取りゴルーチンを起動
	go readLoop(client, conn, store, reg, logger)

	// Ping/Pongを管理するゴルーチンを起動
	go pingLoop(client, conn, reg, logger)
}

// readLoop は identify とその後のメッセージを処理します。
func readLoop(client *models.Client, conn *websocket.Conn, store *session.Store, reg *registry.Registry, logger *zap.Logger) {
	defer reg.Disconnect(client)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		var msg identifyMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Error("Error decoding ws message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "identify":
			playerID := msg.PlayerID
			if msg.Token != "" {
				claims, err := auth.ParseClaims(msg.Token)
				if err != nil {
					logger.Error("Invalid identify token", zap.Error(err))
					sendError(client, "invalid token")
					continue
				}
				playerID = claims.PlayerID
			}
			if playerID == "" {
				sendError(client, "player_id required")
				continue
			}
			reg.Identify(client, playerID)
			logger.Info("Connection identified", zap.String("playerID", playerID))
			reg.SendTypeToPlayer(playerID, "identified", map[string]any{"player_id": playerID})

			// 接続直後の画面復元用に、所属セッションがあれば現フェーズを知らせる
			if state, ok := store.FindByPlayer(playerID); ok {
				state.Lock()
				label := state.PhaseLabel()
				state.Unlock()
				reg.SendTypeToPlayer(playerID, "phase", map[string]any{
					"session_id": state.SessionID,
					"phase":      label,
				})
			}
		case "ping":
			// アプリレベルのping。生存確認のみで応答不要
		default:
			logger.Info("Received unknown message type", zap.String("type", msg.Type))
		}
	}
}

// pingLoop は定期的にPingを送り、Pongで読み取りデッドラインを更新します。
func pingLoop(client *models.Client, conn *websocket.Conn, reg *registry.Registry, logger *zap.Logger) {
	defer reg.Disconnect(client)

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second)) // 60秒の読み取りデッドライン
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	pingPeriod := 10 * time.Second // 10秒ごとにPingを送信
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
			logger.Info("Ping failed, dropping connection", zap.Error(err))
			return
		}
	}
}

// sendError はエラーメッセージを該当クライアントにのみ返します。
func sendError(client *models.Client, message string) {
	data, _ := json.Marshal(map[string]string{"error": message})
	_ = client.Send(data)
}
