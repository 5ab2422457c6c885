package models

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WSConn は接続レジストリが必要とする最小限のソケット操作です。
// 本番では *websocket.Conn、テストではフェイク実装を渡します。
type WSConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Websocketクライアントを定義。1接続＝1インスタンス。
// PlayerID が空の間は identify 待ちの pending 状態です。
type Client struct {
	Conn     WSConn
	PlayerID string

	writeMu sync.Mutex // gorilla/websocket は書き込みの直列化が必須
}

// Send はテキストフレームを1件書き込みます（接続単位で直列化）。
func (c *Client) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// WSMessage はクライアントへ送るメッセージの共通エンベロープです。
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}
