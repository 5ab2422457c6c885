package registry

import (
	"encoding/json"
	"sync"

	"mpserver/models"

	"go.uber.org/zap"
)

// Registry はプロセス全体で共有する接続レジストリです。
// pending（identify前）と playerID ごとのバケットを管理します。
// 不変条件: 1接続は常に pending か1つのバケットのどちらか一方にだけ属します。
type Registry struct {
	mu       sync.Mutex
	logger   *zap.Logger
	pending  map[*models.Client]bool
	byPlayer map[string]map[*models.Client]bool
}

func New(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger,
		pending:  make(map[*models.Client]bool),
		byPlayer: make(map[string]map[*models.Client]bool),
	}
}

// Connect は新規接続を pending として登録し、クライアントハンドルを返します。
func (r *Registry) Connect(conn models.WSConn) *models.Client {
	client := &models.Client{Conn: conn}
	r.mu.Lock()
	r.pending[client] = true
	r.mu.Unlock()
	return client
}

// removeLocked は接続を所属しうる全ての場所から取り除きます。
func (r *Registry) removeLocked(client *models.Client) {
	delete(r.pending, client)
	for pid, bucket := range r.byPlayer {
		if bucket[client] {
			delete(bucket, client)
			if len(bucket) == 0 {
				delete(r.byPlayer, pid)
			}
		}
	}
}

// Identify は接続を playerID に紐づけます。再identifyは同一IDならno-op、
// 別IDならアトミックに移動します。
func (r *Registry) Identify(client *models.Client, playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client.PlayerID == playerID {
		if bucket := r.byPlayer[playerID]; bucket != nil && bucket[client] {
			return
		}
	}
	r.removeLocked(client)
	client.PlayerID = playerID
	bucket := r.byPlayer[playerID]
	if bucket == nil {
		bucket = make(map[*models.Client]bool)
		r.byPlayer[playerID] = bucket
	}
	bucket[client] = true
}

// Disconnect は接続を全バケットから外し、トランスポートを閉じます。
// 未登録の接続を渡されても安全です。
func (r *Registry) Disconnect(client *models.Client) {
	if client == nil {
		return
	}
	r.mu.Lock()
	r.removeLocked(client)
	r.mu.Unlock()
	if client.Conn != nil {
		_ = client.Conn.Close()
	}
}

// evict は死んだ接続を黙って外します（送信失敗時の内部処理）。
func (r *Registry) evict(client *models.Client) {
	r.mu.Lock()
	r.removeLocked(client)
	r.mu.Unlock()
	if client.Conn != nil {
		_ = client.Conn.Close()
	}
	r.logger.Info("Dead connection evicted", zap.String("playerID", client.PlayerID))
}

// sendOne は1接続へ送信し、成功したかを返します。失敗した接続は除去されます。
func (r *Registry) sendOne(client *models.Client, data []byte) bool {
	if err := client.Send(data); err != nil {
		r.evict(client)
		return false
	}
	return true
}

// ---------- スナップショット ----------
// 送信失敗時の除去がレジストリを書き換えるため、
// イテレーション前に必ず受信者リストを複製します。

func (r *Registry) snapshotPlayer(playerID string) []*models.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket := r.byPlayer[playerID]
	out := make([]*models.Client, 0, len(bucket))
	for client := range bucket {
		out = append(out, client)
	}
	return out
}

func (r *Registry) snapshotIdentified() []*models.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Client
	for _, bucket := range r.byPlayer {
		for client := range bucket {
			out = append(out, client)
		}
	}
	return out
}

func (r *Registry) snapshotAll() []*models.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Client
	for _, bucket := range r.byPlayer {
		for client := range bucket {
			out = append(out, client)
		}
	}
	for client := range r.pending {
		out = append(out, client)
	}
	return out
}

// ---------- 送信 ----------

func marshalPayload(payload any, logger *zap.Logger) ([]byte, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Failed to marshal ws payload", zap.Error(err))
		return nil, false
	}
	return data, true
}

// SendToPlayer は対象プレイヤーの全接続へ送信し、成功数を返します。
func (r *Registry) SendToPlayer(playerID string, payload any) int {
	data, ok := marshalPayload(payload, r.logger)
	if !ok {
		return 0
	}
	success := 0
	for _, client := range r.snapshotPlayer(playerID) {
		if r.sendOne(client, data) {
			success++
		}
	}
	return success
}

// Broadcast は identify 済みの全接続へ送信し、成功数を返します。
func (r *Registry) Broadcast(payload any) int {
	data, ok := marshalPayload(payload, r.logger)
	if !ok {
		return 0
	}
	success := 0
	for _, client := range r.snapshotIdentified() {
		if r.sendOne(client, data) {
			success++
		}
	}
	return success
}

// BroadcastAll は pending を含む全接続へ送信し、成功数を返します。
func (r *Registry) BroadcastAll(payload any) int {
	data, ok := marshalPayload(payload, r.logger)
	if !ok {
		return 0
	}
	success := 0
	for _, client := range r.snapshotAll() {
		if r.sendOne(client, data) {
			success++
		}
	}
	return success
}

// ---------- 型付きヘルパー（{type, payload} エンベロープを組み立てる） ----------

func (r *Registry) SendTypeToPlayer(playerID, eventType string, payload any) int {
	return r.SendToPlayer(playerID, models.WSMessage{Type: eventType, Payload: payload})
}

func (r *Registry) BroadcastType(eventType string, payload any) int {
	return r.Broadcast(models.WSMessage{Type: eventType, Payload: payload})
}

func (r *Registry) BroadcastAllType(eventType string, payload any) int {
	return r.BroadcastAll(models.WSMessage{Type: eventType, Payload: payload})
}

// PendingCount / IdentifiedCount は診断用のカウンタです。
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) IdentifiedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, bucket := range r.byPlayer {
		n += len(bucket)
	}
	return n
}
