package session

import (
	"context"
	"strings"
	"sync"

	"mpserver/database"
	"mpserver/models"
	"mpserver/party/narration"
	"mpserver/party/rounds"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 参加コードに使う文字（紛らわしい I/O/0/1 は除外）
const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
const joinCodeLength = 6

// Store はセッション状態とラウンドエンジンのプロセス内キャッシュです。
// セッションはそれぞれ独立したロック単位で、Store自体のロックは
// マップ操作の間だけ保持します（セッションロックと入れ子にしない）。
type Store struct {
	mu       sync.Mutex
	logger   *zap.Logger
	rdb      *redis.Client // nil の場合はメモリのみ（テスト用）
	reg      rounds.Broadcaster
	gen      narration.Generator
	sessions map[string]*models.SessionState
	engines  map[string]*rounds.Engine
}

func NewStore(rdb *redis.Client, reg rounds.Broadcaster, gen narration.Generator, logger *zap.Logger) *Store {
	return &Store{
		logger:   logger,
		rdb:      rdb,
		reg:      reg,
		gen:      gen,
		sessions: make(map[string]*models.SessionState),
		engines:  make(map[string]*rounds.Engine),
	}
}

// persistFunc はRedisへの保存フックを作ります（rdb未設定ならno-op）。
func (s *Store) persistFunc() func(*models.SessionState) error {
	if s.rdb == nil {
		return nil
	}
	rdb := s.rdb
	logger := s.logger
	return func(state *models.SessionState) error {
		return database.SaveSessionState(context.Background(), rdb, state, logger)
	}
}

// Get は session_id に対応するセッション状態を返します。
// キャッシュに無ければRedisから復元し、それも無ければ新規作成します。
func (s *Store) Get(sessionID string) *models.SessionState {
	s.mu.Lock()
	if state, ok := s.sessions[sessionID]; ok {
		s.mu.Unlock()
		return state
	}
	s.mu.Unlock()

	// Redisからの読み出しはStoreロックの外で行う
	var state *models.SessionState
	if s.rdb != nil {
		loaded, err := database.LoadSessionState(context.Background(), s.rdb, sessionID, s.logger)
		if err == nil && loaded != nil {
			state = loaded
		}
	}
	if state == nil {
		state = models.NewSessionState(sessionID)
	}
	state.SetPersist(s.persistFunc())

	s.mu.Lock()
	defer s.mu.Unlock()
	// 競合した場合は先に入った方を正とする
	if existing, ok := s.sessions[sessionID]; ok {
		return existing
	}
	s.sessions[sessionID] = state
	return state
}

// Engine はセッションに対応するラウンドエンジンを返します（遅延生成）。
func (s *Store) Engine(sessionID string) *rounds.Engine {
	state := s.Get(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if engine, ok := s.engines[sessionID]; ok {
		return engine
	}
	engine := rounds.New(state, s.reg, s.gen, s.logger)
	s.engines[sessionID] = engine
	return engine
}

// Create は新しいセッションを作成し、参加コードを発番して永続化します。
func (s *Store) Create(sessionID string) *models.SessionState {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.New().String()
	}
	state := models.NewSessionState(sessionID)
	state.JoinCode = newJoinCode()
	state.SetPersist(s.persistFunc())
	if err := state.Save(); err != nil {
		s.logger.Error("Failed to persist new session", zap.Error(err))
	}

	s.mu.Lock()
	s.sessions[sessionID] = state
	delete(s.engines, sessionID)
	s.mu.Unlock()
	return state
}

// Drop はセッションをキャッシュから外します（永続データは消しません）。
// 残っているタイマーは止めてから外します。
func (s *Store) Drop(sessionID string) {
	s.mu.Lock()
	engine := s.engines[sessionID]
	delete(s.sessions, sessionID)
	delete(s.engines, sessionID)
	s.mu.Unlock()
	if engine != nil {
		engine.AbortTimer()
	}
}

// SessionIDs は現在キャッシュ中のセッション一覧を返します。
func (s *Store) SessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// FindByJoinCode は参加コードからセッションを検索します。
// まずキャッシュ、無ければRedisの逆引きインデックスを使います。
func (s *Store) FindByJoinCode(joinCode string) (*models.SessionState, bool) {
	code := strings.ToUpper(strings.TrimSpace(joinCode))
	if code == "" {
		return nil, false
	}

	s.mu.Lock()
	for _, state := range s.sessions {
		if strings.ToUpper(state.JoinCode) == code {
			s.mu.Unlock()
			return state, true
		}
	}
	s.mu.Unlock()

	if s.rdb != nil {
		sessionID, err := database.FindSessionIDByJoinCode(context.Background(), s.rdb, code, s.logger)
		if err == nil && sessionID != "" {
			return s.Get(sessionID), true
		}
	}
	return nil, false
}

// FindByPlayer はプレイヤーIDが属するセッションを検索します（キャッシュのみ）。
func (s *Store) FindByPlayer(playerID string) (*models.SessionState, bool) {
	if playerID == "" {
		return nil, false
	}
	s.mu.Lock()
	candidates := make([]*models.SessionState, 0, len(s.sessions))
	for _, state := range s.sessions {
		candidates = append(candidates, state)
	}
	s.mu.Unlock()

	for _, state := range candidates {
		state.Lock()
		_, ok := state.Players[playerID]
		state.Unlock()
		if ok {
			return state, true
		}
	}
	return nil, false
}

func newJoinCode() string {
	id := uuid.New()
	code := make([]byte, joinCodeLength)
	for i := 0; i < joinCodeLength; i++ {
		code[i] = joinCodeAlphabet[int(id[i])%len(joinCodeAlphabet)]
	}
	return string(code)
}
