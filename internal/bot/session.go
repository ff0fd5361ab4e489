package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/ordertracker/internal/model"
)

const (
	defaultSessionKeyPrefix = "ordertracker:session:"
	defaultMaxSessions      = 10000
)

// AwaitingOrderID はプラットフォーム選択後、注文番号の入力を待っている状態。
type AwaitingOrderID struct {
	Platform  model.Platform `json:"platform"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Expired は状態の有効期限が切れているかを返す。
func (s *AwaitingOrderID) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionStore はユーザーごとの会話状態を保持する。
type SessionStore interface {
	// Get はユーザーの会話状態を返す。存在しない場合・期限切れの場合はnilを返す。
	Get(ctx context.Context, userID int64) (*AwaitingOrderID, error)
	// Set はユーザーの会話状態を保存する。ExpiresAtを過ぎると自動的に無効になる。
	Set(ctx context.Context, userID int64, state *AwaitingOrderID) error
	// Delete はユーザーの会話状態を削除する。
	Delete(ctx context.Context, userID int64) error
}

// RedisSessionStore はRedisに会話状態を保存するSessionStore。
// 複数インスタンスで状態を共有でき、再起動後も有効期限内の状態が残る。
type RedisSessionStore struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// NewRedisSessionStore はREDIS_URL形式のURLからRedisSessionStoreを生成し、接続を確認する。
func NewRedisSessionStore(ctx context.Context, redisURL string) (*RedisSessionStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSessionStoreWithClient(client, ""), nil
}

// NewRedisSessionStoreWithClient は既存のRedisクライアントからRedisSessionStoreを生成する。
func NewRedisSessionStoreWithClient(client *redis.Client, keyPrefix string) *RedisSessionStore {
	if keyPrefix == "" {
		keyPrefix = defaultSessionKeyPrefix
	}
	return &RedisSessionStore{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

func (s *RedisSessionStore) key(userID int64) string {
	return s.keyPrefix + strconv.FormatInt(userID, 10)
}

// Get はユーザーの会話状態を返す。
func (s *RedisSessionStore) Get(ctx context.Context, userID int64) (*AwaitingOrderID, error) {
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var state AwaitingOrderID
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if state.Expired(s.now()) {
		return nil, nil
	}
	return &state, nil
}

// Set はユーザーの会話状態をExpiresAtまでのTTL付きで保存する。
func (s *RedisSessionStore) Set(ctx context.Context, userID int64, state *AwaitingOrderID) error {
	ttl := state.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.Delete(ctx, userID)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	return nil
}

// Delete はユーザーの会話状態を削除する。
func (s *RedisSessionStore) Delete(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close はRedisクライアントを閉じる。
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

// Ping はRedisへの疎通を確認する。
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MemorySessionStore はプロセス内メモリに会話状態を保持するSessionStore。
// 保持件数に上限があり、上限到達時は期限切れの状態、次に期限が最も近い状態から破棄する。
type MemorySessionStore struct {
	mu         sync.Mutex
	sessions   map[int64]AwaitingOrderID
	maxEntries int
	now        func() time.Time
}

// NewMemorySessionStore はMemorySessionStoreを生成する。maxEntriesが0以下の場合は既定値を使う。
func NewMemorySessionStore(maxEntries int) *MemorySessionStore {
	if maxEntries <= 0 {
		maxEntries = defaultMaxSessions
	}
	return &MemorySessionStore{
		sessions:   make(map[int64]AwaitingOrderID),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get はユーザーの会話状態を返す。期限切れの状態はここで削除する。
func (s *MemorySessionStore) Get(_ context.Context, userID int64) (*AwaitingOrderID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	if state.Expired(s.now()) {
		delete(s.sessions, userID)
		return nil, nil
	}
	return &state, nil
}

// Set はユーザーの会話状態を保存する。
func (s *MemorySessionStore) Set(_ context.Context, userID int64, state *AwaitingOrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[userID]; !exists && len(s.sessions) >= s.maxEntries {
		s.evictLocked()
	}
	s.sessions[userID] = *state
	return nil
}

// Delete はユーザーの会話状態を削除する。
func (s *MemorySessionStore) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, userID)
	return nil
}

// Len は保持している状態の件数を返す。
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *MemorySessionStore) evictLocked() {
	now := s.now()
	for id, state := range s.sessions {
		if state.Expired(now) {
			delete(s.sessions, id)
		}
	}
	if len(s.sessions) < s.maxEntries {
		return
	}

	var oldestID int64
	var oldest time.Time
	first := true
	for id, state := range s.sessions {
		if first || state.ExpiresAt.Before(oldest) {
			oldestID, oldest, first = id, state.ExpiresAt, false
		}
	}
	delete(s.sessions, oldestID)
}

var (
	_ SessionStore = (*RedisSessionStore)(nil)
	_ SessionStore = (*MemorySessionStore)(nil)
)
