package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenPrefix はトークンキーの接頭辞。
const redisTokenPrefix = "portal:token:"

// RedisTokenRepo はRedisを使用したトークンリポジトリ。
// 有効期限はRedisのTTLに任せる。
type RedisTokenRepo struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisTokenRepo はRedisTokenRepoを生成する。
func NewRedisTokenRepo(client redis.UniversalClient) *RedisTokenRepo {
	return &RedisTokenRepo{client: client, now: time.Now}
}

func redisTokenKey(key string) string {
	return redisTokenPrefix + key
}

// Save はペイロードをTTL付きで保存する。期限が過去の場合は削除する。
func (r *RedisTokenRepo) Save(ctx context.Context, key string, payload []byte, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return r.Delete(ctx, key)
	}
	if err := r.client.Set(ctx, redisTokenKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Load はペイロードを取得する。存在しない場合はnilを返す。
func (r *RedisTokenRepo) Load(ctx context.Context, key string) ([]byte, error) {
	payload, err := r.client.Get(ctx, redisTokenKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	return payload, nil
}

// Delete はペイロードを削除する。
func (r *RedisTokenRepo) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisTokenKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// DeleteExpired はTTLで自動削除されるため何もしない。
func (r *RedisTokenRepo) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}

// compile-time interface check
var _ TokenRepository = (*RedisTokenRepo)(nil)
