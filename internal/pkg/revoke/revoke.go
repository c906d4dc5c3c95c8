package revoke

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "blogapi:revoked:jti:"

// List 是基于 Redis 的 token 吊销列表。
//
// 每个被吊销的 token id 存为一个带 TTL 的 key，过期后自动清除。
type List struct {
	rdb *redis.Client
}

// NewList 创建吊销列表。
func NewList(rdb *redis.Client) *List {
	return &List{rdb: rdb}
}

// Revoke 将 id 标记为已吊销，持续 ttl。ttl <= 0 时不写入。
func (l *List) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	if l == nil || l.rdb == nil || id == "" || ttl <= 0 {
		return nil
	}
	if err := l.rdb.SetNX(ctx, keyPrefix+id, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke setnx: %w", err)
	}
	return nil
}

// IsRevoked 判断 id 是否已被吊销。
func (l *List) IsRevoked(ctx context.Context, id string) (bool, error) {
	if l == nil || l.rdb == nil || id == "" {
		return false, nil
	}
	n, err := l.rdb.Exists(ctx, keyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("revoke exists: %w", err)
	}
	return n > 0, nil
}
