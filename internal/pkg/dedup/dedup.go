package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "buypilot:dedup:source:"

// Deduplicator 记录最近导入过的来源地址。
// 同一商品在去重窗口内重复导入时直接跳过，不再打扰后端。
type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Deduplicator{
		rdb: rdb,
		ttl: ttl,
	}
}

// IsDuplicate 检查来源地址是否在窗口内出现过，未出现则登记。
func (d *Deduplicator) IsDuplicate(ctx context.Context, sourceURL string) (bool, error) {
	if d == nil || d.rdb == nil || sourceURL == "" {
		return false, nil
	}
	key := keyPrefix + hashSource(sourceURL)
	ok, err := d.rdb.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

// Delete 清除来源地址的去重记录（导入失败后允许立即重试）。
func (d *Deduplicator) Delete(ctx context.Context, sourceURL string) error {
	if d == nil || d.rdb == nil || sourceURL == "" {
		return nil
	}
	key := keyPrefix + hashSource(sourceURL)
	if err := d.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

func hashSource(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return hex.EncodeToString(sum[:])
}
