package api

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisRateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// incrWithTTL 计数并在首次写入时设置过期时间。
func incrWithTTL(ctx context.Context, client redisRateCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}

// fixedWindow 固定窗口限流，key 按窗口起点分桶。
type fixedWindow struct {
	prefix string
	size   time.Duration
	limit  int64
}

var (
	loginWindow  = fixedWindow{prefix: "rate:login", size: time.Hour}
	publicWindow = fixedWindow{prefix: "rate:public", size: time.Minute}
)

func (w fixedWindow) withLimit(limit int) fixedWindow {
	w.limit = int64(limit)
	return w
}

func (w fixedWindow) key(now time.Time, parts ...string) string {
	bucket := strconv.FormatInt(now.Truncate(w.size).Unix(), 10)
	return w.prefix + ":" + strings.Join(append(parts, bucket), ":")
}

// allow 返回本次请求是否在限额内；limit<=0 表示不限流。
func (w fixedWindow) allow(ctx context.Context, client redisRateCounter, parts ...string) (bool, error) {
	if w.limit <= 0 {
		return true, nil
	}
	count, err := incrWithTTL(ctx, client, w.key(time.Now(), parts...), w.size)
	if err != nil {
		return false, err
	}
	return count <= w.limit, nil
}
