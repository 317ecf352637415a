package api

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"

	"region-sync/internal/logger"
)

// Deduper：短周期去重；true 表示首次出现，可以继续处理
type Deduper interface {
	FirstSeen(ctx context.Context, key string) bool
}

// 文档注释：计算布隆过滤器位置
// 背景：使用 FNV64a 结合索引扰动生成 k 个位置，用于 GetBit/SetBit。
// 约束：m 取 2 的幂分布更均匀；k 越大误判越低、写入越多。
func bloomPositions(data []byte, m uint32, k int) []int64 {
	pos := make([]int64, k)
	for i := 0; i < k; i++ {
		h := fnv.New64a()
		h.Write([]byte{byte(i)})
		h.Write(data)
		pos[i] = int64(uint32(h.Sum64() % uint64(m)))
	}
	return pos
}

// 文档注释：打击请求去重
// 背景：界面上的重复点击会在几秒内重复发出同一区域的打击请求，后端不做幂等。
// 约束：位图按窗口滚动，窗口过期后同一区域可再次请求；Redis 出错时放行，不阻断主流程。
type RedisBloom struct {
	rc     *redis.Client
	m      uint32
	k      int
	window time.Duration
	now    func() time.Time
}

// NewRedisBloom：rc 为空时返回 nil
func NewRedisBloom(rc *redis.Client, window time.Duration) *RedisBloom {
	if rc == nil {
		return nil
	}
	if window <= 0 {
		window = 5 * time.Second
	}
	return &RedisBloom{rc: rc, m: 1 << 16, k: 3, window: window, now: time.Now}
}

func (b *RedisBloom) bucketKey() string {
	return "regionsync:dedupe:" + b.now().Truncate(b.window).Format("20060102T150405")
}

func (b *RedisBloom) FirstSeen(ctx context.Context, key string) bool {
	bk := b.bucketKey()
	positions := bloomPositions([]byte(key), b.m, b.k)
	seen := true
	for _, p := range positions {
		v, err := b.rc.GetBit(ctx, bk, p).Result()
		if err != nil {
			logger.L().Warn("dedupe_redis_error", "err", err)
			return true
		}
		if v == 0 {
			seen = false
		}
	}
	if seen {
		return false
	}
	pipe := b.rc.TxPipeline()
	for _, p := range positions {
		pipe.SetBit(ctx, bk, p, 1)
	}
	pipe.Expire(ctx, bk, 2*b.window)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.L().Warn("dedupe_redis_error", "err", err)
	}
	return true
}
