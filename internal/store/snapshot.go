package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"region-sync/internal/logger"
	"region-sync/internal/metrics"
	"region-sync/internal/model"
)

const snapshotPrefix = "regionsync:toplevel:"

// kv: SnapshotCache 所需的最小键值操作；miss 以 (nil, false, nil) 表示
type kv interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type redisKV struct{ rc *redis.Client }

func (r redisKV) get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rc.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r redisKV) set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.rc.Set(ctx, key, val, ttl).Err()
}

// 文档注释：顶层区域集合的最近一次成功快照
// 背景：启动时上游尚未返回，先用快照填充地图；快照过期后自然失效。
type SnapshotCache struct {
	kv  kv
	ttl time.Duration
}

// NewSnapshotCache: rc 为空时返回 nil，调用方据此跳过快照
func NewSnapshotCache(rc *redis.Client, ttl time.Duration) *SnapshotCache {
	if rc == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SnapshotCache{kv: redisKV{rc: rc}, ttl: ttl}
}

func (c *SnapshotCache) SaveTopLevel(ctx context.Context, t model.RegionType, regions []model.Region) error {
	b, err := json.Marshal(regions)
	if err != nil {
		return err
	}
	if err := c.kv.set(ctx, snapshotPrefix+string(t), b, c.ttl); err != nil {
		return err
	}
	logger.L().Debug("snapshot_saved", "type", t, "regions", len(regions), "bytes", len(b))
	return nil
}

func (c *SnapshotCache) LoadTopLevel(ctx context.Context, t model.RegionType) ([]model.Region, bool, error) {
	b, ok, err := c.kv.get(ctx, snapshotPrefix+string(t))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		metrics.SnapshotMissesTotal.Inc()
		return nil, false, nil
	}
	var regions []model.Region
	if err := json.Unmarshal(b, &regions); err != nil {
		metrics.SnapshotMissesTotal.Inc()
		logger.L().Warn("snapshot_corrupt", "type", t, "err", err)
		return nil, false, nil
	}
	metrics.SnapshotHitsTotal.Inc()
	return regions, true, nil
}
