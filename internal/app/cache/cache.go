// Package cache stores derived dataset artifacts in redis so repeated
// validation and describe calls for the same path skip recomputation.
// Every failure degrades to a cache miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/veritrace/platform/internal/app/domain/ingest"
	"github.com/veritrace/platform/internal/app/domain/quality"
	"github.com/veritrace/platform/internal/config"
	"github.com/veritrace/platform/pkg/logger"
)

// Cache stores the latest quality report and source stats per dataset path.
type Cache interface {
	GetReport(ctx context.Context, path string) (quality.Report, bool)
	SetReport(ctx context.Context, path string, rep quality.Report)
	GetSourceInfo(ctx context.Context, path string) (ingest.SourceInfo, bool)
	SetSourceInfo(ctx context.Context, path string, info ingest.SourceInfo)
	Invalidate(ctx context.Context, path string)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Cache = (*Redis)(nil)
	_ Cache = Nop{}
)

// Redis is the redis-backed cache.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedis connects a cache to redis. The connection is lazy; callers
// that need to know whether redis is reachable should Ping.
func NewRedis(cfg config.RedisConfig, log *logger.Logger) *Redis {
	if log == nil {
		log = logger.NewDefault("cache")
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Duration(config.Default().Redis.TTLSeconds) * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{client: client, ttl: ttl, log: log}
}

func (c *Redis) GetReport(ctx context.Context, path string) (quality.Report, bool) {
	var rep quality.Report
	if !c.get(ctx, reportKey(path), &rep) {
		return quality.Report{}, false
	}
	return rep, true
}

func (c *Redis) SetReport(ctx context.Context, path string, rep quality.Report) {
	c.set(ctx, reportKey(path), rep)
}

func (c *Redis) GetSourceInfo(ctx context.Context, path string) (ingest.SourceInfo, bool) {
	var info ingest.SourceInfo
	if !c.get(ctx, sourceKey(path), &info) {
		return ingest.SourceInfo{}, false
	}
	return info, true
}

func (c *Redis) SetSourceInfo(ctx context.Context, path string, info ingest.SourceInfo) {
	c.set(ctx, sourceKey(path), info)
}

// Invalidate drops all cached artifacts for a path. Called after a
// pipeline run rewrites the dataset behind it.
func (c *Redis) Invalidate(ctx context.Context, path string) {
	if err := c.client.Del(ctx, reportKey(path), sourceKey(path)).Err(); err != nil {
		c.log.WithError(err).WithField("path", path).Warn("cache invalidate failed")
	}
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Redis) Close() error {
	return c.client.Close()
}

func (c *Redis) get(ctx context.Context, key string, out any) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).WithField("key", key).Warn("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache entry corrupt")
		return false
	}
	return true
}

func (c *Redis) set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache encode failed")
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache write failed")
	}
}

func reportKey(path string) string { return "veritrace:report:" + path }
func sourceKey(path string) string { return "veritrace:source:" + path }

// Nop is the cache used when redis is not configured. Reads always
// miss and writes are discarded.
type Nop struct{}

func (Nop) GetReport(context.Context, string) (quality.Report, bool) {
	return quality.Report{}, false
}
func (Nop) SetReport(context.Context, string, quality.Report) {}
func (Nop) GetSourceInfo(context.Context, string) (ingest.SourceInfo, bool) {
	return ingest.SourceInfo{}, false
}
func (Nop) SetSourceInfo(context.Context, string, ingest.SourceInfo) {}
func (Nop) Invalidate(context.Context, string)                       {}
func (Nop) Ping(context.Context) error                               { return nil }
func (Nop) Close() error                                             { return nil }
