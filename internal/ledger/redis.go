package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"AuraMCP/internal/guard"
)

// RedisCounterConfig 描述 Redis 计数器的连接参数。
type RedisCounterConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisCounter 使用 Redis 按天累计交易用量，支持多实例共享同一份计数。
type RedisCounter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCounter 创建 Redis 计数器实例。
func NewRedisCounter(cfg RedisCounterConfig) (*RedisCounter, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "auramcp:daily"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		// 保留两天，允许跨 UTC 午夜的读取。
		ttl = 48 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisCounter{client: client, prefix: prefix, ttl: ttl}, nil
}

func (r *RedisCounter) volumeKey(day time.Time) string {
	return fmt.Sprintf("%s:%s:volume", r.prefix, dayKey(day))
}

func (r *RedisCounter) countKey(day time.Time) string {
	return fmt.Sprintf("%s:%s:count", r.prefix, dayKey(day))
}

// Usage 实现 guard.UsageReader。
func (r *RedisCounter) Usage(ctx context.Context, day time.Time) (guard.DailyUsage, error) {
	values, err := r.client.MGet(ctx, r.volumeKey(day), r.countKey(day)).Result()
	if err != nil {
		return guard.DailyUsage{}, fmt.Errorf("读取 Redis 用量失败: %w", err)
	}

	var usage guard.DailyUsage
	if len(values) == 2 {
		if raw, ok := values[0].(string); ok {
			if volume, parseErr := strconv.ParseFloat(raw, 64); parseErr == nil {
				usage.VolumeUSD = volume
			}
		}
		if raw, ok := values[1].(string); ok {
			if count, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
				usage.Transactions = count
			}
		}
	}
	return usage, nil
}

// Record 原子地累加当日用量并刷新过期时间。
func (r *RedisCounter) Record(ctx context.Context, day time.Time, volumeUSD float64) error {
	volumeKey := r.volumeKey(day)
	countKey := r.countKey(day)

	pipe := r.client.TxPipeline()
	pipe.IncrByFloat(ctx, volumeKey, volumeUSD)
	pipe.Incr(ctx, countKey)
	pipe.Expire(ctx, volumeKey, r.ttl)
	pipe.Expire(ctx, countKey, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("Redis 记录用量失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (r *RedisCounter) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

var _ Counter = (*RedisCounter)(nil)
