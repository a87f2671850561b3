package internal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisLeaderboard 以 Redis sorted set 保存勝場數
//
// 多個伺服器程序共用同一份排行榜；房間狀態仍只存在各自程序的記憶體中。
type RedisLeaderboard struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisLeaderboard 創建 Redis 排行榜，key 為空時使用預設值
func NewRedisLeaderboard(client *redis.Client, key string, logger *slog.Logger) *RedisLeaderboard {
	if key == "" {
		key = "puzzle:leaderboard:wins"
	}
	return &RedisLeaderboard{client: client, key: key, logger: logger}
}

// RecordWin 勝場加一
func (l *RedisLeaderboard) RecordWin(ctx context.Context, name string) error {
	if err := l.client.ZIncrBy(ctx, l.key, 1, name).Err(); err != nil {
		l.logger.Error("redis record win failed", "player", name, "error", err)
		return fmt.Errorf("zincrby: %w", err)
	}
	return nil
}

// Top 返回勝場最多的 n 位
func (l *RedisLeaderboard) Top(ctx context.Context, n int) ([]LeaderboardEntry, error) {
	if n <= 0 {
		n = 10
	}

	zs, err := l.client.ZRevRangeWithScores(ctx, l.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(zs))
	for _, z := range zs {
		name, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, LeaderboardEntry{Name: name, Wins: int64(z.Score)})
	}
	return entries, nil
}
