package internal_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/puzzle-race/internal"
	"github.com/koopa0/system-design/puzzle-race/internal/testutils"
)

// TestPostgresMatchStore 測試 PostgreSQL 對局紀錄
func TestPostgresMatchStore(t *testing.T) {
	env := testutils.SetupPostgres(t)
	store := internal.NewPostgresMatchStore(env.PostgresPool, env.Logger)
	ctx := t.Context()

	require.NoError(t, store.Ping(ctx))

	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("record and query", func(t *testing.T) {
		env.TruncateMatches(t)

		require.NoError(t, store.Record(ctx, matchAt("m1", "r1", "alice", now)))
		require.NoError(t, store.Record(ctx, matchAt("m2", "r2", "", now.Add(time.Second))))
		require.NoError(t, store.Record(ctx, matchAt("m3", "r1", "bob", now.Add(2*time.Second))))

		all, err := store.Recent(ctx, "", 10)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "m3", all[0].ID)
		assert.Equal(t, "m1", all[2].ID)

		m2 := all[1]
		assert.Equal(t, "r2", m2.RoomID)
		assert.Empty(t, m2.Winner)
		assert.True(t, m2.TimedOut)
		assert.WithinDuration(t, now.Add(time.Second), m2.EndedAt, time.Millisecond)
		assert.Equal(t, []internal.PlayerStanding{{Name: "alice", CorrectTiles: 15, Ready: true}}, m2.Standings)

		r1, err := store.Recent(ctx, "r1", 10)
		require.NoError(t, err)
		require.Len(t, r1, 2)
		assert.Equal(t, "bob", r1[0].Winner)

		limited, err := store.Recent(ctx, "", 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("duplicate match id is ignored", func(t *testing.T) {
		env.TruncateMatches(t)

		result := matchAt("dup", "r1", "alice", now)
		require.NoError(t, store.Record(ctx, result))
		require.NoError(t, store.Record(ctx, result))

		all, err := store.Recent(ctx, "", 10)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("manager archives into postgres", func(t *testing.T) {
		env.TruncateMatches(t)

		m, _ := newTestManager(t, longGame, nearSolvedBoard, internal.WithMatchStore(store))
		startGame(t, m, "pg-room", "alice")
		_, err := m.Move("pg-room", "alice", swapped(nearSolvedBoard, 14, 15))
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			matches, err := m.RecentMatches(ctx, "pg-room", 10)
			return err == nil && len(matches) == 1 && matches[0].Winner == "alice"
		}, 5*time.Second, 50*time.Millisecond)
	})
}

// TestRedisLeaderboard 測試 Redis 排行榜
func TestRedisLeaderboard(t *testing.T) {
	env := testutils.SetupRedis(t)
	ctx := t.Context()

	t.Run("ranking", func(t *testing.T) {
		env.FlushRedis(t)
		lb := internal.NewRedisLeaderboard(env.RedisClient, "", env.Logger)

		for _, name := range []string{"alice", "bob", "alice", "carol", "alice", "bob"} {
			require.NoError(t, lb.RecordWin(ctx, name))
		}

		top, err := lb.Top(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []internal.LeaderboardEntry{
			{Name: "alice", Wins: 3},
			{Name: "bob", Wins: 2},
		}, top)

		top, err = lb.Top(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, top, 3)
	})

	t.Run("separate keys", func(t *testing.T) {
		env.FlushRedis(t)
		a := internal.NewRedisLeaderboard(env.RedisClient, "lb:a", env.Logger)
		b := internal.NewRedisLeaderboard(env.RedisClient, "lb:b", env.Logger)

		require.NoError(t, a.RecordWin(ctx, "alice"))

		top, err := b.Top(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, top)
	})

	t.Run("manager records wins", func(t *testing.T) {
		env.FlushRedis(t)
		lb := internal.NewRedisLeaderboard(env.RedisClient, "", env.Logger)

		m, _ := newTestManager(t, longGame, nearSolvedBoard, internal.WithLeaderboard(lb))
		startGame(t, m, "redis-room", "alice")
		_, err := m.Move("redis-room", "alice", swapped(nearSolvedBoard, 14, 15))
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			top, err := m.TopPlayers(ctx, 10)
			return err == nil && len(top) == 1 && top[0].Wins == 1
		}, 5*time.Second, 50*time.Millisecond)
	})
}
