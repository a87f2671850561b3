package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMatchStore 以 PostgreSQL 保存對局紀錄
//
// 資料表由 internal/migrations 建立。房間狀態本身不落地，只保存結束的對局。
type PostgresMatchStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresMatchStore 創建 PostgreSQL 對局紀錄
func NewPostgresMatchStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresMatchStore {
	return &PostgresMatchStore{pool: pool, logger: logger}
}

// Record 寫入一筆對局，重複的 match_id 忽略
func (s *PostgresMatchStore) Record(ctx context.Context, result MatchResult) error {
	standings, err := json.Marshal(result.Standings)
	if err != nil {
		return fmt.Errorf("marshal standings: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO matches (id, room_id, winner, timed_out, standings, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		result.ID,
		result.RoomID,
		result.Winner,
		result.TimedOut,
		standings,
		result.StartedAt,
		result.EndedAt,
	)
	if err != nil {
		s.logger.Error("postgres record match failed",
			"match_id", result.ID,
			"room_id", result.RoomID,
			"error", err)
		return fmt.Errorf("insert match: %w", err)
	}

	return nil
}

// Recent 由新到舊返回最近的對局
func (s *PostgresMatchStore) Recent(ctx context.Context, roomID string, limit int) ([]MatchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, winner, timed_out, standings, started_at, ended_at
		FROM matches
		WHERE $1::text = '' OR room_id = $1::text
		ORDER BY ended_at DESC
		LIMIT $2`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MatchResult, error) {
		var (
			m         MatchResult
			standings []byte
		)
		if err := row.Scan(&m.ID, &m.RoomID, &m.Winner, &m.TimedOut, &standings, &m.StartedAt, &m.EndedAt); err != nil {
			return m, err
		}
		if err := json.Unmarshal(standings, &m.Standings); err != nil {
			return m, fmt.Errorf("unmarshal standings: %w", err)
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect matches: %w", err)
	}

	return results, nil
}

// Ping 檢查連線
func (s *PostgresMatchStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
