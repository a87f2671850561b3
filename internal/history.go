package internal

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MatchResult 一局結束後的紀錄
type MatchResult struct {
	ID        string           `json:"match_id"`
	RoomID    string           `json:"room_id"`
	Winner    string           `json:"winner,omitempty"` // 逾時結束時為空
	TimedOut  bool             `json:"timed_out"`
	Standings []PlayerStanding `json:"standings"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
}

// MatchStore 對局紀錄存放
type MatchStore interface {
	Record(ctx context.Context, result MatchResult) error
	// Recent 返回最近的對局，roomID 為空時不過濾房間
	Recent(ctx context.Context, roomID string, limit int) ([]MatchResult, error)
}

// LeaderboardEntry 排行榜的一筆
type LeaderboardEntry struct {
	Name string `json:"name"`
	Wins int64  `json:"wins"`
}

// Leaderboard 勝場排行
type Leaderboard interface {
	RecordWin(ctx context.Context, name string) error
	Top(ctx context.Context, n int) ([]LeaderboardEntry, error)
}

// MemoryMatchStore 記憶體版對局紀錄（未設定資料庫時使用）
type MemoryMatchStore struct {
	mu      sync.RWMutex
	results []MatchResult
	max     int
}

// NewMemoryMatchStore 創建記憶體版對局紀錄，最多保留 max 筆
func NewMemoryMatchStore(max int) *MemoryMatchStore {
	if max <= 0 {
		max = 1000
	}
	return &MemoryMatchStore{max: max}
}

// Record 新增紀錄，超過上限時丟棄最舊的
func (s *MemoryMatchStore) Record(_ context.Context, result MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, result)
	if over := len(s.results) - s.max; over > 0 {
		s.results = slices.Delete(s.results, 0, over)
	}
	return nil
}

// Recent 由新到舊返回，limit 不大於 0 時返回最多 20 筆
func (s *MemoryMatchStore) Recent(_ context.Context, roomID string, limit int) ([]MatchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]MatchResult, 0, min(limit, len(s.results)))
	for i := len(s.results) - 1; i >= 0 && len(out) < limit; i-- {
		if roomID != "" && s.results[i].RoomID != roomID {
			continue
		}
		out = append(out, s.results[i])
	}
	return out, nil
}

// MemoryLeaderboard 記憶體版排行榜（未設定 Redis 時使用）
type MemoryLeaderboard struct {
	mu   sync.Mutex
	wins map[string]int64
}

// NewMemoryLeaderboard 創建記憶體版排行榜
func NewMemoryLeaderboard() *MemoryLeaderboard {
	return &MemoryLeaderboard{wins: make(map[string]int64)}
}

// RecordWin 勝場加一
func (l *MemoryLeaderboard) RecordWin(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wins[name]++
	return nil
}

// Top 依勝場數由多到少，同分依名稱排序
func (l *MemoryLeaderboard) Top(_ context.Context, n int) ([]LeaderboardEntry, error) {
	l.mu.Lock()
	entries := make([]LeaderboardEntry, 0, len(l.wins))
	for name, wins := range l.wins {
		entries = append(entries, LeaderboardEntry{Name: name, Wins: wins})
	}
	l.mu.Unlock()

	slices.SortFunc(entries, func(a, b LeaderboardEntry) int {
		if c := cmp.Compare(b.Wins, a.Wins); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})

	if n <= 0 {
		n = 10
	}
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}
