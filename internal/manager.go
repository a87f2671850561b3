package internal

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperr "github.com/koopa0/system-design/puzzle-race/pkg/errors"
)

// Manager 房間管理器（房間註冊表）
//
// 鎖順序：註冊表 m.mu → 房間 r.mu → Broadcaster。房間從不取得註冊表的鎖。
type Manager struct {
	rooms map[string]*Room // roomID -> Room
	mu    sync.RWMutex

	cfg         GameConfig
	newBoard    func() Board
	broadcaster atomic.Pointer[busHolder]
	generations atomic.Uint64

	matches     MatchStore
	leaderboard Leaderboard
	results     chan MatchResult
	archived    atomic.Int64

	logger   *slog.Logger
	stopped  atomic.Bool // Stop 之後拒絕所有加入
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type busHolder struct {
	b Broadcaster
}

// RoomSummary 房間列表的一筆
type RoomSummary struct {
	RoomID    string     `json:"room_id"`
	Status    RoomStatus `json:"status"`
	Players   int        `json:"players"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Option 管理器選項
type Option func(*Manager)

// WithBoardSource 替換模板盤面的產生方式
func WithBoardSource(fn func() Board) Option {
	return func(m *Manager) {
		m.newBoard = fn
	}
}

// WithMatchStore 設定對局紀錄存放
func WithMatchStore(store MatchStore) Option {
	return func(m *Manager) {
		m.matches = store
	}
}

// WithLeaderboard 設定排行榜
func WithLeaderboard(lb Leaderboard) Option {
	return func(m *Manager) {
		m.leaderboard = lb
	}
}

// WithBroadcaster 設定事件投遞
func WithBroadcaster(b Broadcaster) Option {
	return func(m *Manager) {
		m.SetBroadcaster(b)
	}
}

// NewManager 創建房間管理器
func NewManager(cfg GameConfig, logger *slog.Logger, opts ...Option) *Manager {
	defaults := DefaultGameConfig()
	if cfg.Duration <= 0 {
		cfg.Duration = defaults.Duration
	}
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = defaults.GraceDelay
	}
	if cfg.DefaultRoom == "" {
		cfg.DefaultRoom = defaults.DefaultRoom
	}

	m := &Manager{
		rooms:       make(map[string]*Room),
		cfg:         cfg,
		newBoard:    GenerateBoard,
		matches:     NewMemoryMatchStore(0),
		leaderboard: NewMemoryLeaderboard(),
		results:     make(chan MatchResult, 64),
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
	m.broadcaster.Store(&busHolder{b: nopBroadcaster{}})

	for _, opt := range opts {
		opt(m)
	}

	// 啟動清理與歸檔 goroutine
	m.wg.Add(2)
	go m.cleanupLoop()
	go m.archiveLoop()

	return m
}

// SetBroadcaster 設定事件投遞（WebSocketHub 建立時呼叫）
func (m *Manager) SetBroadcaster(b Broadcaster) {
	if b == nil {
		b = nopBroadcaster{}
	}
	m.broadcaster.Store(&busHolder{b: b})
}

// Config 返回遊戲參數
func (m *Manager) Config() GameConfig {
	return m.cfg
}

// ResolveOrCreate 獲取房間，不存在時建立
func (m *Manager) ResolveOrCreate(roomID string) *Room {
	roomID = m.normalizeRoomID(roomID)

	m.mu.RLock()
	room, exists := m.rooms[roomID]
	m.mu.RUnlock()
	if exists {
		return room
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 雙重檢查：取得寫鎖前可能已被其他玩家建立
	if room, exists := m.rooms[roomID]; exists {
		return room
	}

	room = newRoom(roomID, m.cfg, m.newBoard, m)
	m.rooms[roomID] = room

	m.logger.Info("房間已創建", "room_id", roomID)

	return room
}

// GetRoom 獲取房間
func (m *Manager) GetRoom(roomID string) (*Room, error) {
	roomID = m.normalizeRoomID(roomID)

	m.mu.RLock()
	room, exists := m.rooms[roomID]
	m.mu.RUnlock()

	if !exists {
		return nil, apperr.ErrUnknownRoom.WithDetails(roomID)
	}

	return room, nil
}

// Join 加入房間
func (m *Manager) Join(roomID, playerName, transportID string) error {
	roomID = m.normalizeRoomID(roomID)

	// 名稱無效時不建立房間
	if strings.TrimSpace(playerName) == "" {
		return apperr.ErrInvalidName
	}

	for {
		if m.stopped.Load() {
			return apperr.ErrUnavailable
		}

		room := m.ResolveOrCreate(roomID)

		err := room.Join(playerName, transportID)
		if errors.Is(err, errRoomClosed) {
			// 房間在解析後被移除，重新解析
			continue
		}
		if err != nil {
			m.logger.Debug("加入房間被拒絕",
				"room_id", roomID,
				"player_name", playerName,
				"error", err)
			return err
		}

		m.logger.Info("玩家加入房間",
			"room_id", roomID,
			"player_name", strings.TrimSpace(playerName),
			"transport_id", transportID)
		return nil
	}
}

// SetPlayerReady 設置玩家準備狀態
func (m *Manager) SetPlayerReady(roomID, playerName string) error {
	room, err := m.GetRoom(roomID)
	if err != nil {
		return err
	}

	started, err := room.SetReady(playerName)
	if err != nil {
		return err
	}

	if started {
		m.logger.Info("遊戲開始",
			"room_id", room.ID,
			"players", room.PlayerCount(),
			"duration", m.cfg.Duration)
	}

	return nil
}

// Move 套用玩家移動
func (m *Manager) Move(roomID, playerName string, candidate []int) (MoveOutcome, error) {
	room, err := m.GetRoom(roomID)
	if err != nil {
		return MoveOutcome{}, err
	}

	outcome, err := room.Move(playerName, candidate)
	if err != nil {
		return outcome, err
	}

	if outcome.Result != nil {
		m.logger.Info("玩家完成拼圖",
			"room_id", room.ID,
			"winner", playerName,
			"grace_delay", m.cfg.GraceDelay)
		m.archive(*outcome.Result)
	}

	return outcome, nil
}

// Disconnect 移除該傳輸連線在所有房間中的玩家
//
// 返回受影響的房間 ID。遊戲中的房間即使被清空也不會結束，交由逾時計時器處理。
func (m *Manager) Disconnect(transportID string) []string {
	var affected []string

	for _, room := range m.snapshot() {
		name, removed := room.RemoveTransport(transportID)
		if !removed {
			continue
		}

		affected = append(affected, room.ID)
		m.logger.Info("玩家離開房間",
			"room_id", room.ID,
			"player_name", name,
			"transport_id", transportID)

		m.RemoveIfEmpty(room.ID)
	}

	return affected
}

// RemoveIfEmpty 房間無玩家且不在遊戲中時自註冊表移除
func (m *Manager) RemoveIfEmpty(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[roomID]
	if !exists {
		return false
	}

	if !room.tryClose() {
		return false
	}

	delete(m.rooms, roomID)
	m.logger.Info("房間已移除", "room_id", roomID)

	return true
}

// ResetRoom 立即重置房間，清空後自註冊表移除
func (m *Manager) ResetRoom(roomID string) error {
	room, err := m.GetRoom(roomID)
	if err != nil {
		return err
	}

	room.reset()
	m.logger.Info("房間已重置", "room_id", room.ID)
	m.RemoveIfEmpty(room.ID)

	return nil
}

// ListRooms 列出房間（依 ID 排序）
func (m *Manager) ListRooms() []RoomSummary {
	rooms := m.snapshot()

	result := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		state := room.GetState()
		result = append(result, RoomSummary{
			RoomID:    state.RoomID,
			Status:    state.Status,
			Players:   len(state.Players),
			StartedAt: state.StartedAt,
		})
	}

	slices.SortFunc(result, func(a, b RoomSummary) int {
		return strings.Compare(a.RoomID, b.RoomID)
	})
	return result
}

// RecentMatches 查詢最近的對局
func (m *Manager) RecentMatches(ctx context.Context, roomID string, limit int) ([]MatchResult, error) {
	return m.matches.Recent(ctx, roomID, limit)
}

// TopPlayers 查詢排行榜
func (m *Manager) TopPlayers(ctx context.Context, n int) ([]LeaderboardEntry, error) {
	return m.leaderboard.Top(ctx, n)
}

// Stats 獲取統計資訊
func (m *Manager) Stats() map[string]any {
	rooms := m.snapshot()

	statusCount := make(map[RoomStatus]int)
	totalPlayers := 0

	for _, room := range rooms {
		state := room.GetState()
		statusCount[state.Status]++
		totalPlayers += len(state.Players)
	}

	return map[string]any{
		"total_rooms":      len(rooms),
		"total_players":    totalPlayers,
		"by_status":        statusCount,
		"archived_matches": m.archived.Load(),
	}
}

// Cleanup 執行清理（公開方法供測試使用）
func (m *Manager) Cleanup() int {
	removed := 0
	for _, room := range m.snapshot() {
		if m.RemoveIfEmpty(room.ID) {
			removed++
		}
	}
	return removed
}

// Stop 停止管理器
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.stopped.Store(true)
		close(m.stopCh)
		m.wg.Wait()

		// 停止所有房間的計時器
		for _, room := range m.snapshot() {
			room.shutdown()
		}

		m.logger.Info("房間管理器已停止")
	})
}

// roomHooks 實作

func (m *Manager) bus() Broadcaster {
	return m.broadcaster.Load().b
}

func (m *Manager) nextGeneration() uint64 {
	return m.generations.Add(1)
}

// expire 逾時計時器回呼
func (m *Manager) expire(roomID string, generation uint64) {
	room, err := m.GetRoom(roomID)
	if err != nil {
		return
	}

	result, ok := room.Expire(generation)
	if !ok {
		m.logger.Debug("忽略過期的逾時計時器", "room_id", roomID, "generation", generation)
		return
	}

	m.logger.Info("遊戲逾時，無人獲勝", "room_id", roomID)
	m.archive(*result)
	m.RemoveIfEmpty(roomID)
}

// finish 勝利寬限期結束回呼
func (m *Manager) finish(roomID string, generation uint64) {
	room, err := m.GetRoom(roomID)
	if err != nil {
		return
	}

	if !room.Finish(generation) {
		m.logger.Debug("房間已重置，忽略延遲重置", "room_id", roomID, "generation", generation)
		return
	}

	m.logger.Info("房間已重置", "room_id", roomID)
	m.RemoveIfEmpty(roomID)
}

// archive 非阻塞地交給歸檔 goroutine
func (m *Manager) archive(result MatchResult) {
	select {
	case m.results <- result:
	default:
		m.logger.Warn("歸檔佇列已滿，丟棄對局紀錄",
			"match_id", result.ID,
			"room_id", result.RoomID)
	}
}

// archiveLoop 寫入對局紀錄與排行榜（I/O 不在房間鎖內進行）
func (m *Manager) archiveLoop() {
	defer m.wg.Done()

	for {
		select {
		case result := <-m.results:
			m.store(result)
		case <-m.stopCh:
			// 寫完佇列中剩下的紀錄
			for {
				select {
				case result := <-m.results:
					m.store(result)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) store(result MatchResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.matches.Record(ctx, result); err != nil {
		m.logger.Error("保存對局紀錄失敗",
			"match_id", result.ID,
			"room_id", result.RoomID,
			"error", err)
		return
	}

	if result.Winner != "" {
		if err := m.leaderboard.RecordWin(ctx, result.Winner); err != nil {
			m.logger.Error("更新排行榜失敗",
				"winner", result.Winner,
				"error", err)
		}
	}

	m.archived.Add(1)
}

// cleanupLoop 定期移除空房間
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Cleanup(); n > 0 {
				m.logger.Info("清理空房間", "removed", n)
			}
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) snapshot() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (m *Manager) normalizeRoomID(roomID string) string {
	if roomID == "" {
		return m.cfg.DefaultRoom
	}
	return roomID
}
