package internal

import (
	"cmp"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperr "github.com/koopa0/system-design/puzzle-race/pkg/errors"
)

// 系統設計問題：
//   多名玩家在同一房間裡各自解同一副拼圖，伺服器要在併發加入、併發移動、
//   斷線、背景計時器互相競爭的情況下維持房間狀態一致。
//
// 核心挑戰：
//   1. 狀態機：lobby → active → lobby（勝利或逾時後重置）
//   2. 並發控制：每個房間一把互斥鎖，所有狀態變更都在鎖內完成
//   3. 計時器競爭：逾時與勝利後的延遲重置可能幾乎同時觸發，只能有一個生效
//   4. 資源回收：重置後房間清空，由管理器自註冊表移除

// RoomStatus 房間狀態
//
//	lobby ──所有人準備──▶ active ──勝利（寬限期後）/逾時──▶ lobby
//	  │
//	  └─ 最後一位玩家離開 ─▶ 自註冊表移除
type RoomStatus string

const (
	StatusLobby  RoomStatus = "lobby"  // 等待加入與準備
	StatusActive RoomStatus = "active" // 計時中，接受移動
)

// ErrGameNotActive 房間不在遊戲中時的移動
var ErrGameNotActive = apperr.New(apperr.ErrCodeInvalidInput, "Game not started")

// errRoomClosed 房間已自註冊表移除，呼叫者應重新解析房間
var errRoomClosed = errors.New("room closed")

// GameConfig 遊戲參數
type GameConfig struct {
	Duration    time.Duration `yaml:"duration"`     // 一局的時限
	GraceDelay  time.Duration `yaml:"grace_delay"`  // 宣告勝利到重置的間隔
	DefaultRoom string        `yaml:"default_room"` // 事件未帶房間 ID 時使用
}

// DefaultGameConfig 預設遊戲參數
func DefaultGameConfig() GameConfig {
	return GameConfig{
		Duration:    1800 * time.Second,
		GraceDelay:  2 * time.Second,
		DefaultRoom: "default",
	}
}

// Session 玩家在房間內的狀態
type Session struct {
	Name         string
	Ready        bool
	Board        Board
	CorrectTiles int
	TransportID  string
	JoinedAt     time.Time
}

// PlayerStanding 排名列表中的一筆，不含盤面
type PlayerStanding struct {
	Name         string `json:"name"`
	CorrectTiles int    `json:"correct_tiles"`
	Ready        bool   `json:"ready"`
}

// MoveOutcome 一次成功移動的結果
type MoveOutcome struct {
	CorrectTiles int
	Won          bool
	Result       *MatchResult // 僅在本次移動宣告勝利時非 nil
}

// RoomState 房間狀態快照（用於 HTTP 查詢）
type RoomState struct {
	RoomID      string           `json:"room_id"`
	Status      RoomStatus       `json:"status"`
	Players     []PlayerStanding `json:"players"`
	HasTemplate bool             `json:"has_template"`
	Decided     bool             `json:"decided"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
}

// roomHooks 房間回呼管理器的介面
//
// 計時器只攜帶 (roomID, generation)，觸發時透過管理器重新解析房間。
type roomHooks interface {
	bus() Broadcaster
	nextGeneration() uint64
	expire(roomID string, generation uint64)
	finish(roomID string, generation uint64)
}

// Room 遊戲房間
type Room struct {
	ID string

	cfg      GameConfig
	newBoard func() Board
	hooks    roomHooks

	mu         sync.Mutex
	status     RoomStatus
	players    map[string]*Session
	order      []string // 加入順序，排名同分時使用
	template   *Board
	expiry     *time.Timer
	resetTimer *time.Timer
	generation uint64 // 每次重置換新（全程序唯一），舊計時器以此判斷是否過期
	decided    bool   // 本局已宣告勝負
	closed     bool   // 已自註冊表移除
	createdAt  time.Time
	startedAt  time.Time
}

func newRoom(id string, cfg GameConfig, newBoard func() Board, hooks roomHooks) *Room {
	return &Room{
		ID:         id,
		cfg:        cfg,
		newBoard:   newBoard,
		hooks:      hooks,
		status:     StatusLobby,
		players:    make(map[string]*Session),
		generation: hooks.nextGeneration(),
		createdAt:  time.Now(),
	}
}

// Join 加入玩家
//
// 名稱去除空白後不可為空；同名玩家或遊戲進行中都拒絕，且不改變任何狀態。
// 第一位加入者觸發模板盤面的產生，之後每位玩家拿到模板的副本。
func (r *Room) Join(name, transportID string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errRoomClosed
	}
	if _, exists := r.players[name]; exists {
		return apperr.ErrDuplicatePlayer
	}
	if r.status == StatusActive {
		return apperr.ErrGameInProgress
	}

	if r.template == nil {
		b := r.newBoard()
		r.template = &b
	}

	board := *r.template
	r.players[name] = &Session{
		Name:         name,
		Board:        board,
		CorrectTiles: board.Score(),
		TransportID:  transportID,
		JoinedAt:     time.Now(),
	}
	r.order = append(r.order, name)

	r.hooks.bus().Subscribe(r.ID, transportID)
	r.publishPlayersLocked()

	return nil
}

// SetReady 設置玩家準備狀態
//
// 所有玩家都準備好時開始遊戲：取消殘留的計時器、啟動逾時計時器、廣播 game_start。
// 不論是否開始，最後都廣播一次排名列表。
func (r *Room) SetReady(name string) (started bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	player, exists := r.players[name]
	if !exists {
		return false, apperr.ErrUnknownPlayer
	}

	player.Ready = true

	if r.status == StatusLobby && r.allReadyLocked() {
		r.startLocked()
		started = true
	}

	r.publishPlayersLocked()

	return started, nil
}

// Move 套用玩家的移動
//
// 不在遊戲中、玩家不存在、盤面不合法時返回錯誤且不廣播；呼叫者應靜默丟棄。
func (r *Room) Move(name string, candidate []int) (MoveOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	player, exists := r.players[name]
	if !exists {
		return MoveOutcome{}, apperr.ErrUnknownPlayer
	}
	if r.status != StatusActive {
		return MoveOutcome{}, ErrGameNotActive
	}

	next, err := ValidateMove(player.Board, candidate)
	if err != nil {
		return MoveOutcome{}, err
	}

	player.Board = next
	player.CorrectTiles = next.Score()

	r.publishLocked(Event{
		Type: EventBoardUpdate,
		Data: BoardUpdateData{
			Board:        next,
			CorrectTiles: player.CorrectTiles,
			Player:       name,
			GameID:       r.ID,
		},
	})
	r.publishPlayersLocked()

	outcome := MoveOutcome{CorrectTiles: player.CorrectTiles}

	// 勝負只宣告一次；寬限期內其他玩家的移動照常套用
	if player.CorrectTiles == MaxScore && !r.decided {
		r.decided = true
		r.publishLocked(Event{Type: EventGameWon, Data: GameWonData{Winner: name}})

		outcome.Won = true
		outcome.Result = r.resultLocked(name, false)

		id, gen, hooks := r.ID, r.generation, r.hooks
		r.resetTimer = time.AfterFunc(r.cfg.GraceDelay, func() {
			hooks.finish(id, gen)
		})
	}

	return outcome, nil
}

// Expire 逾時計時器觸發
//
// 只在同一世代、仍在遊戲中且尚未分出勝負時生效。
func (r *Room) Expire(generation uint64) (*MatchResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || generation != r.generation || r.status != StatusActive || r.decided {
		return nil, false
	}

	r.decided = true
	r.expiry = nil
	r.publishLocked(Event{Type: EventGameWon, Data: GameWonData{Winner: TimeoutWinner}})
	result := r.resultLocked("", true)
	r.resetLocked()

	return result, true
}

// Finish 勝利寬限期結束後重置
//
// 若逾時已先重置（世代已前進），不做任何事。
func (r *Room) Finish(generation uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || generation != r.generation || !r.decided {
		return false
	}

	r.resetTimer = nil
	r.resetLocked()
	return true
}

// reset 立即重置房間（由 Manager.ResetRoom 呼叫）
func (r *Room) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.resetLocked()
}

// RemoveTransport 移除綁定該傳輸連線的玩家
//
// 每個房間最多移除一位；遊戲中的房間不會因此結束。
func (r *Room) RemoveTransport(transportID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, name := range r.order {
		if r.players[name].TransportID != transportID {
			continue
		}
		delete(r.players, name)
		r.order = slices.Delete(r.order, i, i+1)
		r.publishPlayersLocked()
		return name, true
	}

	return "", false
}

// Players 返回排名列表
func (r *Room) Players() []PlayerStanding {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.standingsLocked()
}

// PlayerBoard 返回玩家目前的盤面
func (r *Room) PlayerBoard(name string) (Board, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	player, exists := r.players[name]
	if !exists {
		return Board{}, false
	}
	return player.Board, true
}

// Template 返回本局的模板盤面
func (r *Room) Template() (Board, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.template == nil {
		return Board{}, false
	}
	return *r.template, true
}

// Status 返回房間狀態
func (r *Room) Status() RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Generation 返回目前世代
func (r *Room) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// PlayerCount 返回玩家數量
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// GetState 獲取房間狀態
func (r *Room) GetState() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := RoomState{
		RoomID:      r.ID,
		Status:      r.status,
		Players:     r.standingsLocked(),
		HasTemplate: r.template != nil,
		Decided:     r.decided,
		CreatedAt:   r.createdAt,
	}
	if r.status == StatusActive {
		startedAt := r.startedAt
		state.StartedAt = &startedAt
	}
	return state
}

// tryClose 空房間且不在遊戲中時標記為關閉
//
// 由管理器在持有註冊表寫鎖時呼叫；返回 true 代表可以自註冊表刪除。
func (r *Room) tryClose() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || len(r.players) > 0 || r.status == StatusActive {
		return false
	}

	r.closed = true
	r.stopTimersLocked()
	return true
}

// shutdown 停止計時器並拒絕後續加入（伺服器關閉時）
func (r *Room) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.stopTimersLocked()
}

// 以下方法需要持有 r.mu

func (r *Room) allReadyLocked() bool {
	if len(r.players) == 0 {
		return false
	}
	for _, p := range r.players {
		if !p.Ready {
			return false
		}
	}
	return true
}

func (r *Room) startLocked() {
	r.stopTimersLocked()

	r.status = StatusActive
	r.startedAt = time.Now()

	id, gen, hooks := r.ID, r.generation, r.hooks
	r.expiry = time.AfterFunc(r.cfg.Duration, func() {
		hooks.expire(id, gen)
	})

	r.publishLocked(Event{Type: EventGameStart, Data: GameStartData{Board: *r.template}})
}

func (r *Room) resetLocked() {
	r.stopTimersLocked()

	clear(r.players)
	r.order = nil
	r.template = nil
	r.status = StatusLobby
	r.decided = false
	r.startedAt = time.Time{}
	r.generation = r.hooks.nextGeneration()

	r.publishLocked(Event{Type: EventGameReset})
}

func (r *Room) stopTimersLocked() {
	if r.expiry != nil {
		r.expiry.Stop()
		r.expiry = nil
	}
	if r.resetTimer != nil {
		r.resetTimer.Stop()
		r.resetTimer = nil
	}
}

// standingsLocked 依正確格數穩定排序（同分保持加入順序）
func (r *Room) standingsLocked() []PlayerStanding {
	out := make([]PlayerStanding, 0, len(r.order))
	for _, name := range r.order {
		p := r.players[name]
		out = append(out, PlayerStanding{
			Name:         p.Name,
			CorrectTiles: p.CorrectTiles,
			Ready:        p.Ready,
		})
	}

	slices.SortStableFunc(out, func(a, b PlayerStanding) int {
		return cmp.Compare(b.CorrectTiles, a.CorrectTiles)
	})
	return out
}

func (r *Room) resultLocked(winner string, timedOut bool) *MatchResult {
	return &MatchResult{
		ID:        uuid.NewString(),
		RoomID:    r.ID,
		Winner:    winner,
		TimedOut:  timedOut,
		Standings: r.standingsLocked(),
		StartedAt: r.startedAt,
		EndedAt:   time.Now(),
	}
}

func (r *Room) publishPlayersLocked() {
	r.publishLocked(Event{Type: EventUpdatePlayers, Data: r.standingsLocked()})
}

func (r *Room) publishLocked(event Event) {
	r.hooks.bus().Broadcast(r.ID, event)
}
