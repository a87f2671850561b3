package internal

// EventType 對外廣播的事件名稱
type EventType string

const (
	EventUpdatePlayers EventType = "update_players"
	EventGameStart     EventType = "game_start"
	EventBoardUpdate   EventType = "board_update"
	EventGameWon       EventType = "game_won"
	EventGameReset     EventType = "game_reset"
	EventError         EventType = "error"
	EventPong          EventType = "pong"
)

// TimeoutWinner 逾時結束時 game_won 的 winner 欄位
const TimeoutWinner = "Time Expired - No Winner"

// Event 房間事件
type Event struct {
	Type EventType `json:"event"`
	Data any       `json:"data,omitempty"`
}

// GameStartData game_start 的內容
type GameStartData struct {
	Board Board `json:"board"`
}

// BoardUpdateData board_update 的內容
type BoardUpdateData struct {
	Board        Board  `json:"board"`
	CorrectTiles int    `json:"correct_tiles"`
	Player       string `json:"player"`
	GameID       string `json:"game_id"`
}

// GameWonData game_won 的內容
type GameWonData struct {
	Winner string `json:"winner"`
}

// ErrorData error 事件的內容（只單播給出錯的呼叫者）
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Broadcaster 房間範圍的事件投遞
//
// 房間在持有自己的鎖時呼叫這兩個方法，實作必須不阻塞，且不可回頭呼叫房間或管理器。
type Broadcaster interface {
	// Subscribe 把傳輸連線加入房間的廣播對象
	Subscribe(roomID, transportID string)
	// Broadcast 發送事件給房間內所有連線
	Broadcast(roomID string, event Event)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Subscribe(string, string)  {}
func (nopBroadcaster) Broadcast(string, Event) {}
