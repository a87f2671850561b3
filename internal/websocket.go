package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperr "github.com/koopa0/system-design/puzzle-race/pkg/errors"
	"github.com/koopa0/system-design/puzzle-race/pkg/logger"
)

// 系統設計問題：
//   如何把房間事件即時推送給房間內所有玩家，同時把客戶端事件交給房間管理器？
//
// 設計方案：
//   - WebSocket 全雙工通信，Hub 集中管理所有連接
//   - 連接以 UUID 識別（傳輸 ID），加入成功後才訂閱該房間的廣播
//   - Ping/Pong 心跳檢測死連接
//   - 每個連接一個緩衝 channel，廣播不阻塞（房間持鎖時呼叫）

// WebSocketConfig WebSocket 參數
type WebSocketConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongWait       time.Duration `yaml:"pong_wait"`
	WriteWait      time.Duration `yaml:"write_wait"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	SendBuffer     int           `yaml:"send_buffer"`
	AllowedOrigins []string      `yaml:"allowed_origins"` // 空代表不檢查
}

// DefaultWebSocketConfig 預設 WebSocket 參數
//
// Ping 54 秒、Pong 逾時 60 秒。
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		PingInterval:   54 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     256,
	}
}

// WebSocketHub WebSocket 連接中心
//
// 實作 Broadcaster：房間在持鎖時呼叫 Subscribe/Broadcast，這裡只操作自己的 map
// 與 channel，不會回頭呼叫管理器。
type WebSocketHub struct {
	manager     *Manager
	logger      *slog.Logger
	cfg         WebSocketConfig
	upgrader    websocket.Upgrader
	connections map[string]*Connection            // connID -> Connection
	rooms       map[string]map[string]*Connection // roomID -> connID -> Connection
	mu          sync.RWMutex
}

// Connection WebSocket 連接
type Connection struct {
	ID          string
	DefaultRoom string // 事件未帶 game_id 時使用
	Conn        *websocket.Conn
	Send        chan []byte
	Hub         *WebSocketHub

	ctx       context.Context
	rooms     map[string]struct{} // 已訂閱的房間，由 Hub.mu 保護
	closeOnce sync.Once           // 確保 channel 只關閉一次
}

// inboundMessage 客戶端訊息
type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// inboundPayload 所有客戶端事件共用的欄位
type inboundPayload struct {
	Name   string          `json:"name"`
	GameID string          `json:"game_id"`
	Board  json.RawMessage `json:"board"`
}

// NewWebSocketHub 創建 WebSocket Hub 並註冊為管理器的 Broadcaster
func NewWebSocketHub(manager *Manager, cfg WebSocketConfig, logger *slog.Logger) *WebSocketHub {
	defaults := DefaultWebSocketConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaults.PongWait
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaults.WriteWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}

	hub := &WebSocketHub{
		manager:     manager,
		logger:      logger,
		cfg:         cfg,
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
	}
	hub.upgrader = websocket.Upgrader{
		CheckOrigin:     hub.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	manager.SetBroadcaster(hub)

	return hub
}

// ServeWS 處理 WebSocket 連接
//
// 路徑 /ws/rooms/{room_id} 的房間 ID 作為該連接的預設房間，/ws 則使用全域預設房間。
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	defaultRoom := r.PathValue("room_id")
	if defaultRoom == "" {
		defaultRoom = hub.manager.Config().DefaultRoom
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	id := uuid.NewString()
	connection := &Connection{
		ID:          id,
		DefaultRoom: defaultRoom,
		Conn:        conn,
		Send:        make(chan []byte, hub.cfg.SendBuffer),
		Hub:         hub,
		ctx:         logger.WithConnID(context.Background(), id),
		rooms:       make(map[string]struct{}),
	}

	hub.register(connection)

	go connection.writePump()
	go connection.readPump()

	hub.logger.InfoContext(connection.ctx, "WebSocket 連接建立",
		"default_room", defaultRoom,
		"remote_addr", r.RemoteAddr)
}

// Subscribe 把連接加入房間的廣播對象
func (hub *WebSocketHub) Subscribe(roomID, transportID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	conn, exists := hub.connections[transportID]
	if !exists {
		return
	}

	if hub.rooms[roomID] == nil {
		hub.rooms[roomID] = make(map[string]*Connection)
	}
	hub.rooms[roomID][transportID] = conn
	conn.rooms[roomID] = struct{}{}
}

// Broadcast 廣播事件到房間
func (hub *WebSocketHub) Broadcast(roomID string, event Event) {
	message, err := json.Marshal(event)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event.Type, "error", err)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, conn := range hub.rooms[roomID] {
		select {
		case conn.Send <- message:
		default:
			// 連接緩衝區滿了，丟棄該訊息
			hub.logger.WarnContext(conn.ctx, "連接緩衝區滿",
				"room_id", roomID,
				"event", event.Type)
		}
	}
}

// sendTo 單播事件給單一連接
func (hub *WebSocketHub) sendTo(conn *Connection, event Event) {
	message, err := json.Marshal(event)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event.Type, "error", err)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	// 已註銷的連接 Send 已關閉
	if hub.connections[conn.ID] != conn {
		return
	}

	select {
	case conn.Send <- message:
	default:
		hub.logger.WarnContext(conn.ctx, "連接緩衝區滿", "event", event.Type)
	}
}

// register 註冊連接
func (hub *WebSocketHub) register(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.connections[conn.ID] = conn
}

// unregister 取消註冊連接
func (hub *WebSocketHub) unregister(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if actual, exists := hub.connections[conn.ID]; !exists || actual != conn {
		return
	}
	delete(hub.connections, conn.ID)

	for roomID := range conn.rooms {
		roomConns := hub.rooms[roomID]
		delete(roomConns, conn.ID)
		if len(roomConns) == 0 {
			delete(hub.rooms, roomID)
		}
	}

	conn.closeOnce.Do(func() {
		close(conn.Send)
	})
}

// Stop 停止 WebSocket Hub
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	for _, conn := range hub.connections {
		// 先關閉 Send channel，再關閉連接
		conn.closeOnce.Do(func() {
			close(conn.Send)
		})
		conn.Conn.Close()
	}
	hub.connections = make(map[string]*Connection)
	hub.rooms = make(map[string]map[string]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// ConnectionStats 獲取連接數
func (hub *WebSocketHub) ConnectionStats() map[string]any {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	byRoom := make(map[string]int, len(hub.rooms))
	for roomID, conns := range hub.rooms {
		byRoom[roomID] = len(conns)
	}

	return map[string]any{
		"total":   len(hub.connections),
		"by_room": byRoom,
	}
}

func (hub *WebSocketHub) checkOrigin(r *http.Request) bool {
	if len(hub.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(hub.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// readPump 讀取客戶端消息
//
// PongWait 內沒有收到任何消息（包括 Pong）就關閉連接。
// 連接結束時先註銷，再讓管理器移除綁定的玩家並廣播新的玩家列表。
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()

		if rooms := c.Hub.manager.Disconnect(c.ID); len(rooms) > 0 {
			c.Hub.logger.InfoContext(c.ctx, "WebSocket 斷線，已移除玩家", "rooms", rooms)
		}
	}()

	c.Conn.SetReadLimit(c.Hub.cfg.MaxMessageSize)

	if err := c.Conn.SetReadDeadline(time.Now().Add(c.Hub.cfg.PongWait)); err != nil {
		c.Hub.logger.ErrorContext(c.ctx, "設置讀取期限失敗", "error", err)
	}

	// Pong 處理器（收到 Pong 重置超時）
	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.Hub.cfg.PongWait)); err != nil {
			c.Hub.logger.ErrorContext(c.ctx, "設置讀取期限失敗", "error", err)
		}
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.ErrorContext(c.ctx, "WebSocket 讀取錯誤", "error", err)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入消息到客戶端，並定時發送 Ping
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.cfg.WriteWait)); err != nil {
				c.Hub.logger.ErrorContext(c.ctx, "設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，嘗試發送關閉消息（連接可能已關閉）
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.cfg.WriteWait)); err != nil {
				c.Hub.logger.ErrorContext(c.ctx, "設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 處理客戶端消息
//
// join 與 ready（房間不存在）的錯誤單播給呼叫者；move 的任何錯誤都靜默丟棄。
func (c *Connection) handleMessage(message []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.Hub.logger.DebugContext(c.ctx, "解析客戶端消息失敗", "error", err)
		return
	}

	var payload inboundPayload
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.Hub.logger.DebugContext(c.ctx, "解析事件內容失敗", "event", msg.Event, "error", err)
			return
		}
	}

	roomID := payload.GameID
	if roomID == "" {
		roomID = c.DefaultRoom
	}
	ctx := logger.WithRoomID(c.ctx, roomID)
	manager := c.Hub.manager

	switch msg.Event {
	case "join":
		if err := manager.Join(roomID, payload.Name, c.ID); err != nil {
			c.Hub.sendTo(c, errorEvent(err))
		}

	case "ready":
		err := manager.SetPlayerReady(roomID, payload.Name)
		switch {
		case apperr.IsUnknownRoom(err):
			c.Hub.sendTo(c, errorEvent(err))
		case err != nil:
			c.Hub.logger.DebugContext(ctx, "忽略準備事件", "player_name", payload.Name, "error", err)
		}

	case "move":
		board, err := ParseBoard(payload.Board)
		if err != nil {
			c.Hub.logger.DebugContext(ctx, "忽略格式錯誤的移動", "player_name", payload.Name)
			return
		}
		if _, err := manager.Move(roomID, payload.Name, board); err != nil {
			c.Hub.logger.DebugContext(ctx, "忽略移動", "player_name", payload.Name, "error", err)
		}

	case "ping":
		c.Hub.sendTo(c, Event{Type: EventPong})

	default:
		c.Hub.logger.DebugContext(ctx, "收到未知消息類型", "event", msg.Event)
	}
}

func errorEvent(err error) Event {
	return Event{
		Type: EventError,
		Data: ErrorData{
			Message: apperr.MessageOf(err),
			Code:    apperr.CodeOf(err),
		},
	}
}
