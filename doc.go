// Package puzzlerace 提供多人 15 拼圖競賽的即時遊戲服務器。
//
// 同一房間的玩家拿到同一副打亂的 4x4 拼圖，各自在自己的副本上移動，
// 最先把 15 塊方塊全部歸位的玩家獲勝。
//
// # 房間生命週期
//
// 房間在第一位玩家加入時建立，狀態只有兩種：
//   - lobby：接受加入與準備，所有玩家都準備好時開始計時
//   - active：接受移動，不再接受加入
//
// 有人解開拼圖時廣播 game_won，寬限期後重置回 lobby 並清空玩家；
// 時限到了無人解開，則以 "Time Expired - No Winner" 結束並立即重置。
// 沒有玩家的 lobby 房間會自註冊表移除。
//
// # WebSocket 通訊
//
// 客戶端事件：join、ready、move、ping。
// 伺服器事件：update_players、game_start、board_update、game_won、game_reset、error、pong。
//
//	{"event": "join", "data": {"name": "alice", "game_id": "r1"}}
//	{"event": "move", "data": {"name": "alice", "game_id": "r1", "board": [1, 2, ...]}}
//
// 加入錯誤只回給呼叫者；不合法的移動靜默丟棄。
//
// # 併發安全設計
//
// 每個房間一把互斥鎖，所有狀態變更都在鎖內完成。鎖順序為
// 註冊表 → 房間 → WebSocketHub，房間從不回頭取得註冊表的鎖。
// 計時器只攜帶 (房間 ID, 世代)，觸發時重新解析房間，世代不符即忽略。
//
// # 儲存
//
// 房間狀態只存在記憶體中。結束的對局可選擇寫入 PostgreSQL（internal/migrations
// 建立資料表），勝場排行榜可選擇存放在 Redis；未配置時使用記憶體實作。
//
// # 使用範例
//
// 啟動服務器：
//
//	go run ./cmd/server -config config.yaml
//
// 客戶端連接：
//
//	ws://localhost:5001/ws/rooms/r1
//
// 查詢 API：
//   - GET /api/v1/rooms、/api/v1/rooms/{room_id}
//   - GET /api/v1/rooms/{room_id}/qr（邀請連結的 QR Code）
//   - GET /api/v1/matches、/api/v1/rooms/{room_id}/matches
//   - GET /api/v1/leaderboard
//   - GET /health、/stats
package puzzlerace
