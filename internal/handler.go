package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	apperr "github.com/koopa0/system-design/puzzle-race/pkg/errors"
)

// Handler HTTP 請求處理器
type Handler struct {
	manager   *Manager
	hub       *WebSocketHub
	publicURL string // 產生邀請連結用，空字串時依請求推導
	logger    *slog.Logger
}

// NewHandler 創建 HTTP 處理器，hub 可為 nil
func NewHandler(manager *Manager, hub *WebSocketHub, publicURL string, logger *slog.Logger) *Handler {
	return &Handler{
		manager:   manager,
		hub:       hub,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		logger:    logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 房間查詢 API（狀態變更只經由 WebSocket）
	mux.HandleFunc("GET /api/v1/rooms", wrap(h.listRooms))
	mux.HandleFunc("GET /api/v1/rooms/{room_id}", wrap(h.getRoomDetail))
	mux.HandleFunc("GET /api/v1/rooms/{room_id}/qr", wrap(h.roomQRCode))
	mux.HandleFunc("GET /api/v1/rooms/{room_id}/matches", wrap(h.roomMatches))
	mux.HandleFunc("GET /api/v1/matches", wrap(h.recentMatches))
	mux.HandleFunc("GET /api/v1/leaderboard", wrap(h.leaderboard))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// listRooms 列出房間
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.manager.ListRooms()

	h.jsonResponse(w, map[string]any{
		"rooms": rooms,
		"total": len(rooms),
	}, http.StatusOK)
}

// getRoomDetail 獲取房間詳情（不含任何玩家的盤面）
func (h *Handler) getRoomDetail(w http.ResponseWriter, r *http.Request) {
	room, err := h.manager.GetRoom(r.PathValue("room_id"))
	if err != nil {
		h.errorResponse(w, err, http.StatusNotFound)
		return
	}

	h.jsonResponse(w, room.GetState(), http.StatusOK)
}

// roomQRCode 產生房間邀請連結的 QR Code（PNG）
//
// 房間不需要已存在：第一位玩家透過連結加入時才會建立。
func (h *Handler) roomQRCode(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")

	size := 256
	if s := r.URL.Query().Get("size"); s != "" {
		if val, err := strconv.Atoi(s); err == nil && val >= 64 && val <= 1024 {
			size = val
		}
	}

	png, err := qrcode.Encode(h.joinURL(r, roomID), qrcode.Medium, size)
	if err != nil {
		h.logger.Error("產生 QR Code 失敗", "room_id", roomID, "error", err)
		h.errorResponse(w, apperr.Wrap(err, apperr.ErrCodeInternal, "qr generation failed"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.logger.Error("寫入 QR Code 失敗", "error", err)
	}
}

// roomMatches 房間最近的對局
func (h *Handler) roomMatches(w http.ResponseWriter, r *http.Request) {
	h.writeMatches(w, r, r.PathValue("room_id"))
}

// recentMatches 所有房間最近的對局
func (h *Handler) recentMatches(w http.ResponseWriter, r *http.Request) {
	h.writeMatches(w, r, "")
}

func (h *Handler) writeMatches(w http.ResponseWriter, r *http.Request, roomID string) {
	limit := parseLimit(r, 20)

	matches, err := h.manager.RecentMatches(r.Context(), roomID, limit)
	if err != nil {
		h.logger.Error("查詢對局紀錄失敗", "room_id", roomID, "error", err)
		h.errorResponse(w, apperr.Wrap(err, apperr.ErrCodeUnavailable, "match history unavailable"), http.StatusServiceUnavailable)
		return
	}

	h.jsonResponse(w, map[string]any{
		"matches": matches,
		"total":   len(matches),
	}, http.StatusOK)
}

// leaderboard 勝場排行
func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 10)

	entries, err := h.manager.TopPlayers(r.Context(), limit)
	if err != nil {
		h.logger.Error("查詢排行榜失敗", "error", err)
		h.errorResponse(w, apperr.Wrap(err, apperr.ErrCodeUnavailable, "leaderboard unavailable"), http.StatusServiceUnavailable)
		return
	}

	h.jsonResponse(w, map[string]any{
		"players": entries,
	}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.manager.Stats()
	if h.hub != nil {
		stats["connections"] = h.hub.ConnectionStats()
	}
	h.jsonResponse(w, stats, http.StatusOK)
}

// joinURL 房間的加入頁面網址：<public_url>/<room_id>
func (h *Handler) joinURL(r *http.Request, roomID string) string {
	base := h.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/" + roomID
}

func parseLimit(r *http.Request, def int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= 100 {
			return val
		}
	}
	return def
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, err error, status int) {
	h.jsonResponse(w, map[string]any{
		"error": apperr.MessageOf(err),
		"code":  apperr.CodeOf(err),
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, apperr.New(apperr.ErrCodeInternal, "internal server error"), http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
