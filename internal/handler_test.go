package internal_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/puzzle-race/internal"
	"github.com/koopa0/system-design/puzzle-race/pkg/logger"
)

func newTestHandler(t *testing.T, m *internal.Manager, publicURL string) http.Handler {
	t.Helper()
	return internal.NewHandler(m, nil, publicURL, logger.Discard()).Routes()
}

func doRequest(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

// TestHandler_ListRooms 測試房間列表 API
func TestHandler_ListRooms(t *testing.T) {
	m, _ := newTestManager(t, longGame, scrambledBoard)
	h := newTestHandler(t, m, "")

	rec := doRequest(t, h, http.MethodGet, "/api/v1/rooms")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, float64(0), decodeBody(t, rec)["total"])

	joinAll(t, m, "r1", "alice", "bob")
	startGame(t, m, "r2", "carol")

	rec = doRequest(t, h, http.MethodGet, "/api/v1/rooms")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Rooms []internal.RoomSummary `json:"rooms"`
		Total int                    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Rooms, 2)
	assert.Equal(t, "r1", resp.Rooms[0].RoomID)
	assert.Equal(t, 2, resp.Rooms[0].Players)
	assert.Equal(t, internal.StatusActive, resp.Rooms[1].Status)
}

// TestHandler_GetRoomDetail 測試房間詳情 API
func TestHandler_GetRoomDetail(t *testing.T) {
	m, _ := newTestManager(t, longGame, scrambledBoard)
	h := newTestHandler(t, m, "")
	joinAll(t, m, "r1", "alice")

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		validate       func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:           "existing room",
			path:           "/api/v1/rooms/r1",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var state internal.RoomState
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
				assert.Equal(t, "r1", state.RoomID)
				assert.Equal(t, internal.StatusLobby, state.Status)
				require.Len(t, state.Players, 1)
				assert.Equal(t, "alice", state.Players[0].Name)
				assert.NotContains(t, rec.Body.String(), "board", "boards must stay private")
			},
		},
		{
			name:           "unknown room",
			path:           "/api/v1/rooms/missing",
			expectedStatus: http.StatusNotFound,
			validate: func(t *testing.T, rec *httptest.ResponseRecorder) {
				body := decodeBody(t, rec)
				assert.Equal(t, "UNKNOWN_ROOM", body["code"])
				assert.Equal(t, "Game room not found", body["error"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodGet, tt.path)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			tt.validate(t, rec)
		})
	}
}

// TestHandler_RoomQRCode 測試邀請 QR Code
func TestHandler_RoomQRCode(t *testing.T) {
	m, _ := newTestManager(t, longGame, scrambledBoard)

	tests := []struct {
		name      string
		publicURL string
		target    string
	}{
		{name: "derived from request", target: "/api/v1/rooms/r1/qr"},
		{name: "configured public url", publicURL: "https://puzzle.example.com/", target: "/api/v1/rooms/r1/qr"},
		{name: "custom size", target: "/api/v1/rooms/r1/qr?size=128"},
		{name: "size out of range falls back", target: "/api/v1/rooms/r1/qr?size=5000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, m, tt.publicURL)

			rec := doRequest(t, h, http.MethodGet, tt.target)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
			assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG\r\n\x1a\n")))
		})
	}

	// 房間不需要已存在
	_, err := m.GetRoom("r1")
	assert.Error(t, err)
}

// TestHandler_Matches 測試對局紀錄 API
func TestHandler_Matches(t *testing.T) {
	m, _ := newTestManager(t, longGame, nearSolvedBoard)
	h := newTestHandler(t, m, "")

	for _, roomID := range []string{"r1", "r2", "r1"} {
		startGame(t, m, roomID, "alice")
		_, err := m.Move(roomID, "alice", swapped(nearSolvedBoard, 14, 15))
		require.NoError(t, err)

		// 同一房間需要等重置後才能開新局
		require.NoError(t, m.ResetRoom(roomID))
	}

	require.Eventually(t, func() bool {
		return m.Stats()["archived_matches"] == int64(3)
	}, 2*time.Second, 10*time.Millisecond)

	tests := []struct {
		name  string
		path  string
		total float64
	}{
		{name: "all rooms", path: "/api/v1/matches", total: 3},
		{name: "limit", path: "/api/v1/matches?limit=2", total: 2},
		{name: "invalid limit uses default", path: "/api/v1/matches?limit=abc", total: 3},
		{name: "single room", path: "/api/v1/rooms/r1/matches", total: 2},
		{name: "room without matches", path: "/api/v1/rooms/none/matches", total: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodGet, tt.path)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.total, decodeBody(t, rec)["total"])
		})
	}
}

// TestHandler_Leaderboard 測試排行榜 API
func TestHandler_Leaderboard(t *testing.T) {
	lb := internal.NewMemoryLeaderboard()
	for _, name := range []string{"alice", "bob", "alice"} {
		require.NoError(t, lb.RecordWin(t.Context(), name))
	}

	m, _ := newTestManager(t, longGame, scrambledBoard, internal.WithLeaderboard(lb))
	h := newTestHandler(t, m, "")

	rec := doRequest(t, h, http.MethodGet, "/api/v1/leaderboard?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Players []internal.LeaderboardEntry `json:"players"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []internal.LeaderboardEntry{{Name: "alice", Wins: 2}}, resp.Players)
}

// TestHandler_HealthAndStats 測試健康檢查與統計
func TestHandler_HealthAndStats(t *testing.T) {
	m, _ := newTestManager(t, longGame, scrambledBoard)
	hub := internal.NewWebSocketHub(m, internal.DefaultWebSocketConfig(), logger.Discard())
	t.Cleanup(hub.Stop)
	h := internal.NewHandler(m, hub, "", logger.Discard()).Routes()

	joinAll(t, m, "r1", "alice")

	rec := doRequest(t, h, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	rec = doRequest(t, h, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total_rooms"])
	assert.Equal(t, float64(1), body["total_players"])

	conns, ok := body["connections"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(0), conns["total"])
}

// TestHandler_MethodNotAllowed 測試房間狀態不能經由 HTTP 變更
func TestHandler_MethodNotAllowed(t *testing.T) {
	m, _ := newTestManager(t, longGame, scrambledBoard)
	h := newTestHandler(t, m, "")

	for _, path := range []string{"/api/v1/rooms", "/api/v1/rooms/r1"} {
		rec := doRequest(t, h, http.MethodPost, path)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
}
