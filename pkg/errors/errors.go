// Package errors 提供應用程式錯誤處理
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeInvalidName 玩家名稱為空
	ErrCodeInvalidName = "INVALID_NAME"
	// ErrCodeDuplicatePlayer 房間內名稱重複
	ErrCodeDuplicatePlayer = "DUPLICATE_PLAYER"
	// ErrCodeGameInProgress 遊戲進行中，不接受加入
	ErrCodeGameInProgress = "GAME_IN_PROGRESS"
	// ErrCodeMalformedMove 棋盤格式錯誤（長度、型別、範圍）
	ErrCodeMalformedMove = "MALFORMED_MOVE"
	// ErrCodeIllegalMove 與前一盤面的差異位置數不為 2
	ErrCodeIllegalMove = "ILLEGAL_MOVE"
	// ErrCodeUnknownRoom 房間不存在
	ErrCodeUnknownRoom = "UNKNOWN_ROOM"
	// ErrCodeUnknownPlayer 玩家不在房間內
	ErrCodeUnknownPlayer = "UNKNOWN_PLAYER"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is，以錯誤碼比對
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 返回帶詳細資訊的副本（預定義錯誤是共用的，不可就地修改）
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
//
// 訊息沿用前端既有的顯示字串。
var (
	ErrInvalidName     = New(ErrCodeInvalidName, "Invalid player name")
	ErrDuplicatePlayer = New(ErrCodeDuplicatePlayer, "Duplicate player name")
	ErrGameInProgress  = New(ErrCodeGameInProgress, "Game already in progress")
	ErrMalformedMove   = New(ErrCodeMalformedMove, "Malformed board")
	ErrIllegalMove     = New(ErrCodeIllegalMove, "Illegal move")
	ErrUnknownRoom     = New(ErrCodeUnknownRoom, "Game room not found")
	ErrUnknownPlayer   = New(ErrCodeUnknownPlayer, "Player not found in room")
	ErrUnavailable     = New(ErrCodeUnavailable, "Server is shutting down")
)

// CodeOf 取出錯誤碼，非 AppError 時返回 INTERNAL_ERROR
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// MessageOf 取出可顯示給客戶端的訊息
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Internal error"
}

// IsUnknownRoom 檢查是否為房間不存在錯誤
func IsUnknownRoom(err error) bool {
	return CodeOf(err) == ErrCodeUnknownRoom
}

// IsUnknownPlayer 檢查是否為玩家不存在錯誤
func IsUnknownPlayer(err error) bool {
	return CodeOf(err) == ErrCodeUnknownPlayer
}

// IsMoveRejected 檢查是否為被拒絕的移動（格式錯誤或不合法）
func IsMoveRejected(err error) bool {
	code := CodeOf(err)
	return code == ErrCodeMalformedMove || code == ErrCodeIllegalMove
}

// IsJoinRejected 檢查是否為加入房間的驗證錯誤
func IsJoinRejected(err error) bool {
	switch CodeOf(err) {
	case ErrCodeInvalidName, ErrCodeDuplicatePlayer, ErrCodeGameInProgress:
		return true
	}
	return false
}
