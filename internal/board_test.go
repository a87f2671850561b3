package internal_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/puzzle-race/internal"
	apperr "github.com/koopa0/system-design/puzzle-race/pkg/errors"
)

// scrambledBoard 每一格都不在正確位置（0 分）
var scrambledBoard = internal.Board{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

// nearSolvedBoard 交換最後兩格即可解開（14 分）
var nearSolvedBoard = internal.Board{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 0, 15}

// cells 盤面的 slice 副本
func cells(b internal.Board) []int {
	return append([]int(nil), b[:]...)
}

// swapped 返回交換 i、j 後的候選盤面
func swapped(b internal.Board, i, j int) []int {
	out := cells(b)
	out[i], out[j] = out[j], out[i]
	return out
}

// TestGenerateBoard 測試隨機盤面為 0..15 的排列
func TestGenerateBoard(t *testing.T) {
	for range 200 {
		b := internal.GenerateBoard()
		require.True(t, b.IsPermutation(), "board %v is not a permutation", b)
	}
}

// TestBoard_Score 測試計分
func TestBoard_Score(t *testing.T) {
	tests := []struct {
		name  string
		board internal.Board
		want  int
	}{
		{name: "solved", board: internal.SolvedBoard(), want: internal.MaxScore},
		{name: "scrambled", board: scrambledBoard, want: 0},
		{name: "near solved", board: nearSolvedBoard, want: 14},
		{
			name:  "blank in first cell",
			board: internal.Board{0, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 1},
			want:  14,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.board.Score())
			assert.Equal(t, tt.want == internal.MaxScore, tt.board.IsSolved())
		})
	}
}

// TestBoard_IsPermutation 測試排列檢查
func TestBoard_IsPermutation(t *testing.T) {
	assert.True(t, internal.SolvedBoard().IsPermutation())
	assert.True(t, scrambledBoard.IsPermutation())

	dup := scrambledBoard
	dup[0] = 1
	assert.False(t, dup.IsPermutation())

	outOfRange := scrambledBoard
	outOfRange[3] = 16
	assert.False(t, outOfRange.IsPermutation())
}

// TestValidateMove 測試移動驗證
func TestValidateMove(t *testing.T) {
	tests := []struct {
		name      string
		candidate []int
		wantErr   error
	}{
		{
			name:      "adjacent swap with blank",
			candidate: swapped(scrambledBoard, 0, 1),
		},
		{
			name:      "non adjacent swap is accepted",
			candidate: swapped(scrambledBoard, 2, 13),
		},
		{
			name: "duplicate values are accepted when two cells differ",
			candidate: func() []int {
				c := cells(scrambledBoard)
				c[0], c[1] = 5, 5
				return c
			}(),
		},
		{
			name:      "identical board",
			candidate: cells(scrambledBoard),
			wantErr:   apperr.ErrIllegalMove,
		},
		{
			name: "four cells differ",
			candidate: func() []int {
				c := swapped(scrambledBoard, 0, 1)
				c[2], c[3] = c[3], c[2]
				return c
			}(),
			wantErr: apperr.ErrIllegalMove,
		},
		{
			name: "single cell differs",
			candidate: func() []int {
				c := cells(scrambledBoard)
				c[0] = 9
				return c
			}(),
			wantErr: apperr.ErrIllegalMove,
		},
		{
			name:      "too short",
			candidate: cells(scrambledBoard)[:15],
			wantErr:   apperr.ErrMalformedMove,
		},
		{
			name:      "too long",
			candidate: append(swapped(scrambledBoard, 0, 1), 0),
			wantErr:   apperr.ErrMalformedMove,
		},
		{
			name: "value out of range",
			candidate: func() []int {
				c := swapped(scrambledBoard, 0, 1)
				c[5] = 16
				return c
			}(),
			wantErr: apperr.ErrMalformedMove,
		},
		{
			name: "negative value",
			candidate: func() []int {
				c := swapped(scrambledBoard, 0, 1)
				c[5] = -1
				return c
			}(),
			wantErr: apperr.ErrMalformedMove,
		},
		{
			name:      "empty",
			candidate: nil,
			wantErr:   apperr.ErrMalformedMove,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := internal.ValidateMove(scrambledBoard, tt.candidate)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.candidate, next[:])
		})
	}
}

// TestParseBoard 測試盤面解碼
func TestParseBoard(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []int
		wantErr bool
	}{
		{name: "integers", raw: `[1,0,2,3,4,5,6,7,8,9,10,11,12,13,14,15]`, want: []int{1, 0, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}},
		{name: "length not checked here", raw: `[1,2]`, want: []int{1, 2}},
		{name: "empty array", raw: `[]`, want: []int{}},
		{name: "fraction", raw: `[1,2.5]`, wantErr: true},
		{name: "string element", raw: `[1,"2"]`, wantErr: true},
		{name: "bool element", raw: `[true]`, wantErr: true},
		{name: "null element", raw: `[null]`, wantErr: true},
		{name: "object", raw: `{"a":1}`, wantErr: true},
		{name: "null", raw: `null`, wantErr: true},
		{name: "missing", raw: ``, wantErr: true},
		{name: "huge number", raw: `[99999999999999999999]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := internal.ParseBoard(json.RawMessage(tt.raw))
			if tt.wantErr {
				require.ErrorIs(t, err, apperr.ErrMalformedMove)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
