package internal

import (
	"bytes"
	"encoding/json"
	"math/rand/v2"

	apperr "github.com/koopa0/system-design/puzzle-race/pkg/errors"
)

const (
	// BoardSize 4x4 盤面的格數
	BoardSize = 16
	// MaxScore 解開時的正確格數（空格不計分）
	MaxScore = BoardSize - 1
)

// Board 一局拼圖的盤面，0 代表空格
//
// 使用陣列而非 slice：賦值即複製，每位玩家拿到的都是獨立的副本。
type Board [BoardSize]int

// GenerateBoard 產生 0..15 的均勻隨機排列
//
// 不過濾可解性：同一房間的玩家共用同一模板，影響對所有人相同。
func GenerateBoard() Board {
	var b Board
	copy(b[:], rand.Perm(BoardSize))
	return b
}

// SolvedBoard 返回已解開的盤面
func SolvedBoard() Board {
	var b Board
	for i := 0; i < BoardSize-1; i++ {
		b[i] = i + 1
	}
	return b
}

// Score 計算位置正確的方塊數
//
// 索引 i 上的值等於 i+1 才算正確，最後一格的正確值為 16，永遠不會出現，
// 所以空格不計分，最高 15 分。
func (b Board) Score() int {
	correct := 0
	for i, tile := range b {
		if tile == i+1 {
			correct++
		}
	}
	return correct
}

// IsSolved 檢查是否已解開
func (b Board) IsSolved() bool {
	return b.Score() == MaxScore
}

// IsPermutation 檢查盤面是否為 0..15 的排列
func (b Board) IsPermutation() bool {
	var seen [BoardSize]bool
	for _, tile := range b {
		if tile < 0 || tile >= BoardSize || seen[tile] {
			return false
		}
		seen[tile] = true
	}
	return true
}

// ValidateMove 驗證候選盤面是否為一次合法的移動
//
// 規則：
//   - 長度必須為 16，每個值在 0..15 之間（否則 MALFORMED_MOVE）
//   - 與舊盤面恰好有 2 個位置不同（否則 ILLEGAL_MOVE）
//
// 只是「滑動一格」的結構近似：不檢查兩個位置是否相鄰、其中之一是否為空格，
// 也不檢查候選盤面本身是否為排列。
func ValidateMove(old Board, candidate []int) (Board, error) {
	var next Board
	if len(candidate) != BoardSize {
		return next, apperr.ErrMalformedMove
	}

	diff := 0
	for i, tile := range candidate {
		if tile < 0 || tile >= BoardSize {
			return next, apperr.ErrMalformedMove
		}
		if old[i] != tile {
			diff++
		}
		next[i] = tile
	}

	if diff != 2 {
		return next, apperr.ErrIllegalMove
	}

	return next, nil
}

// ParseBoard 解碼客戶端送來的盤面
//
// 接受任意 JSON，非陣列、非整數（包含 3.5、"3"、true）都視為 MALFORMED_MOVE。
// 範圍與長度檢查留給 ValidateMove。
func ParseBoard(raw json.RawMessage) ([]int, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var elems []any
	if err := dec.Decode(&elems); err != nil || elems == nil {
		return nil, apperr.ErrMalformedMove
	}

	out := make([]int, 0, len(elems))
	for _, e := range elems {
		n, ok := e.(json.Number)
		if !ok {
			return nil, apperr.ErrMalformedMove
		}
		v, err := n.Int64()
		if err != nil || v < -1<<31 || v > 1<<31-1 {
			return nil, apperr.ErrMalformedMove
		}
		out = append(out, int(v))
	}

	return out, nil
}
