package testutils

import (
	"slices"
	"sync"
	"time"

	"github.com/koopa0/system-design/puzzle-race/internal"
)

// RecordingBroadcaster 記錄所有投遞的事件，可併發使用
type RecordingBroadcaster struct {
	mu     sync.Mutex
	events map[string][]internal.Event // roomID -> 事件（依投遞順序）
	subs   map[string][]string         // roomID -> transportID
}

// NewRecordingBroadcaster 建立事件記錄器
func NewRecordingBroadcaster() *RecordingBroadcaster {
	return &RecordingBroadcaster{
		events: make(map[string][]internal.Event),
		subs:   make(map[string][]string),
	}
}

// Subscribe 記錄訂閱
func (b *RecordingBroadcaster) Subscribe(roomID, transportID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[roomID] = append(b.subs[roomID], transportID)
}

// Broadcast 記錄事件
func (b *RecordingBroadcaster) Broadcast(roomID string, event internal.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[roomID] = append(b.events[roomID], event)
}

// Events 房間收到的事件副本
func (b *RecordingBroadcaster) Events(roomID string) []internal.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.events[roomID])
}

// Types 房間收到的事件類型序列
func (b *RecordingBroadcaster) Types(roomID string) []internal.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()

	types := make([]internal.EventType, 0, len(b.events[roomID]))
	for _, e := range b.events[roomID] {
		types = append(types, e.Type)
	}
	return types
}

// Count 某類型事件的數量
func (b *RecordingBroadcaster) Count(roomID string, typ internal.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, e := range b.events[roomID] {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// Last 某類型的最後一個事件
func (b *RecordingBroadcaster) Last(roomID string, typ internal.EventType) (internal.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.events[roomID]
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == typ {
			return events[i], true
		}
	}
	return internal.Event{}, false
}

// Subscribers 房間的訂閱者
func (b *RecordingBroadcaster) Subscribers(roomID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.subs[roomID])
}

// WaitFor 等待某類型事件達到指定數量
func (b *RecordingBroadcaster) WaitFor(roomID string, typ internal.EventType, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if b.Count(roomID, typ) >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return b.Count(roomID, typ) >= n
}
