package presence

import (
	"sync"
	"time"
)

// 短暂重连不立即判离线
const graceWindow = 30 * time.Second

// state 单个用户的在线状态
type state struct {
	online     bool
	lastSeenAt time.Time
	// 断线宽限定时器，宽限内重连则取消
	graceTimer *time.Timer
}

// Tracker 在线状态跟踪器
// 纯内存，进程重启即清空；IsOnline只读缓存，从不触发网络请求
type Tracker struct {
	mu     sync.Mutex
	states map[int64]*state
	grace  time.Duration
}

// NewTracker 创建在线状态跟踪器
func NewTracker() *Tracker {
	return &Tracker{
		states: make(map[int64]*state),
		grace:  graceWindow,
	}
}

// MarkOnline 标记用户上线，取消进行中的离线宽限
func (t *Tracker) MarkOnline(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[userID]
	if !ok {
		s = &state{}
		t.states[userID] = s
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.online = true
	s.lastSeenAt = time.Now()
}

// MarkDisconnected 连接断开，宽限期后转离线
// 宽限期内重新上线不会产生离线抖动
func (t *Tracker) MarkDisconnected(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[userID]
	if !ok {
		return
	}
	s.lastSeenAt = time.Now()
	if s.graceTimer != nil {
		return
	}
	s.graceTimer = time.AfterFunc(t.grace, func() {
		t.markOffline(userID)
	})
}

// markOffline 宽限到期落实离线
func (t *Tracker) markOffline(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[userID]
	if !ok {
		return
	}
	s.online = false
	s.graceTimer = nil
}

// SetOnline 目录刷新时同步他人在线状态
func (t *Tracker) SetOnline(userID int64, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[userID]
	if !ok {
		s = &state{}
		t.states[userID] = s
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.online = online
	s.lastSeenAt = time.Now()
}

// IsOnline 非阻塞查询在线状态，只答缓存
func (t *Tracker) IsOnline(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.states[userID]; ok {
		return s.online
	}
	return false
}

// LastSeen 最近一次活动时间
func (t *Tracker) LastSeen(userID int64) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.states[userID]; ok {
		return s.lastSeenAt, true
	}
	return time.Time{}, false
}
