package store

import (
	"sort"
	"sync"

	"hr-messenger/client/model"
)

// Status 本地日志条目状态
type Status string

const (
	// StatusPending 乐观追加，尚未获得服务端确认
	StatusPending Status = "pending"
	// StatusConfirmed 服务端已确认（REST响应或实时回声，先到者生效）
	StatusConfirmed Status = "confirmed"
	// StatusFailed 持久化失败，保留可重试，不静默丢弃
	StatusFailed Status = "failed"
)

// Entry 日志条目
type Entry struct {
	Message model.Message
	Status  Status
	// Read 对端已读（入站水位 >= 本条ID）
	Read bool
}

// MessageLog 单个会话/群组的有序消息日志
// 已确认消息按服务端ID全序排列，与事件到达顺序无关；
// 乐观/失败条目按追加顺序排在已确认消息之后
type MessageLog struct {
	mu sync.Mutex

	confirmed []*Entry
	local     []*Entry

	byID    map[int64]*Entry
	byNonce map[string]*Entry
}

// NewMessageLog 创建消息日志
func NewMessageLog() *MessageLog {
	return &MessageLog{
		byID:    make(map[int64]*Entry),
		byNonce: make(map[string]*Entry),
	}
}

// LoadHistory 用REST历史整体替换本地状态
// 会话切换和重连补缺口时调用：实时事件只是刷新提示，历史才是事实
func (l *MessageLog) LoadHistory(msgs []*model.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.confirmed = l.confirmed[:0]
	l.local = l.local[:0]
	l.byID = make(map[int64]*Entry)
	l.byNonce = make(map[string]*Entry)

	for _, msg := range msgs {
		if _, ok := l.byID[msg.ID]; ok {
			continue
		}
		entry := &Entry{Message: *msg, Status: StatusConfirmed}
		l.confirmed = append(l.confirmed, entry)
		l.byID[msg.ID] = entry
		if msg.ClientNonce != "" {
			l.byNonce[msg.ClientNonce] = entry
		}
	}

	sort.Slice(l.confirmed, func(i, j int) bool {
		return l.confirmed[i].Message.ID < l.confirmed[j].Message.ID
	})
}

// AppendLive 追加实时到达的消息
// 重复ID是no-op；nonce命中未确认条目时就地提升为confirmed，不产生第二条
func (l *MessageLog) AppendLive(msg *model.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byID[msg.ID]; ok {
		return
	}

	if msg.ClientNonce != "" {
		if entry, ok := l.byNonce[msg.ClientNonce]; ok {
			l.promote(entry, msg)
			return
		}
	}

	l.insertConfirmed(&Entry{Message: *msg, Status: StatusConfirmed})
}

// AppendOptimistic 乐观追加待确认消息
func (l *MessageLog) AppendOptimistic(msg *model.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byNonce[msg.ClientNonce]; ok {
		return
	}

	entry := &Entry{Message: *msg, Status: StatusPending}
	l.local = append(l.local, entry)
	l.byNonce[msg.ClientNonce] = entry
}

// Confirm 用服务端响应确认乐观条目
// REST响应与实时回声谁先到谁完成提升，后到者是no-op
func (l *MessageLog) Confirm(nonce string, msg *model.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byNonce[nonce]
	if !ok {
		if _, dup := l.byID[msg.ID]; dup {
			return
		}
		l.insertConfirmed(&Entry{Message: *msg, Status: StatusConfirmed})
		return
	}
	if entry.Status == StatusConfirmed {
		return
	}
	l.promote(entry, msg)
}

// Fail 标记乐观条目发送失败
// 回声已先行确认时是no-op；失败条目保留在列表中等待重试
func (l *MessageLog) Fail(nonce string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byNonce[nonce]
	if !ok || entry.Status == StatusConfirmed {
		return
	}
	entry.Status = StatusFailed
}

// Drop 移除本地条目（失败重试用新nonce取代旧条目）
func (l *MessageLog) Drop(nonce string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byNonce[nonce]
	if !ok || entry.Status == StatusConfirmed {
		return
	}
	delete(l.byNonce, nonce)
	for i, e := range l.local {
		if e == entry {
			l.local = append(l.local[:i], l.local[i+1:]...)
			return
		}
	}
}

// ApplyReadWatermark 应用对端已读水位
// senderID为本方时标记 id<=watermark 的消息为已读
func (l *MessageLog) ApplyReadWatermark(senderID, watermark int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.confirmed {
		if entry.Message.ID > watermark {
			break
		}
		if entry.Message.From == senderID {
			entry.Read = true
		}
	}
}

// MaxID 当前最大已确认消息ID，无消息时为0
func (l *MessageLog) MaxID() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.confirmed) == 0 {
		return 0
	}
	return l.confirmed[len(l.confirmed)-1].Message.ID
}

// Entries 日志快照：已确认消息按ID升序，未确认条目按追加顺序居后
func (l *MessageLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.confirmed)+len(l.local))
	for _, e := range l.confirmed {
		out = append(out, *e)
	}
	for _, e := range l.local {
		out = append(out, *e)
	}
	return out
}

// promote 未确认条目就地提升为confirmed，并移入有序区
func (l *MessageLog) promote(entry *Entry, msg *model.Message) {
	entry.Message = *msg
	entry.Status = StatusConfirmed

	for i, e := range l.local {
		if e == entry {
			l.local = append(l.local[:i], l.local[i+1:]...)
			break
		}
	}

	l.insertAt(entry)
	l.byID[msg.ID] = entry
}

// insertConfirmed 插入新的已确认条目
func (l *MessageLog) insertConfirmed(entry *Entry) {
	l.insertAt(entry)
	l.byID[entry.Message.ID] = entry
	if entry.Message.ClientNonce != "" {
		l.byNonce[entry.Message.ClientNonce] = entry
	}
}

// insertAt 按ID定位插入，保持全序
func (l *MessageLog) insertAt(entry *Entry) {
	pos := sort.Search(len(l.confirmed), func(i int) bool {
		return l.confirmed[i].Message.ID > entry.Message.ID
	})
	l.confirmed = append(l.confirmed, nil)
	copy(l.confirmed[pos+1:], l.confirmed[pos:])
	l.confirmed[pos] = entry
}
