package store

import (
	"sort"
	"sync"
	"time"

	"hr-messenger/client/model"
)

// ConversationStore 当前用户可见的单聊会话列表
// 列表始终按最近活跃倒序，相同活跃时间按对端ID升序保证确定性
type ConversationStore struct {
	mu sync.Mutex

	viewerID int64
	items    map[int64]*model.Conversation
	// 前台打开的会话对端，0表示无
	openTarget int64
}

// NewConversationStore 创建会话Store
func NewConversationStore(viewerID int64) *ConversationStore {
	return &ConversationStore{
		viewerID: viewerID,
		items:    make(map[int64]*model.Conversation),
	}
}

// ReplaceAll 用REST拉取结果整体替换
func (s *ConversationStore) ReplaceAll(convs []*model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[int64]*model.Conversation, len(convs))
	for _, conv := range convs {
		copied := *conv
		s.items[conv.UserID] = &copied
	}
}

// SetOpen 标记前台打开的会话（0表示关闭）
func (s *ConversationStore) SetOpen(targetID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openTarget = targetID
}

// Open 当前前台会话对端
func (s *ConversationStore) Open() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openTarget
}

// ApplyIncomingMessage 应用入站消息
// 更新预览与活跃时间；会话不在前台且非本人发送时未读数+1。
// 返回true表示消息命中前台会话，调用方应立即推进已读水位
func (s *ConversationStore) ApplyIncomingMessage(msg *model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	targetID := msg.TargetID(s.viewerID)
	conv, ok := s.items[targetID]
	if !ok {
		conv = &model.Conversation{UserID: targetID}
		s.items[targetID] = conv
	}

	conv.LastMessage = msg.Content
	conv.LastMessageAt = time.Unix(msg.Timestamp, 0)
	conv.LastMessageTime = conv.LastMessageAt.UTC().Format(time.RFC3339)

	if msg.From == s.viewerID {
		return false
	}
	if s.openTarget == targetID {
		return true
	}

	conv.UnreadCount++
	return false
}

// MarkRead 本地未读清零
// 水位上报由ReadReceiptTracker负责，这里只处理展示状态
func (s *ConversationStore) MarkRead(targetID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.items[targetID]; ok {
		conv.UnreadCount = 0
	}
}

// UnreadCount 指定会话的未读数
func (s *ConversationStore) UnreadCount(targetID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.items[targetID]; ok {
		return conv.UnreadCount
	}
	return 0
}

// List 会话列表快照，最近活跃在前
func (s *ConversationStore) List() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Conversation, 0, len(s.items))
	for _, conv := range s.items {
		out = append(out, *conv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
