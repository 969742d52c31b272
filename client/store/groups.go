package store

import (
	"sort"
	"sync"
	"time"

	"hr-messenger/client/model"
)

// GroupStore 当前用户所在群组与每群未读数
type GroupStore struct {
	mu sync.Mutex

	viewerID int64
	items    map[int64]*model.Group
	// 前台打开的群组，0表示无
	openGroup int64
}

// NewGroupStore 创建群组Store
func NewGroupStore(viewerID int64) *GroupStore {
	return &GroupStore{
		viewerID: viewerID,
		items:    make(map[int64]*model.Group),
	}
}

// ReplaceAll 用REST拉取结果整体替换
func (s *GroupStore) ReplaceAll(groups []*model.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[int64]*model.Group, len(groups))
	for _, g := range groups {
		copied := *g
		s.items[g.ID] = &copied
	}
}

// SetOpen 标记前台打开的群组（0表示关闭）
func (s *GroupStore) SetOpen(groupID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openGroup = groupID
}

// Open 当前前台群组
func (s *GroupStore) Open() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openGroup
}

// ApplyIncomingMessage 应用入站群消息
// 发送者本人不计未读；返回true表示命中前台群组，调用方应立即推进已读水位
func (s *GroupStore) ApplyIncomingMessage(msg *model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.items[msg.GroupID]
	if !ok {
		// 新群组在下次loadAll时出现，这里不凭事件造条目
		return false
	}

	g.LastMessageAt = time.Unix(msg.Timestamp, 0)

	if msg.From == s.viewerID {
		return false
	}
	if s.openGroup == msg.GroupID {
		return true
	}

	g.UnreadCount++
	return false
}

// MarkRead 本地未读清零
func (s *GroupStore) MarkRead(groupID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.items[groupID]; ok {
		g.UnreadCount = 0
	}
}

// UnreadCount 指定群组的未读数
func (s *GroupStore) UnreadCount(groupID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.items[groupID]; ok {
		return g.UnreadCount
	}
	return 0
}

// Get 指定群组快照
func (s *GroupStore) Get(groupID int64) (model.Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.items[groupID]; ok {
		return *g, true
	}
	return model.Group{}, false
}

// List 群组列表快照，最近活跃在前，未有活跃记录的按ID升序居后
func (s *GroupStore) List() []model.Group {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Group, 0, len(s.items))
	for _, g := range s.items {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
