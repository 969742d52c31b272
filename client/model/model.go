package model

import "time"

// 目标类别
const (
	TargetKindDirect = "direct"
	TargetKindGroup  = "group"
)

// 事件名（与网关下行帧一致）
const (
	EventNewMessage      = "new_message"
	EventNewGroupMessage = "new_group_message"
	EventReadReceipt     = "read_receipt"
	EventPresence        = "presence"
)

// broadcast频道名（上下线通知）
const ChannelBroadcast = "broadcast"

// Message 消息（客户端视图）
// ID由服务端分配且随时间单调递增，同一会话内即为显示顺序
type Message struct {
	ID          int64  `json:"message_id"`
	From        int64  `json:"from"`
	To          int64  `json:"to"`
	GroupID     int64  `json:"group_id"`
	Content     string `json:"content"`
	MessageType int32  `json:"message_type"`
	ClientNonce string `json:"client_nonce"`
	Timestamp   int64  `json:"timestamp"`
}

// TargetKind 消息目标类别
func (m *Message) TargetKind() string {
	if m.GroupID > 0 {
		return TargetKindGroup
	}
	return TargetKindDirect
}

// TargetID 消息归属的会话目标（viewer视角：单聊取对端）
func (m *Message) TargetID(viewerID int64) int64 {
	if m.GroupID > 0 {
		return m.GroupID
	}
	if m.From == viewerID {
		return m.To
	}
	return m.From
}

// Presence 上下线通知
type Presence struct {
	UserID int64 `json:"user_id"`
	Online bool  `json:"online"`
}

// Receipt 已读回执（水位）
type Receipt struct {
	TargetKind string `json:"target_kind"`
	TargetID   int64  `json:"target_id"`
	ReaderID   int64  `json:"reader_id"`
	MessageID  int64  `json:"message_id"`
	ReadAt     int64  `json:"read_at"`
}

// Conversation 单聊会话条目
type Conversation struct {
	UserID          int64     `json:"user_id"`
	UserName        string    `json:"user_name"`
	UserPhoto       string    `json:"user_photo"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime string    `json:"last_message_time"`
	UnreadCount     int64     `json:"unread_count"`
	LastMessageAt   time.Time `json:"-"`
}

// Group 群组条目
type Group struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	GroupType     string    `json:"group_type"`
	MemberCount   int32     `json:"member_count"`
	UnreadCount   int64     `json:"unread_count"`
	UserRole      string    `json:"user_role"`
	CreatedByName string    `json:"created_by_name"`
	LastMessageAt time.Time `json:"-"`
}

// User 员工目录条目
type User struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Photo  string `json:"photo"`
	Online bool   `json:"online"`
}
