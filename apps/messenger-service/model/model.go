package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 消息目标类型常量
const (
	TargetKindDirect = "direct"
	TargetKindGroup  = "group"
)

// 群组类型常量
const (
	GroupTypeTeamLead   = "team_lead"
	GroupTypeManagement = "management"
	GroupTypeAccounts   = "accounts"
	GroupTypeHR         = "hr"
	GroupTypeDepartment = "department"
	GroupTypeCustom     = "custom"
)

// 群成员角色常量
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// 消息状态常量
const (
	MessageStatusSent    = "sent"    // 已发送
	MessageStatusRevoked = "revoked" // 已撤回
)

// Conversation 单聊会话
// 以无序用户对(UserA, UserB)为键，约定UserA < UserB
type Conversation struct {
	ID                 int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserA              int64     `json:"user_a" gorm:"not null;uniqueIndex:idx_conv_pair,priority:1"`
	UserB              int64     `json:"user_b" gorm:"not null;uniqueIndex:idx_conv_pair,priority:2"`
	LastMessageID      int64     `json:"last_message_id"`
	LastMessagePreview string    `json:"last_message_preview" gorm:"type:varchar(200)"`
	LastMessageAt      time.Time `json:"last_message_at" gorm:"index"`
	CreatedAt          time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName .
func (Conversation) TableName() string {
	return "conversations"
}

// Group 群组
type Group struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name        string    `json:"name" gorm:"type:varchar(100);not null;index"`
	Description string    `json:"description" gorm:"type:text"`
	GroupType   string    `json:"group_type" gorm:"type:varchar(20);default:'custom'"`
	CreatedBy   int64     `json:"created_by" gorm:"not null;index"`
	MemberCount int32     `json:"member_count" gorm:"default:1"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName .
func (Group) TableName() string {
	return "groups"
}

// GroupMember 群成员
// 不变式：每个群至少保留一名admin
type GroupMember struct {
	ID       int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	GroupID  int64     `json:"group_id" gorm:"not null;uniqueIndex:idx_member_pair,priority:1"`
	UserID   int64     `json:"user_id" gorm:"not null;uniqueIndex:idx_member_pair,priority:2"`
	Role     string    `json:"role" gorm:"type:varchar(20);default:'member'"` // admin, member
	JoinedAt time.Time `json:"joined_at" gorm:"autoCreateTime"`
}

// TableName .
func (GroupMember) TableName() string {
	return "group_members"
}

// ReadState 已读水位
// LastReadMessageID单调递增，代表该用户在目标会话中确认读到的最大消息ID
type ReadState struct {
	ID                int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	TargetKind        string    `json:"target_kind" gorm:"type:varchar(10);not null;uniqueIndex:idx_read_state,priority:1"`
	TargetID          int64     `json:"target_id" gorm:"not null;uniqueIndex:idx_read_state,priority:2"`
	UserID            int64     `json:"user_id" gorm:"not null;uniqueIndex:idx_read_state,priority:3"`
	LastReadMessageID int64     `json:"last_read_message_id" gorm:"not null;default:0"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName .
func (ReadState) TableName() string {
	return "read_states"
}

// User 员工目录条目（身份子系统维护，这里只读）
type User struct {
	ID    int64  `json:"id" gorm:"primaryKey"`
	Name  string `json:"name" gorm:"type:varchar(100)"`
	Photo string `json:"photo" gorm:"type:varchar(500)"`
}

// TableName .
func (User) TableName() string {
	return "users"
}

// Message 消息（MongoDB存储）
// MessageID由snowflake分配，随时间单调递增，同一会话内即为显示顺序
type Message struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	MessageID   int64              `bson:"message_id" json:"message_id"`
	From        int64              `bson:"from" json:"from"`
	To          int64              `bson:"to" json:"to"`
	GroupID     int64              `bson:"group_id" json:"group_id"`
	Content     string             `bson:"content" json:"content"`
	MessageType int32              `bson:"message_type" json:"message_type"`
	ClientNonce string             `bson:"client_nonce" json:"client_nonce"` // 客户端幂等token
	Status      string             `bson:"status" json:"status"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
}

// TargetKind 返回消息目标类型
func (m *Message) TargetKind() string {
	if m.GroupID > 0 {
		return TargetKindGroup
	}
	return TargetKindDirect
}

// ==================== Kafka事件模型 ====================

// 事件类型常量
const (
	EventTypeNewMessage      = "new_message"
	EventTypeNewGroupMessage = "new_group_message"
	EventTypeReadReceipt     = "read_receipt"
)

// MessageEventTopic 消息事件topic
const MessageEventTopic = "message-events"

// MessageEvent 消息事件信封
type MessageEvent struct {
	Type      string        `json:"type"`
	Message   *EventMessage `json:"message,omitempty"`
	Receipt   *EventReceipt `json:"receipt,omitempty"`
	MemberIDs []int64       `json:"member_ids,omitempty"` // 群消息发送时刻的成员快照
}

// EventMessage 事件中的消息体
type EventMessage struct {
	MessageID   int64  `json:"message_id"`
	From        int64  `json:"from"`
	To          int64  `json:"to"`
	GroupID     int64  `json:"group_id"`
	Content     string `json:"content"`
	MessageType int32  `json:"message_type"`
	ClientNonce string `json:"client_nonce"`
	Timestamp   int64  `json:"timestamp"`
}

// EventReceipt 事件中的已读回执
type EventReceipt struct {
	TargetKind string `json:"target_kind"`
	TargetID   int64  `json:"target_id"`
	ReaderID   int64  `json:"reader_id"`
	MessageID  int64  `json:"message_id"`
	ReadAt     int64  `json:"read_at"`
}

// ==================== REST请求/响应模型 ====================

// SendMessageRequest 发送单聊消息
type SendMessageRequest struct {
	ReceiverID  int64  `json:"receiver_id" binding:"required"`
	Message     string `json:"message"`
	MessageType int32  `json:"message_type"`
	ClientNonce string `json:"client_nonce"`
}

// SendGroupMessageRequest 发送群消息
type SendGroupMessageRequest struct {
	Message     string `json:"message"`
	ClientNonce string `json:"client_nonce"`
}

// CreateGroupRequest 创建群组
type CreateGroupRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	GroupType   string  `json:"group_type"`
	MemberIDs   []int64 `json:"member_ids"`
}

// AddMemberRequest 添加群成员
type AddMemberRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Role   string `json:"role"`
}

// MarkReadRequest 已读水位上报
type MarkReadRequest struct {
	TargetKind string `json:"target_kind" binding:"required"`
	TargetID   int64  `json:"target_id" binding:"required"`
	MessageID  int64  `json:"message_id" binding:"required"`
}

// ConversationView 会话列表条目
type ConversationView struct {
	UserID          int64  `json:"user_id"`
	UserName        string `json:"user_name"`
	UserPhoto       string `json:"user_photo"`
	LastMessage     string `json:"last_message"`
	LastMessageTime string `json:"last_message_time"`
	UnreadCount     int64  `json:"unread_count"`
}

// GroupView 群组列表条目
type GroupView struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	GroupType     string `json:"group_type"`
	MemberCount   int32  `json:"member_count"`
	UnreadCount   int64  `json:"unread_count"`
	UserRole      string `json:"user_role"`
	CreatedByName string `json:"created_by_name"`
}

// UserView 员工目录条目
type UserView struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Photo  string `json:"photo"`
	Online bool   `json:"online"`
}

// MessageView 消息条目
type MessageView struct {
	MessageID   int64  `json:"message_id"`
	From        int64  `json:"from"`
	To          int64  `json:"to"`
	GroupID     int64  `json:"group_id"`
	Content     string `json:"content"`
	MessageType int32  `json:"message_type"`
	ClientNonce string `json:"client_nonce"`
	CreatedAt   string `json:"created_at"`
}
