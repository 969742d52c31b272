package dao

import (
	"context"

	"hr-messenger/apps/messenger-service/model"
)

// MessengerDAO 会话/群组/已读水位数据访问接口（PostgreSQL）
type MessengerDAO interface {
	// 会话
	GetOrCreateConversation(ctx context.Context, userA, userB int64) (*model.Conversation, error)
	TouchConversation(ctx context.Context, convID, messageID int64, preview string) error
	ListConversations(ctx context.Context, userID int64) ([]*model.Conversation, error)

	// 群组
	CreateGroup(ctx context.Context, group *model.Group, memberIDs []int64) error
	GetGroup(ctx context.Context, groupID int64) (*model.Group, error)
	ListUserGroups(ctx context.Context, userID int64) ([]*model.Group, error)
	GetMember(ctx context.Context, groupID, userID int64) (*model.GroupMember, error)
	GetGroupMembers(ctx context.Context, groupID int64) ([]*model.GroupMember, error)
	AddMember(ctx context.Context, member *model.GroupMember) error
	RemoveMember(ctx context.Context, groupID, userID int64) error
	CountAdmins(ctx context.Context, groupID int64) (int64, error)

	// 已读水位
	GetReadState(ctx context.Context, targetKind string, targetID, userID int64) (int64, error)
	AdvanceReadState(ctx context.Context, targetKind string, targetID, userID, messageID int64) (bool, error)

	// 员工目录
	ListUsers(ctx context.Context) ([]*model.User, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
}

// MessageDAO 消息数据访问接口（MongoDB）
type MessageDAO interface {
	SaveMessage(ctx context.Context, msg *model.Message) error
	FindByNonce(ctx context.Context, senderID int64, nonce string) (*model.Message, error)
	DirectHistory(ctx context.Context, userA, userB int64, limit int64) ([]*model.Message, error)
	GroupHistory(ctx context.Context, groupID int64, limit int64) ([]*model.Message, error)
	CountDirectUnread(ctx context.Context, viewerID, otherID, watermark int64) (int64, error)
	CountGroupUnread(ctx context.Context, groupID, viewerID, watermark int64) (int64, error)
}
