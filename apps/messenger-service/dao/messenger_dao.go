package dao

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hr-messenger/apps/messenger-service/model"
	"hr-messenger/pkg/database"
)

// messengerDAO .
type messengerDAO struct {
	db *database.PostgreSQL
}

// NewMessengerDAO 创建Messenger DAO
func NewMessengerDAO(db *database.PostgreSQL) MessengerDAO {
	return &messengerDAO{db: db}
}

// normalizePair 规范化无序用户对，约定UserA < UserB
func normalizePair(userA, userB int64) (int64, int64) {
	if userA > userB {
		return userB, userA
	}
	return userA, userB
}

// GetOrCreateConversation 获取或隐式创建会话
func (d *messengerDAO) GetOrCreateConversation(ctx context.Context, userA, userB int64) (*model.Conversation, error) {
	a, b := normalizePair(userA, userB)

	var conv model.Conversation
	db := d.db.GetDB()
	err := db.WithContext(ctx).Where("user_a = ? AND user_b = ?", a, b).First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to get conversation: %v", err)
	}

	conv = model.Conversation{UserA: a, UserB: b}
	// 并发首条消息时用唯一索引兜底
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %v", err)
	}
	if conv.ID == 0 {
		if err := db.WithContext(ctx).Where("user_a = ? AND user_b = ?", a, b).First(&conv).Error; err != nil {
			return nil, fmt.Errorf("failed to reload conversation: %v", err)
		}
	}
	return &conv, nil
}

// TouchConversation 更新会话的最近消息预览
func (d *messengerDAO) TouchConversation(ctx context.Context, convID, messageID int64, preview string) error {
	db := d.db.GetDB()
	if err := db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND last_message_id < ?", convID, messageID).
		Updates(map[string]interface{}{
			"last_message_id":      messageID,
			"last_message_preview": preview,
			"last_message_at":      gorm.Expr("NOW()"),
		}).Error; err != nil {
		return fmt.Errorf("failed to touch conversation: %v", err)
	}
	return nil
}

// ListConversations 获取用户的所有会话，按最近活跃时间倒序
func (d *messengerDAO) ListConversations(ctx context.Context, userID int64) ([]*model.Conversation, error) {
	var convs []*model.Conversation
	db := d.db.GetDB()
	if err := db.WithContext(ctx).
		Where("user_a = ? OR user_b = ?", userID, userID).
		Order("last_message_at DESC").
		Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %v", err)
	}
	return convs, nil
}

// CreateGroup 创建群组及初始成员（事务）
func (d *messengerDAO) CreateGroup(ctx context.Context, group *model.Group, memberIDs []int64) error {
	db := d.db.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return fmt.Errorf("failed to create group: %v", err)
		}

		members := []*model.GroupMember{
			{GroupID: group.ID, UserID: group.CreatedBy, Role: model.RoleAdmin},
		}
		for _, uid := range memberIDs {
			if uid == group.CreatedBy {
				continue
			}
			members = append(members, &model.GroupMember{GroupID: group.ID, UserID: uid, Role: model.RoleMember})
		}

		if err := tx.Create(&members).Error; err != nil {
			return fmt.Errorf("failed to create group members: %v", err)
		}

		return tx.Model(group).Update("member_count", len(members)).Error
	})
}

// GetGroup 获取群组信息
func (d *messengerDAO) GetGroup(ctx context.Context, groupID int64) (*model.Group, error) {
	var group model.Group
	db := d.db.GetDB()
	if err := db.WithContext(ctx).First(&group, groupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("group not found")
		}
		return nil, fmt.Errorf("failed to get group: %v", err)
	}
	return &group, nil
}

// ListUserGroups 获取用户加入的群组列表
func (d *messengerDAO) ListUserGroups(ctx context.Context, userID int64) ([]*model.Group, error) {
	var groups []*model.Group
	db := d.db.GetDB()
	if err := db.WithContext(ctx).Model(&model.Group{}).
		Joins("JOIN group_members ON groups.id = group_members.group_id").
		Where("group_members.user_id = ?", userID).
		Order("groups.updated_at DESC").
		Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("failed to list user groups: %v", err)
	}
	return groups, nil
}

// GetMember 获取群成员信息
func (d *messengerDAO) GetMember(ctx context.Context, groupID, userID int64) (*model.GroupMember, error) {
	var member model.GroupMember
	db := d.db.GetDB()
	if err := db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, userID).
		First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("member not found")
		}
		return nil, fmt.Errorf("failed to get member: %v", err)
	}
	return &member, nil
}

// GetGroupMembers 获取群成员列表
func (d *messengerDAO) GetGroupMembers(ctx context.Context, groupID int64) ([]*model.GroupMember, error) {
	var members []*model.GroupMember
	db := d.db.GetDB()
	if err := db.WithContext(ctx).Where("group_id = ?", groupID).Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to get group members: %v", err)
	}
	return members, nil
}

// AddMember 添加群成员
func (d *messengerDAO) AddMember(ctx context.Context, member *model.GroupMember) error {
	db := d.db.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(member).Error; err != nil {
			return fmt.Errorf("failed to add member: %v", err)
		}
		return tx.Model(&model.Group{}).Where("id = ?", member.GroupID).
			Update("member_count", gorm.Expr("member_count + 1")).Error
	})
}

// RemoveMember 移除群成员
func (d *messengerDAO) RemoveMember(ctx context.Context, groupID, userID int64) error {
	db := d.db.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("group_id = ? AND user_id = ?", groupID, userID).
			Delete(&model.GroupMember{})
		if result.Error != nil {
			return fmt.Errorf("failed to remove member: %v", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("member not found")
		}
		return tx.Model(&model.Group{}).Where("id = ?", groupID).
			Update("member_count", gorm.Expr("member_count - 1")).Error
	})
}

// CountAdmins 统计群组的admin数量
func (d *messengerDAO) CountAdmins(ctx context.Context, groupID int64) (int64, error) {
	var count int64
	db := d.db.GetDB()
	if err := db.WithContext(ctx).Model(&model.GroupMember{}).
		Where("group_id = ? AND role = ?", groupID, model.RoleAdmin).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count admins: %v", err)
	}
	return count, nil
}

// GetReadState 获取已读水位，无记录时返回0
func (d *messengerDAO) GetReadState(ctx context.Context, targetKind string, targetID, userID int64) (int64, error) {
	var state model.ReadState
	db := d.db.GetDB()
	err := db.WithContext(ctx).
		Where("target_kind = ? AND target_id = ? AND user_id = ?", targetKind, targetID, userID).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get read state: %v", err)
	}
	return state.LastReadMessageID, nil
}

// AdvanceReadState 单调推进已读水位
// 旧水位（messageID不大于已记录值）是no-op，返回false
func (d *messengerDAO) AdvanceReadState(ctx context.Context, targetKind string, targetID, userID, messageID int64) (bool, error) {
	db := d.db.GetDB()

	result := db.WithContext(ctx).Model(&model.ReadState{}).
		Where("target_kind = ? AND target_id = ? AND user_id = ? AND last_read_message_id < ?",
			targetKind, targetID, userID, messageID).
		Update("last_read_message_id", messageID)
	if result.Error != nil {
		return false, fmt.Errorf("failed to advance read state: %v", result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// 无行更新：要么水位没有前进，要么还没有记录
	state := model.ReadState{
		TargetKind:        targetKind,
		TargetID:          targetID,
		UserID:            userID,
		LastReadMessageID: messageID,
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&state).Error
	if err != nil {
		return false, fmt.Errorf("failed to create read state: %v", err)
	}
	return state.ID != 0, nil
}

// ListUsers 获取员工目录
func (d *messengerDAO) ListUsers(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	db := d.db.GetDB()
	if err := db.WithContext(ctx).Order("name").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %v", err)
	}
	return users, nil
}

// GetUser 获取员工信息
func (d *messengerDAO) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	var user model.User
	db := d.db.GetDB()
	if err := db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to get user: %v", err)
	}
	return &user, nil
}
